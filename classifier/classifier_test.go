package classifier

import (
	"fmt"
	"math/rand/v2"
	"net/netip"
	"testing"
	"time"

	"github.com/semihalev/dnswatch/correlator"
	"github.com/semihalev/dnswatch/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func packetTx(name string, pairs ...string) correlator.Transaction {
	tx := correlator.Transaction{Key: correlator.Key{Name: name}, Backend: event.Packet, State: correlator.Finalized}
	for i := 0; i+1 < len(pairs); i += 2 {
		tx.Responses = append(tx.Responses, correlator.Response{
			Answer:    pairs[i],
			HasAnswer: true,
			Source:    netip.MustParseAddr(pairs[i+1]),
			Time:      base.Add(time.Duration(i) * time.Millisecond),
			Seq:       uint64(i + 1), //nolint:gosec // test values
		})
	}
	if len(tx.Responses) > 0 {
		tx.FirstSeen = tx.Responses[0].Time
		tx.LastSeen = tx.Responses[len(tx.Responses)-1].Time
	}
	return tx
}

func textTx(name string, n int) correlator.Transaction {
	tx := correlator.Transaction{Key: correlator.Key{Name: name}, Backend: event.Text, State: correlator.Finalized}
	for i := 0; i < n; i++ {
		tx.Responses = append(tx.Responses, correlator.Response{Time: base, Seq: uint64(i + 1)}) //nolint:gosec // test values
	}
	return tx
}

func newClassifier(t *testing.T, nets ...string) *Classifier {
	t.Helper()
	c, err := New(Options{TrustedNets: nets})
	require.NoError(t, err)
	return c
}

func TestClassify_Conflicting(t *testing.T) {
	c := newClassifier(t)

	a, ok := c.Classify(packetTx("www.example.com", "10.0.1.20", "192.0.2.53", "10.0.100.100", "203.0.113.66"))
	require.True(t, ok)

	assert.Equal(t, ConflictingResponses, a.Kind)
	assert.Equal(t, Critical, a.Severity)
	assert.Equal(t, "www.example.com", a.Key.String())
	assert.Equal(t, 2, a.Count)
	require.Len(t, a.Evidence, 2)
	assert.Equal(t, Evidence{Answer: "10.0.1.20", Source: netip.MustParseAddr("192.0.2.53"), Count: 1, FirstSeen: base}, a.Evidence[0])
	assert.Equal(t, "10.0.100.100", a.Evidence[1].Answer)
	assert.Equal(t, 1, a.Evidence[1].Count)
	assert.Equal(t, []string{"10.0.1.20", "10.0.100.100"}, a.Answers())
}

func TestClassify_EvidenceOrder(t *testing.T) {
	c := newClassifier(t)

	a, ok := c.Classify(packetTx("www.example.com",
		"10.0.1.20", "192.0.2.53",
		"10.0.100.100", "203.0.113.66",
		"10.0.100.100", "203.0.113.66",
		"10.0.1.20", "192.0.2.54",
		"10.0.9.9", "203.0.113.66",
	))
	require.True(t, ok)

	require.Len(t, a.Evidence, 4)
	assert.Equal(t, "10.0.100.100", a.Evidence[0].Answer)
	assert.Equal(t, 2, a.Evidence[0].Count)

	// ties keep first-seen order
	assert.Equal(t, netip.MustParseAddr("192.0.2.53"), a.Evidence[1].Source)
	assert.Equal(t, netip.MustParseAddr("192.0.2.54"), a.Evidence[2].Source)
	assert.Equal(t, "10.0.9.9", a.Evidence[3].Answer)

	assert.Equal(t, []string{"10.0.100.100", "10.0.1.20", "10.0.9.9"}, a.Answers())
}

func TestClassify_SameAnswer(t *testing.T) {
	c := newClassifier(t)

	_, ok := c.Classify(packetTx("www.example.com", "10.0.1.20", "192.0.2.53", "10.0.1.20", "192.0.2.53"))
	assert.False(t, ok)

	// one answer from different resolvers is still one answer
	_, ok = c.Classify(packetTx("www.example.com", "10.0.1.20", "192.0.2.53", "10.0.1.20", "198.51.100.1"))
	assert.False(t, ok)
}

func TestClassify_TextLog(t *testing.T) {
	c := newClassifier(t)

	a, ok := c.Classify(textTx("bank.example.com", 3))
	require.True(t, ok)
	assert.Equal(t, MultipleResponses, a.Kind)
	assert.Equal(t, High, a.Severity)
	assert.Equal(t, 3, a.Count)
	require.Len(t, a.Evidence, 1)
	assert.Equal(t, Evidence{Count: 3, FirstSeen: base}, a.Evidence[0])
	assert.Empty(t, a.Answers())

	_, ok = c.Classify(textTx("mail.example.com", 1))
	assert.False(t, ok)
}

func TestClassify_Trusted(t *testing.T) {
	c := newClassifier(t, "192.0.2.0/24", "2001:db8::/32")

	a, ok := c.Classify(packetTx("www.example.com",
		"10.0.1.20", "192.0.2.53",
		"10.0.100.100", "203.0.113.66",
		"10.0.1.21", "2001:db8::53",
	))
	require.True(t, ok)

	assert.Equal(t, Critical, a.Severity)
	require.Len(t, a.Evidence, 3)
	assert.True(t, a.Evidence[0].Trusted)
	assert.False(t, a.Evidence[1].Trusted)
	assert.True(t, a.Evidence[2].Trusted)

	_, err := New(Options{TrustedNets: []string{"not-a-cidr"}})
	assert.Error(t, err)
}

// randomTx builds a packet transaction drawing answers from a pool of the
// given size.
func randomTx(r *rand.Rand, pool int) correlator.Transaction {
	n := r.IntN(8)
	sources := []string{"192.0.2.53", "203.0.113.66", "198.51.100.7"}

	var pairs []string
	for i := 0; i < n; i++ {
		pairs = append(pairs, fmt.Sprintf("10.0.0.%d", r.IntN(pool)), sources[r.IntN(len(sources))])
	}
	return packetTx("p.example.com", pairs...)
}

func TestClassify_Properties(t *testing.T) {
	c := newClassifier(t)
	r := rand.New(rand.NewPCG(1, 2)) //nolint:gosec // deterministic test data

	for i := 0; i < 500; i++ {
		tx := randomTx(r, 1+r.IntN(3))

		distinct := map[string]bool{}
		for _, resp := range tx.Responses {
			distinct[resp.Answer] = true
		}

		a, ok := c.Classify(tx)

		switch {
		case len(tx.Responses) <= 1:
			assert.False(t, ok, "single response never classifies")
		case len(distinct) == 1:
			assert.False(t, ok, "identical answers never classify")
		default:
			require.True(t, ok)
			assert.Equal(t, ConflictingResponses, a.Kind)
			assert.Equal(t, Critical, a.Severity)

			sum := 0
			pairs := map[string]bool{}
			for _, e := range a.Evidence {
				sum += e.Count
				key := e.Answer + "/" + e.Source.String()
				assert.False(t, pairs[key], "evidence pairs are distinct")
				pairs[key] = true
			}
			assert.Equal(t, len(tx.Responses), sum)

			for _, resp := range tx.Responses {
				assert.True(t, pairs[resp.Answer+"/"+resp.Source.String()])
			}

			for j := 1; j < len(a.Evidence); j++ {
				assert.GreaterOrEqual(t, a.Evidence[j-1].Count, a.Evidence[j].Count)
			}
		}
	}
}

func TestKindSeverityText(t *testing.T) {
	assert.Equal(t, "conflicting_responses", ConflictingResponses.String())
	assert.Equal(t, "unknown", Kind(0).String())

	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("MULTIPLE_RESPONSES")))
	assert.Equal(t, MultipleResponses, k)
	assert.Error(t, k.UnmarshalText([]byte("spoof")))

	_, err := Kind(9).MarshalText()
	assert.Error(t, err)

	var s Severity
	require.NoError(t, s.UnmarshalText([]byte("Critical")))
	assert.Equal(t, Critical, s)
	assert.Error(t, s.UnmarshalText([]byte("severe")))

	assert.True(t, Low < Medium && Medium < High && High < Critical)
	assert.Equal(t, []Severity{Critical, High, Medium, Low}, Severities)

	text, err := High.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "high", string(text))
}
