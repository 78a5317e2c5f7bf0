package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/semihalev/dnswatch/classifier"
	"github.com/semihalev/dnswatch/mock"
	"github.com/semihalev/dnswatch/report"
	"github.com/semihalev/dnswatch/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	err := execute(context.Background(), args, &out)
	return out.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func Test_scanLog(t *testing.T) {
	path := writeFile(t, "resolver.log", []byte(strings.Join([]string{
		"response bank.example.com",
		"response bank.example.com",
		"response bank.example.com",
		"response mail.example.com",
		"",
	}, "\n")))

	out, err := run(t, "scan", path)
	require.NoError(t, err)

	parsed, err := report.ParseRendered(strings.NewReader(out[strings.Index(out, "[*] Detection Results:"):]))
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, classifier.MultipleResponses, parsed[0].Kind)
	assert.Equal(t, "bank.example.com", parsed[0].Key)
	assert.Equal(t, 3, parsed[0].Count)
	assert.Equal(t, classifier.High, parsed[0].Severity)
}

func Test_scanPcapJSON(t *testing.T) {
	capture := mock.NewCapture(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)).
		UDP("192.0.2.53:53", "10.0.0.10:40000", mock.Response("www.example.com", 1, "10.0.1.20")).
		UDP("203.0.113.66:53", "10.0.0.10:40000", mock.Response("www.example.com", 2, "10.0.100.100"))

	path := writeFile(t, "capture.bin", capture.Bytes())
	output := filepath.Join(t.TempDir(), "anomalies.jsonl")

	_, err := run(t, "scan", "--json", "--workers", "2", "--output", output, path)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &doc))
	assert.Equal(t, "conflicting_responses", doc["kind"])
	assert.Equal(t, "critical", doc["severity"])
	assert.Equal(t, []any{"10.0.1.20", "10.0.100.100"}, doc["ips"])

	var last map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &last))
	assert.Equal(t, float64(2), last["stats"]["units"])
	assert.Equal(t, float64(1), last["stats"]["anomalies"])
}

func Test_scanJSONStdout(t *testing.T) {
	path := writeFile(t, "resolver.log", []byte("response bank.example.com\nresponse bank.example.com\nresponse\n"))

	stdout, err := os.CreateTemp(t.TempDir(), "stdout")
	require.NoError(t, err)
	defer stdout.Close()

	saved := os.Stdout
	os.Stdout = stdout
	err = execute(context.Background(), []string{"scan", "--json", "--loglevel", "debug", path}, os.Stdout)
	os.Stdout = saved
	require.NoError(t, err)

	data, err := os.ReadFile(stdout.Name())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)), "not a JSON line: %q", line)
	}

	var last map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &last))
	assert.Equal(t, float64(1), last["stats"]["skipped"])
	assert.Equal(t, map[string]any{"no_extractable_name": float64(1)}, last["stats"]["skipped_by_kind"])
}

func Test_scanConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "dnswatch.toml")
	metrics := filepath.Join(dir, "dnswatch.prom")

	require.NoError(t, os.WriteFile(cfgPath, []byte(`
version = "1.0.0"
marker = "reply"
report = "yaml"
metricsfile = "`+metrics+`"
`), 0600))

	path := writeFile(t, "resolver.log", []byte("reply a.example.com\nreply a.example.com\nresponse b.example.com\n"))

	out, err := run(t, "scan", "-c", cfgPath, path)
	require.NoError(t, err)
	assert.Contains(t, out, "kind: multiple_responses")
	assert.Contains(t, out, "key: a.example.com")

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dnswatch_units_ignored_total 1")

	// flags win over the file
	out, err = run(t, "scan", "-c", cfgPath, "--report", "text", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[1] MULTIPLE_RESPONSES")
}

func Test_scanErrors(t *testing.T) {
	_, err := run(t, "scan", filepath.Join(t.TempDir(), "missing.pcap"))
	assert.ErrorIs(t, err, source.ErrInputUnavailable)

	path := writeFile(t, "resolver.log", []byte("response a.example.com\n"))

	_, err = run(t, "scan", "--format", "csv", path)
	assert.Error(t, err)

	_, err = run(t, "scan", "--loglevel", "loud", path)
	assert.Error(t, err)

	_, err = run(t, "scan", "--format", "pcap", path)
	assert.ErrorIs(t, err, source.ErrInputUnavailable)

	_, err = run(t, "scan")
	assert.Error(t, err)

	capture := writeFile(t, "capture.bin", mock.NewCapture(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)).
		UDP("192.0.2.53:53", "10.0.0.10:40000", mock.Response("www.example.com", 1, "10.0.1.20")).Bytes())

	_, err = run(t, "scan", "--follow", capture)
	assert.ErrorIs(t, err, source.ErrFollowUnsupported)
}

func Test_scanEmpty(t *testing.T) {
	path := writeFile(t, "empty.log", nil)

	out, err := run(t, "scan", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Found 0 anomalies")
	assert.Contains(t, out, "skipped: 0")
}

func Test_configCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnswatch.toml")

	_, err := run(t, "config", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `marker = "response"`)

	_, err = run(t, "config", path)
	assert.Error(t, err)

	_, err = run(t, "config", "--force", path)
	assert.NoError(t, err)
}

func Test_versionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dnswatch v"+version+"\n", out)
}
