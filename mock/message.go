// Package mock builds DNS messages, captured frames and capture files for tests.
package mock

import (
	"net"
	"strings"

	"github.com/miekg/dns"
)

// Query return a packed A query for name
func Query(name string, id uint16) []byte {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.Id = id

	return pack(m)
}

// Response return a packed response for name with one record per answer.
// IPv4 answers become A records, IPv6 answers AAAA records and anything
// else a CNAME target.
func Response(name string, id uint16, answers ...string) []byte {
	return pack(ResponseMsg(name, id, answers...))
}

// ResponseMsg return the unpacked form of Response
func ResponseMsg(name string, id uint16, answers ...string) *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), dns.TypeA)
	q.Id = id

	m := new(dns.Msg)
	m.SetReply(q)

	hdr := func(rrtype uint16) dns.RR_Header {
		return dns.RR_Header{Name: dns.Fqdn(name), Rrtype: rrtype, Class: dns.ClassINET, Ttl: 300}
	}

	for _, answer := range answers {
		ip := net.ParseIP(answer)
		switch {
		case ip != nil && ip.To4() != nil:
			m.Answer = append(m.Answer, &dns.A{Hdr: hdr(dns.TypeA), A: ip.To4()})
		case ip != nil:
			m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr(dns.TypeAAAA), AAAA: ip})
		default:
			m.Answer = append(m.Answer, &dns.CNAME{Hdr: hdr(dns.TypeCNAME), Target: dns.Fqdn(answer)})
		}
	}

	return m
}

// TruncatedResponse return a response header that claims ancount answers
// while carrying only the question section.
func TruncatedResponse(name string, id uint16, ancount uint16) []byte {
	data := Response(name, id)
	data[6], data[7] = byte(ancount>>8), byte(ancount)

	return data
}

// NoQuestion return a response without a question section
func NoQuestion(id uint16) []byte {
	m := new(dns.Msg)
	m.Id = id
	m.Response = true

	return pack(m)
}

// Notify return a packed NOTIFY message for name
func Notify(name string) []byte {
	m := new(dns.Msg)
	m.SetNotify(dns.Fqdn(strings.TrimSuffix(name, ".")))

	return pack(m)
}

func pack(m *dns.Msg) []byte {
	data, err := m.Pack()
	if err != nil {
		panic(err)
	}
	return data
}
