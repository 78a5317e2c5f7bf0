package mock

import (
	"bytes"
	"net/netip"
	"time"

	dnstap "github.com/dnstap/golang-dnstap"
	framestream "github.com/farsightsec/golang-framestream"
	"google.golang.org/protobuf/proto"
)

// DnstapFrame describes one dnstap message to write.
type DnstapFrame struct {
	Type     dnstap.Message_Type
	Query    netip.AddrPort
	Response netip.AddrPort
	Message  []byte
	Time     time.Time
}

// DnstapFile return a frame stream file holding the given dnstap messages
func DnstapFile(frames ...DnstapFrame) []byte {
	var buf bytes.Buffer

	enc, err := framestream.NewEncoder(&buf, &framestream.EncoderOptions{
		ContentType: []byte("protobuf:dnstap.Dnstap"),
	})
	if err != nil {
		panic(err)
	}

	for _, f := range frames {
		data, err := proto.Marshal(DnstapMessage(f))
		if err != nil {
			panic(err)
		}

		if _, err := enc.Write(data); err != nil {
			panic(err)
		}
	}

	if err := enc.Close(); err != nil {
		panic(err)
	}

	return buf.Bytes()
}

// DnstapMessage return the protobuf form of f
func DnstapMessage(f DnstapFrame) *dnstap.Dnstap {
	family := dnstap.SocketFamily_INET
	if f.Query.Addr().Is6() {
		family = dnstap.SocketFamily_INET6
	}

	msg := &dnstap.Message{
		Type:            f.Type.Enum(),
		SocketFamily:    family.Enum(),
		SocketProtocol:  dnstap.SocketProtocol_UDP.Enum(),
		QueryAddress:    f.Query.Addr().AsSlice(),
		QueryPort:       proto.Uint32(uint32(f.Query.Port())),
		ResponseAddress: f.Response.Addr().AsSlice(),
		ResponsePort:    proto.Uint32(uint32(f.Response.Port())),
	}

	sec := proto.Uint64(uint64(f.Time.Unix()))
	nsec := proto.Uint32(uint32(f.Time.Nanosecond()))

	// query types are odd, responses even
	if f.Type%2 == 1 {
		msg.QueryMessage = f.Message
		msg.QueryTimeSec, msg.QueryTimeNsec = sec, nsec
	} else {
		msg.ResponseMessage = f.Message
		msg.ResponseTimeSec, msg.ResponseTimeNsec = sec, nsec
	}

	return &dnstap.Dnstap{
		Type:    dnstap.Dnstap_MESSAGE.Enum(),
		Message: msg,
	}
}
