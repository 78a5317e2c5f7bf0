package mock

import (
	"encoding/binary"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// UDPFrame return an ethernet frame carrying payload from src to dst over UDP
func UDPFrame(src, dst netip.AddrPort, payload []byte) []byte {
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port()),
		DstPort: layers.UDPPort(dst.Port()),
	}

	return frame(src.Addr(), dst.Addr(), udp, payload)
}

// TCPFrame return an ethernet frame carrying a length prefixed payload over TCP
func TCPFrame(src, dst netip.AddrPort, payload []byte) []byte {
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(src.Port()),
		DstPort: layers.TCPPort(dst.Port()),
		Seq:     1,
		ACK:     true,
		PSH:     true,
		Window:  65535,
	}

	prefixed := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(prefixed, uint16(len(payload))) //nolint:gosec // test payloads are small
	copy(prefixed[2:], payload)

	return frame(src.Addr(), dst.Addr(), tcp, prefixed)
}

// ARPFrame return an ethernet frame without a transport layer
func ARPFrame() []byte {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    []byte{10, 0, 0, 2},
	}

	return serialize(eth, arp)
}

type checksummer interface {
	gopacket.SerializableLayer
	SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
}

func frame(src, dst netip.Addr, transport checksummer, payload []byte) []byte {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC}

	proto := layers.IPProtocolUDP
	if _, ok := transport.(*layers.TCP); ok {
		proto = layers.IPProtocolTCP
	}

	var network gopacket.NetworkLayer
	if src.Is4() {
		eth.EthernetType = layers.EthernetTypeIPv4
		network = &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: proto,
			SrcIP:    src.AsSlice(),
			DstIP:    dst.AsSlice(),
		}
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		network = &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: proto,
			SrcIP:      src.AsSlice(),
			DstIP:      dst.AsSlice(),
		}
	}

	if err := transport.SetNetworkLayerForChecksum(network); err != nil {
		panic(err)
	}

	return serialize(eth, network.(gopacket.SerializableLayer), transport, gopacket.Payload(payload))
}

func serialize(l ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if err := gopacket.SerializeLayers(buf, opts, l...); err != nil {
		panic(err)
	}

	return buf.Bytes()
}
