package wire

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// UDPPacket is the decoded 8-byte UDP header plus payload.
type UDPPacket struct {
	SrcPort, DstPort uint16
	Payload          []byte
}

func decodeUDP(u *layers.UDP) *UDPPacket {
	return &UDPPacket{
		SrcPort: uint16(u.SrcPort),
		DstPort: uint16(u.DstPort),
		Payload: u.Payload,
	}
}

// EncodeUDP seals an Ethernet+IPv4+UDP datagram, checksum included per
// spec.md §6 ("checksum optional but emitted").
func EncodeUDP(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, ttl uint8, srcPort, dstPort uint16, payload []byte) ([]byte, error) {
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	return encodeIPv4(srcMAC, dstMAC, srcIP, dstIP, ttl, ProtoUDP, udp, gopacket.Payload(payload))
}
