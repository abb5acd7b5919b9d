package wire

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	ICMPv4TypeEchoReply         uint8 = uint8(layers.ICMPv4TypeEchoReply)
	ICMPv4TypeEchoRequest       uint8 = uint8(layers.ICMPv4TypeEchoRequest)
	ICMPv4TypeDestUnreachable   uint8 = uint8(layers.ICMPv4TypeDestinationUnreachable)
	ICMPv4CodePortUnreachable   uint8 = uint8(layers.ICMPv4CodePort)
)

// ICMPv4Packet is the decoded type/code/checksum header plus, for echo
// request/reply, the (id, seq) pair spec.md §4.3 keys its outstanding-
// request set on.
type ICMPv4Packet struct {
	Type, Code uint8
	ID, Seq    uint16
	Payload    []byte
}

func decodeICMPv4(l *layers.ICMPv4, app gopacket.ApplicationLayer) (*ICMPv4Packet, error) {
	p := &ICMPv4Packet{
		Type: l.TypeCode.Type(),
		Code: l.TypeCode.Code(),
		ID:   l.Id,
		Seq:  l.Seq,
	}
	if app != nil {
		p.Payload = app.Payload()
	}
	return p, nil
}

// EncodeICMPv4Echo seals an Ethernet+IPv4+ICMPv4 echo request/reply.
func EncodeICMPv4Echo(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, ttl uint8, isReply bool, id, seq uint16, payload []byte) ([]byte, error) {
	typ := uint8(layers.ICMPv4TypeEchoRequest)
	if isReply {
		typ = uint8(layers.ICMPv4TypeEchoReply)
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(typ, 0),
		Id:       id,
		Seq:      seq,
	}
	return encodeIPv4(srcMAC, dstMAC, srcIP, dstIP, ttl, ProtoICMPv4, icmp, gopacket.Payload(payload))
}

// EncodeICMPv4PortUnreachable seals a Destination Unreachable / Port
// Unreachable message quoting (up to) the first 8 bytes of the offending
// datagram, per RFC 792.
func EncodeICMPv4PortUnreachable(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, ttl uint8, quoted []byte) ([]byte, error) {
	if len(quoted) > 8 {
		quoted = quoted[:8]
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(ICMPv4TypeDestUnreachable, ICMPv4CodePortUnreachable),
	}
	return encodeIPv4(srcMAC, dstMAC, srcIP, dstIP, ttl, ProtoICMPv4, icmp, gopacket.Payload(quoted))
}
