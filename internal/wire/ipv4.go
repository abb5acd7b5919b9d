package wire

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/kestrelnet/uswire/internal/errs"
)

// IPv4Protocol mirrors the three protocol numbers this module routes on.
type IPv4Protocol uint8

const (
	ProtoICMPv4 IPv4Protocol = IPv4Protocol(layers.IPProtocolICMPv4)
	ProtoTCP    IPv4Protocol = IPv4Protocol(layers.IPProtocolTCP)
	ProtoUDP    IPv4Protocol = IPv4Protocol(layers.IPProtocolUDP)
)

// IPv4Packet is the decoded 20-byte (no options) IPv4 header plus whichever
// transport-layer payload was recognized.
type IPv4Packet struct {
	SrcIP, DstIP net.IP
	TTL          uint8
	Protocol     IPv4Protocol

	ICMPv4 *ICMPv4Packet
	UDP    *UDPPacket
	TCP    *TCPSegment
}

func decodeIPv4(packet gopacket.Packet, ip *layers.IPv4) (*IPv4Packet, error) {
	if len(ip.Options) != 0 {
		return nil, errs.New(errs.KindMalformed, "ipv4: options not supported")
	}
	p := &IPv4Packet{
		SrcIP:    ip.SrcIP,
		DstIP:    ip.DstIP,
		TTL:      ip.TTL,
		Protocol: IPv4Protocol(ip.Protocol),
	}

	switch ip.Protocol {
	case layers.IPProtocolICMPv4:
		l := packet.Layer(layers.LayerTypeICMPv4)
		if l == nil {
			return nil, errs.New(errs.KindMalformed, "icmpv4: missing layer")
		}
		icmp, err := decodeICMPv4(l.(*layers.ICMPv4), packet.ApplicationLayer())
		if err != nil {
			return nil, err
		}
		p.ICMPv4 = icmp
	case layers.IPProtocolUDP:
		l := packet.Layer(layers.LayerTypeUDP)
		if l == nil {
			return nil, errs.New(errs.KindMalformed, "udp: missing layer")
		}
		p.UDP = decodeUDP(l.(*layers.UDP))
	case layers.IPProtocolTCP:
		l := packet.Layer(layers.LayerTypeTCP)
		if l == nil {
			return nil, errs.New(errs.KindMalformed, "tcp: missing layer")
		}
		tcp, err := decodeTCP(l.(*layers.TCP))
		if err != nil {
			return nil, err
		}
		p.TCP = tcp
	default:
		return nil, errs.Newf(errs.KindMalformed, "unsupported ip protocol %d", ip.Protocol)
	}

	return p, nil
}

// encodeIPv4 seals Ethernet+IPv4+payload in one SerializeLayers pass so the
// transport checksum (which covers the IPv4 pseudo-header) is computed
// correctly by gopacket.
func encodeIPv4(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, ttl uint8, proto IPv4Protocol, payload ...gopacket.SerializableLayer) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocol(proto),
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
	}

	for _, l := range payload {
		if setter, ok := l.(interface {
			SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
		}); ok {
			if err := setter.SetNetworkLayerForChecksum(ip); err != nil {
				return nil, errs.Newf(errs.KindMalformed, "checksum setup: %v", err.Error())
			}
		}
	}

	return serializeFrame(eth, append([]gopacket.SerializableLayer{ip}, payload...)...)
}
