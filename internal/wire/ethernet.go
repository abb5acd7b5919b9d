// Package wire is the bit-exact Ethernet II / ARP / IPv4 / ICMPv4 / UDP / TCP
// codec (spec.md §6), built on gopacket the same way the teacher's pim and
// enricher packages do: gopacket.SerializeLayers with
// FixLengths/ComputeChecksums to encode, gopacket.NewPacket(...).Layer(...)
// to decode.
package wire

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/kestrelnet/uswire/internal/errs"
)

// BroadcastMAC is the all-ones Ethernet broadcast address.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

var serializeOpts = gopacket.SerializeOptions{
	FixLengths:       true,
	ComputeChecksums: true,
}

// Frame is one decoded Ethernet II frame plus whichever higher-layer
// payload was recognized inside it.
type Frame struct {
	SrcMAC, DstMAC net.HardwareAddr
	EtherType      layers.EthernetType

	ARP   *ARPPacket
	IPv4  *IPv4Packet
}

// DecodeFrame parses a raw Ethernet II frame. Anything that does not decode
// cleanly (short frame, unsupported EtherType contents that fail deeper
// parsing) comes back as errs.Malformed so the caller can drop it per
// spec.md §7.
func DecodeFrame(data []byte) (*Frame, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	if err := packet.ErrorLayer(); err != nil {
		return nil, errs.Newf(errs.KindMalformed, "ethernet decode: %v", err.Error())
	}
	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return nil, errs.New(errs.KindMalformed, "ethernet: missing layer")
	}
	eth, ok := ethLayer.(*layers.Ethernet)
	if !ok {
		return nil, errs.New(errs.KindMalformed, "ethernet: unexpected layer type")
	}

	f := &Frame{
		SrcMAC:    eth.SrcMAC,
		DstMAC:    eth.DstMAC,
		EtherType: eth.EthernetType,
	}

	switch eth.EthernetType {
	case layers.EthernetTypeARP:
		arpLayer := packet.Layer(layers.LayerTypeARP)
		if arpLayer == nil {
			return nil, errs.New(errs.KindMalformed, "arp: missing layer")
		}
		arp, err := decodeARP(arpLayer.(*layers.ARP))
		if err != nil {
			return nil, err
		}
		f.ARP = arp
	case layers.EthernetTypeIPv4:
		ipLayer := packet.Layer(layers.LayerTypeIPv4)
		if ipLayer == nil {
			return nil, errs.New(errs.KindMalformed, "ipv4: missing layer")
		}
		ip, err := decodeIPv4(packet, ipLayer.(*layers.IPv4))
		if err != nil {
			return nil, err
		}
		f.IPv4 = ip
	default:
		return nil, errs.Newf(errs.KindMalformed, "unsupported ethertype %v", eth.EthernetType)
	}

	return f, nil
}

// serializeFrame wraps payload (already-serialized higher-layer bytes are
// NOT expected here — callers instead pass the gopacket layers for the
// payload so checksums covering the whole frame are computed in one pass)
// by serializing eth followed by the given layers.
func serializeFrame(eth *layers.Ethernet, rest ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	all := append([]gopacket.SerializableLayer{eth}, rest...)
	if err := gopacket.SerializeLayers(buf, serializeOpts, all...); err != nil {
		return nil, errs.Newf(errs.KindMalformed, "serialize: %v", err.Error())
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}
