package wire

import (
	"net"

	"github.com/google/gopacket/layers"

	"github.com/kestrelnet/uswire/internal/errs"
)

// ARPOp mirrors layers.ARP's Operation field (ARPRequest=1, ARPReply=2).
type ARPOp uint16

const (
	ARPRequest ARPOp = ARPOp(layers.ARPRequest)
	ARPReply   ARPOp = ARPOp(layers.ARPReply)
)

// ARPPacket is the decoded 28-byte IPv4-over-Ethernet ARP payload.
type ARPPacket struct {
	Op          ARPOp
	SenderMAC   net.HardwareAddr
	SenderIPv4  net.IP
	TargetMAC   net.HardwareAddr
	TargetIPv4  net.IP
}

func decodeARP(a *layers.ARP) (*ARPPacket, error) {
	if a.AddrType != layers.LinkTypeEthernet || a.Protocol != layers.EthernetTypeIPv4 {
		return nil, errs.New(errs.KindMalformed, "arp: unsupported hw/proto type")
	}
	if a.HwAddressSize != 6 || a.ProtAddressSize != 4 {
		return nil, errs.New(errs.KindMalformed, "arp: unsupported address sizes")
	}
	return &ARPPacket{
		Op:         ARPOp(a.Operation),
		SenderMAC:  net.HardwareAddr(a.SourceHwAddress),
		SenderIPv4: net.IP(a.SourceProtAddress),
		TargetMAC:  net.HardwareAddr(a.DstHwAddress),
		TargetIPv4: net.IP(a.DstProtAddress),
	}, nil
}

// EncodeARP seals an Ethernet II + ARP frame. dstMAC is the Ethernet
// destination (BroadcastMAC for requests).
func EncodeARP(srcMAC, dstMAC net.HardwareAddr, p *ARPPacket) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         uint16(p.Op),
		SourceHwAddress:   []byte(p.SenderMAC),
		SourceProtAddress: p.SenderIPv4.To4(),
		DstHwAddress:      []byte(p.TargetMAC),
		DstProtAddress:    p.TargetIPv4.To4(),
	}
	return serializeFrame(eth, arp)
}
