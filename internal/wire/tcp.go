package wire

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/kestrelnet/uswire/internal/errs"
)

// TCPFlags is the subset of header flags this module emits/inspects:
// SYN/ACK/RST, plus FIN for connection close.
type TCPFlags struct {
	SYN, ACK, RST, FIN bool
}

// TCPSegment is the decoded 20-byte TCP header (no options beyond MSS and
// window scale) plus payload.
type TCPSegment struct {
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Flags            TCPFlags
	Window           uint16
	MSS              *uint16
	WindowScale      *uint8
	Payload          []byte
}

func decodeTCP(t *layers.TCP) (*TCPSegment, error) {
	seg := &TCPSegment{
		SrcPort: uint16(t.SrcPort),
		DstPort: uint16(t.DstPort),
		Seq:     t.Seq,
		Ack:     t.Ack,
		Flags: TCPFlags{
			SYN: t.SYN,
			ACK: t.ACK,
			RST: t.RST,
			FIN: t.FIN,
		},
		Window:  t.Window,
		Payload: t.Payload,
	}
	for _, opt := range t.Options {
		switch opt.OptionType {
		case layers.TCPOptionKindMSS:
			if len(opt.OptionData) != 2 {
				return nil, errs.New(errs.KindMalformed, "tcp: malformed MSS option")
			}
			mss := binary.BigEndian.Uint16(opt.OptionData)
			seg.MSS = &mss
		case layers.TCPOptionKindWindowScale:
			if len(opt.OptionData) != 1 {
				return nil, errs.New(errs.KindMalformed, "tcp: malformed window scale option")
			}
			ws := opt.OptionData[0]
			seg.WindowScale = &ws
		}
	}
	return seg, nil
}

// encodeTCPOptions renders the options list for a segment, padding with NOPs
// so the combined option length is a multiple of 4 bytes, per standard TCP
// option alignment (supplemented beyond spec.md's literal text — see
// SPEC_FULL.md §6's window-scale round-trip note).
func encodeTCPOptions(mss *uint16, windowScale *uint8) []layers.TCPOption {
	var opts []layers.TCPOption
	length := 0
	if mss != nil {
		data := make([]byte, 2)
		binary.BigEndian.PutUint16(data, *mss)
		opts = append(opts, layers.TCPOption{
			OptionType:   layers.TCPOptionKindMSS,
			OptionLength: 4,
			OptionData:   data,
		})
		length += 4
	}
	if windowScale != nil {
		opts = append(opts, layers.TCPOption{
			OptionType:   layers.TCPOptionKindWindowScale,
			OptionLength: 3,
			OptionData:   []byte{*windowScale},
		})
		length += 3
	}
	for length%4 != 0 {
		opts = append(opts, layers.TCPOption{OptionType: layers.TCPOptionKindNop})
		length++
	}
	return opts
}

// EncodeTCP seals an Ethernet+IPv4+TCP segment.
func EncodeTCP(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, ttl uint8, seg *TCPSegment) ([]byte, error) {
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(seg.SrcPort),
		DstPort: layers.TCPPort(seg.DstPort),
		Seq:     seg.Seq,
		Ack:     seg.Ack,
		SYN:     seg.Flags.SYN,
		ACK:     seg.Flags.ACK,
		RST:     seg.Flags.RST,
		FIN:     seg.Flags.FIN,
		Window:  seg.Window,
		Options: encodeTCPOptions(seg.MSS, seg.WindowScale),
	}
	return encodeIPv4(srcMAC, dstMAC, srcIP, dstIP, ttl, ProtoTCP, tcp, gopacket.Payload(seg.Payload))
}
