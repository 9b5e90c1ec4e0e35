package imgtx

import "fmt"

type capRequest struct {
	size    [2]int
	quality byte
	flash   bool
}

// encodeCmdCap builds a CMD_CAP payload: [CmdCap, sizeXhi, sizeXlo, sizeYhi,
// sizeYlo, quality, flash].
func encodeCmdCap(size [2]int, quality byte, flash bool) []byte {
	p := make([]byte, 7)
	p[0] = CmdCap
	putU16(p[1:3], uint16(size[0]))
	putU16(p[3:5], uint16(size[1]))
	p[5] = quality
	p[6] = boolByte(flash)
	return p
}

func decodeCmdCap(p []byte) (capRequest, error) {
	if len(p) < 7 {
		return capRequest{}, fmt.Errorf("imgtx: CMD_CAP payload too short")
	}
	return capRequest{
		size:    [2]int{int(getU16(p[1:3])), int(getU16(p[3:5]))},
		quality: p[5],
		flash:   p[6] != 0,
	}, nil
}

// encodeCmdBegin builds a CMD_BEGIN payload: [CmdBegin, numHeadHi,
// numHeadLo, numDataHi, numDataLo].
func encodeCmdBegin(numHeaderPkt, numDataPkt int) []byte {
	p := make([]byte, 5)
	p[0] = CmdBegin
	putU16(p[1:3], uint16(numHeaderPkt))
	putU16(p[3:5], uint16(numDataPkt))
	return p
}

func decodeCmdBegin(p []byte) (numHead, numData int, err error) {
	if len(p) < 5 {
		return 0, 0, fmt.Errorf("imgtx: CMD_BEGIN payload too short")
	}
	return int(getU16(p[1:3])), int(getU16(p[3:5])), nil
}

// encodeCmdEnd builds a CMD_END payload carrying the sender's final packet
// counters: [CmdEnd, rxPkt(2), rxAck(2), txPkt(2), txAck(2), retrans(2)],
// 11 bytes total.
//
// The original source sized its backing buffer at 10 bytes while slicing
// the trailing retransmission count at byte indices 9:11 — an
// internally-inconsistent off-by-one only masked because Python silently
// grows a bytearray on out-of-range slice assignment. This implementation
// simply sizes the payload correctly at 11 bytes instead of reproducing
// that inconsistency.
func encodeCmdEnd(stats Stats) []byte {
	p := make([]byte, 11)
	p[0] = CmdEnd
	putU16(p[1:3], uint16(stats.RxPkt))
	putU16(p[3:5], uint16(stats.RxAck))
	putU16(p[5:7], uint16(stats.TxPkt))
	putU16(p[7:9], uint16(stats.TxAck))
	putU16(p[9:11], uint16(stats.Retrans))
	return p
}

func decodeCmdEnd(p []byte) (Stats, error) {
	if len(p) < 11 {
		return Stats{}, fmt.Errorf("imgtx: CMD_END payload too short")
	}
	return Stats{
		RxPkt:   int(getU16(p[1:3])),
		RxAck:   int(getU16(p[3:5])),
		TxPkt:   int(getU16(p[5:7])),
		TxAck:   int(getU16(p[7:9])),
		Retrans: int(getU16(p[9:11])),
	}, nil
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func getU16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
