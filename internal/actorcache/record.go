package actorcache

import "encoding/binary"

// Pre-image records store the committed state of a key immediately before a
// flush overwrote it: a presence byte followed by the previous value.

const (
	histAbsent  = byte(0)
	histPresent = byte(1)
)

func encodeHist(prev []byte, present bool) []byte {
	out := make([]byte, 1, 1+len(prev))
	if present {
		out[0] = histPresent
		out = append(out, prev...)
	} else {
		out[0] = histAbsent
	}
	return out
}

func decodeHist(raw []byte) (prev []byte, present bool, ok bool) {
	if len(raw) == 0 {
		return nil, false, false
	}
	if raw[0] == histAbsent {
		return nil, false, true
	}
	return append([]byte(nil), raw[1:]...), true, true
}

func be8(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeBE8(raw []byte) (uint64, bool) {
	if len(raw) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(raw), true
}

func encodeMs(ms int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ms))
	return b[:]
}

func decodeMs(raw []byte) (int64, bool) {
	if len(raw) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(raw)), true
}
