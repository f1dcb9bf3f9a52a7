package actorcache

import (
	"encoding/binary"

	"github.com/rzbill/keel/pkg/id"
)

// Byte-wise key builders for the per-actor keyspace. Segments use fixed
// lengths (16-byte actor IDs, 8-byte big-endian sequences), so keys parse
// positionally rather than by separator scanning.

var (
	actPrefix     = []byte("act/")
	kvSeg         = []byte("/kv/")
	alarmSuffix   = []byte("/alarm")
	seqSuffix     = []byte("/seq")
	floorSuffix   = []byte("/floor")
	epochSuffix   = []byte("/epoch")
	restoreSuffix = []byte("/restore")
	undoSeg       = []byte("/undo/")
	bkSeg         = []byte("/bk/")
	histSeg       = []byte("/hist/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func keyActor(actor id.ID) []byte {
	k := make([]byte, 0, len(actPrefix)+16+16)
	k = append(k, actPrefix...)
	k = append(k, actor[:]...)
	return k
}

// keyKV builds the entry key for a user key.
func keyKV(actor id.ID, userKey string) []byte {
	k := keyActor(actor)
	k = append(k, kvSeg...)
	k = append(k, userKey...)
	return k
}

// keyKVPrefix is the range prefix covering all of an actor's entries.
func keyKVPrefix(actor id.ID) []byte {
	return append(keyActor(actor), kvSeg...)
}

func keyAlarm(actor id.ID) []byte   { return append(keyActor(actor), alarmSuffix...) }
func keySeq(actor id.ID) []byte     { return append(keyActor(actor), seqSuffix...) }
func keyFloor(actor id.ID) []byte   { return append(keyActor(actor), floorSuffix...) }
func keyEpoch(actor id.ID) []byte   { return append(keyActor(actor), epochSuffix...) }
func keyRestore(actor id.ID) []byte { return append(keyActor(actor), restoreSuffix...) }

func keyUndo(actor id.ID, epoch uint64) []byte {
	k := append(keyActor(actor), undoSeg...)
	return appendBE8(k, epoch)
}

// keyBookmarkSample maps a committed sequence to its commit time.
func keyBookmarkSample(actor id.ID, seq uint64) []byte {
	k := append(keyActor(actor), bkSeg...)
	return appendBE8(k, seq)
}

func keyBookmarkPrefix(actor id.ID) []byte {
	return append(keyActor(actor), bkSeg...)
}

// keyHist builds the pre-image key for one user key at one sequence.
func keyHist(actor id.ID, seq uint64, userKey string) []byte {
	k := append(keyActor(actor), histSeg...)
	k = appendBE8(k, seq)
	k = append(k, '/')
	k = append(k, userKey...)
	return k
}

func keyHistPrefix(actor id.ID) []byte {
	return append(keyActor(actor), histSeg...)
}

// parseHist extracts the sequence and user key from a hist key. Returns
// ok=false for keys that are not hist records of the given actor.
func parseHist(actor id.ID, key []byte) (seq uint64, userKey string, ok bool) {
	prefix := keyHistPrefix(actor)
	if len(key) < len(prefix)+9 {
		return 0, "", false
	}
	seq = binary.BigEndian.Uint64(key[len(prefix) : len(prefix)+8])
	return seq, string(key[len(prefix)+9:]), true
}

// parseBookmarkSample extracts the sequence from a sample key.
func parseBookmarkSample(actor id.ID, key []byte) (uint64, bool) {
	prefix := keyBookmarkPrefix(actor)
	if len(key) != len(prefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(prefix):]), true
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, for use as an exclusive iteration upper bound.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	// All 0xff: no upper bound exists; return nil (unbounded).
	return nil
}
