package actorcache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/keel/internal/actorstore"
	pebblestore "github.com/rzbill/keel/internal/storage/pebble"
)

// Bookmark tokens are the hex form of [sequence BE8][epoch BE8], so string
// comparison follows history order. Regular bookmarks carry epoch 0: the
// same sequence names the same state regardless of which session minted
// the token. Undo bookmarks carry the all-ones sequence sentinel, which
// orders after every real sequence, plus the epoch of the session whose
// final state they name.
const undoSeqSentinel = ^uint64(0)

func encodeBookmark(seq, epoch uint64) actorstore.Bookmark {
	var raw [16]byte
	binary.BigEndian.PutUint64(raw[:8], seq)
	binary.BigEndian.PutUint64(raw[8:], epoch)
	return actorstore.Bookmark(hex.EncodeToString(raw[:]))
}

func decodeBookmark(b actorstore.Bookmark) (seq, epoch uint64, err error) {
	raw, derr := hex.DecodeString(string(b))
	if derr != nil || len(raw) != 16 {
		return 0, 0, fmt.Errorf("actorcache: malformed bookmark %q", b)
	}
	return binary.BigEndian.Uint64(raw[:8]), binary.BigEndian.Uint64(raw[8:]), nil
}

// CurrentBookmark flushes staged writes and names the resulting state.
func (c *Cache) CurrentBookmark(ctx context.Context) (actorstore.Bookmark, error) {
	if err := c.flushNow(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	seq := c.lastSeq
	c.mu.Unlock()
	return encodeBookmark(seq, 0), nil
}

// BookmarkForTime names the newest state whose commit time is at or before
// the given time. Times outside the retention window are rejected.
func (c *Cache) BookmarkForTime(ctx context.Context, at time.Time) (actorstore.Bookmark, error) {
	target := at.UnixMilli()
	if nowMs()-target > c.retention.Milliseconds() {
		return "", fmt.Errorf("%w: %s is outside the retention window", actorstore.ErrRetention, at.UTC().Format(time.RFC3339))
	}
	if err := c.flushNow(ctx); err != nil {
		return "", err
	}

	lo := keyBookmarkPrefix(c.actor)
	it, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: prefixEnd(lo)})
	if err != nil {
		return "", err
	}
	var best uint64
	found := false
	for ok := it.First(); ok; ok = it.Next() {
		ts, ok := decodeMs(it.Value())
		if !ok {
			continue
		}
		if ts > target {
			break
		}
		if seq, ok := parseBookmarkSample(c.actor, it.Key()); ok {
			best, found = seq, true
		}
	}
	if err := it.Close(); err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: no history at or before %s", actorstore.ErrRetention, at.UTC().Format(time.RFC3339))
	}
	return encodeBookmark(best, 0), nil
}

// ScheduleRestore records a restore marker that the next cold start applies
// before serving any operation, and returns an undo bookmark naming the
// state this session will have ended with. The undo token resolves only
// once the restore has actually run.
func (c *Cache) ScheduleRestore(ctx context.Context, b actorstore.Bookmark) (actorstore.Bookmark, error) {
	seq, tokenEpoch, err := decodeBookmark(b)
	if err != nil {
		return "", err
	}
	if err := c.flushNow(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	lastSeq, floorSeq, epoch := c.lastSeq, c.floorSeq, c.epoch
	c.mu.Unlock()

	if seq == undoSeqSentinel {
		raw, gerr := c.db.Get(keyUndo(c.actor, tokenEpoch))
		if gerr != nil {
			if errors.Is(gerr, pebblestore.ErrNotFound) {
				return "", fmt.Errorf("actorcache: undo bookmark %q names a session-end state that has not been reached", b)
			}
			return "", gerr
		}
		v, ok := decodeBE8(raw)
		if !ok {
			return "", errors.New("actorcache: corrupt undo record")
		}
		seq = v
	}
	if seq > lastSeq {
		return "", fmt.Errorf("actorcache: bookmark %q is ahead of history", b)
	}
	if seq < floorSeq {
		return "", fmt.Errorf("%w: bookmark %q predates the restore floor", actorstore.ErrRetention, b)
	}

	marker := appendBE8(appendBE8(nil, seq), epoch)
	if err := c.db.Set(keyRestore(c.actor), marker); err != nil {
		return "", err
	}
	return encodeBookmark(undoSeqSentinel, epoch), nil
}
