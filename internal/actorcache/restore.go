package actorcache

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/keel/internal/storage/pebble"
	"github.com/rzbill/keel/pkg/log"
)

// applyScheduledRestore rolls the keyspace back to the marker's target. The
// rollback is itself a forward commit: the pre-restore values become new
// pre-image records under a fresh sequence, so the restore can in turn be
// undone. Runs from Open before the flusher starts, so field access is
// single-threaded.
func (c *Cache) applyScheduledRestore(marker []byte) error {
	if len(marker) != 16 {
		return errors.New("corrupt restore marker")
	}
	target := binary.BigEndian.Uint64(marker[:8])
	schedEpoch := binary.BigEndian.Uint64(marker[8:])

	if target < c.floorSeq {
		// History below the floor is gone (retention trim or a wipe landed
		// after the restore was scheduled). Resolve the undo token to the
		// current state and drop the marker.
		c.logger.Warn("scheduled restore target predates the restore floor; skipping",
			log.Int64("target", int64(target)), log.Int64("floor", int64(c.floorSeq)))
		b := c.db.NewBatch()
		defer b.Close()
		if err := b.Set(keyUndo(c.actor, schedEpoch), be8(c.lastSeq), nil); err != nil {
			return err
		}
		if err := b.Delete(keyRestore(c.actor), nil); err != nil {
			return err
		}
		return c.db.CommitBatch(context.Background(), b)
	}

	// The value at the target is the pre-image of the first change after
	// it; walking records oldest-first and keeping the first hit per key
	// yields exactly that.
	type histVal struct {
		value   []byte
		present bool
	}
	targetVals := make(map[string]histVal)
	lo := appendBE8(append([]byte(nil), keyHistPrefix(c.actor)...), target+1)
	hi := prefixEnd(keyHistPrefix(c.actor))
	it, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return err
	}
	for ok := it.First(); ok; ok = it.Next() {
		_, userKey, ok := parseHist(c.actor, it.Key())
		if !ok {
			continue
		}
		if _, seen := targetVals[userKey]; seen {
			continue
		}
		prev, present, ok := decodeHist(it.Value())
		if !ok {
			continue
		}
		targetVals[userKey] = histVal{value: prev, present: present}
	}
	if err := it.Close(); err != nil {
		return err
	}

	newSeq := c.lastSeq + 1
	b := c.db.NewBatch()
	defer b.Close()
	for key, hv := range targetVals {
		kvKey := keyKV(c.actor, key)
		cur, gerr := c.db.Get(kvKey)
		curPresent := true
		if gerr != nil {
			if !errors.Is(gerr, pebblestore.ErrNotFound) {
				return gerr
			}
			curPresent, cur = false, nil
		}
		if err := b.Set(keyHist(c.actor, newSeq, key), encodeHist(cur, curPresent), nil); err != nil {
			return err
		}
		if hv.present {
			if err := b.Set(kvKey, hv.value, nil); err != nil {
				return err
			}
		} else if err := b.Delete(kvKey, nil); err != nil {
			return err
		}
	}
	if err := b.Set(keySeq(c.actor), be8(newSeq), nil); err != nil {
		return err
	}
	if err := b.Set(keyBookmarkSample(c.actor, newSeq), encodeMs(nowMs()), nil); err != nil {
		return err
	}
	if err := b.Set(keyUndo(c.actor, schedEpoch), be8(c.lastSeq), nil); err != nil {
		return err
	}
	if err := b.Delete(keyRestore(c.actor), nil); err != nil {
		return err
	}
	if err := c.db.CommitBatch(context.Background(), b); err != nil {
		return err
	}
	c.lastSeq = newSeq
	c.logger.Info("applied scheduled restore",
		log.Int64("target", int64(target)), log.Int("keys", len(targetVals)))
	return nil
}
