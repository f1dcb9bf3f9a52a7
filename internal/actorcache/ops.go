package actorcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/keel/internal/actorstore"
	pebblestore "github.com/rzbill/keel/internal/storage/pebble"
)

// Get returns the value for key. The second result reports presence; an
// absent key is not an error.
func (c *Cache) Get(ctx context.Context, key string, opts actorstore.ReadOptions) ([]byte, bool, error) {
	c.mu.Lock()
	if v, present, known := c.lookupStaged(key); known {
		c.mu.Unlock()
		c.hooks.ReadUnits(1, true)
		return cloneBytes(v), present, nil
	}
	if !opts.NoCache {
		if ce, ok := c.clean[key]; ok {
			c.mu.Unlock()
			c.hooks.ReadUnits(1, true)
			return cloneBytes(ce.value), ce.present, nil
		}
	}
	c.mu.Unlock()

	raw, err := c.db.Get(keyKV(c.actor, key))
	if err != nil {
		if !errors.Is(err, pebblestore.ErrNotFound) {
			return nil, false, err
		}
		c.hooks.ReadUnits(1, false)
		if !opts.NoCache {
			c.remember(key, nil, false)
		}
		return nil, false, nil
	}
	c.hooks.ReadUnits(1, false)
	if !opts.NoCache {
		c.remember(key, raw, true)
	}
	return raw, true, nil
}

// remember populates the clean cache after a store read, unless a newer
// opinion about the key appeared in the meantime.
func (c *Cache) remember(key string, value []byte, present bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dirty[key]; ok {
		return
	}
	if _, ok := c.flushing[key]; ok {
		return
	}
	if _, ok := c.clean[key]; ok {
		return
	}
	c.clean[key] = cleanEntry{value: value, present: present}
}

func (c *Cache) GetMultiple(ctx context.Context, keys []string, opts actorstore.ReadOptions) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, ok, err := c.Get(ctx, k, opts)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

// List scans the committed keyspace in key order. Staged writes are flushed
// first so the scan observes them; the scan itself runs against a snapshot,
// so a flush admitted concurrently cannot move entries under the iterator.
func (c *Cache) List(ctx context.Context, r actorstore.ListRange, opts actorstore.ReadOptions) ([]actorstore.Entry, error) {
	if err := c.flushNow(ctx); err != nil {
		return nil, err
	}

	snap := c.db.NewSnapshot()
	defer snap.Close()
	lower, upper := c.kvBounds(r)
	it, err := snap.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	prefixLen := len(keyKVPrefix(c.actor))
	var out []actorstore.Entry
	var ok bool
	if r.Reverse {
		ok = it.Last()
	} else {
		ok = it.First()
	}
	for ok {
		out = append(out, actorstore.Entry{
			Key:   string(it.Key()[prefixLen:]),
			Value: append([]byte(nil), it.Value()...),
		})
		if r.Limit > 0 && len(out) == r.Limit {
			break
		}
		if r.Reverse {
			ok = it.Prev()
		} else {
			ok = it.Next()
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	c.hooks.ReadUnits(len(out), false)
	return out, nil
}

// kvBounds converts a normalized range into iterator bounds within the
// actor's kv prefix.
func (c *Cache) kvBounds(r actorstore.ListRange) (lower, upper []byte) {
	start := r.Start
	if r.Prefix != "" && r.Prefix > start {
		start = r.Prefix
	}
	lower = keyKV(c.actor, start)
	if r.Prefix != "" {
		upper = prefixEnd(keyKV(c.actor, r.Prefix))
	}
	if r.End != "" {
		end := keyKV(c.actor, r.End)
		if upper == nil || bytes.Compare(end, upper) < 0 {
			upper = end
		}
	}
	if upper == nil {
		upper = prefixEnd(keyKVPrefix(c.actor))
	}
	return lower, upper
}

func (c *Cache) Put(ctx context.Context, key string, value []byte, opts actorstore.WriteOptions) error {
	return c.PutMultiple(ctx, []actorstore.Entry{{Key: key, Value: value}}, opts)
}

// PutMultiple stages the entries and either flushes synchronously or, for
// unconfirmed writes, hands them to the background flusher.
func (c *Cache) PutMultiple(ctx context.Context, entries []actorstore.Entry, opts actorstore.WriteOptions) error {
	if len(entries) == 0 {
		return nil
	}
	if err := c.out.Err(); err != nil {
		return err
	}
	resolve := c.out.Lock()
	c.mu.Lock()
	for _, e := range entries {
		c.stageLocked(e.Key, stagedWrite{value: cloneBytes(e.Value), noCache: opts.NoCache}, resolve)
	}
	c.mu.Unlock()
	c.hooks.WriteUnits(len(entries))
	return c.finishWrite(ctx, opts)
}

func (c *Cache) finishWrite(ctx context.Context, opts actorstore.WriteOptions) error {
	if opts.AllowUnconfirmed {
		c.signalFlush()
		return nil
	}
	return c.flushNow(ctx)
}

func (c *Cache) Delete(ctx context.Context, key string, opts actorstore.WriteOptions) (bool, error) {
	n, err := c.DeleteMultiple(ctx, []string{key}, opts)
	return n > 0, err
}

// DeleteMultiple stages tombstones and reports how many of the keys had a
// value at the time of the call.
func (c *Cache) DeleteMultiple(ctx context.Context, keys []string, opts actorstore.WriteOptions) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.out.Err(); err != nil {
		return 0, err
	}

	existed := 0
	unknown := make([]string, 0, len(keys))
	c.mu.Lock()
	for _, k := range keys {
		if _, present, known := c.lookupStaged(k); known {
			if present {
				existed++
			}
			continue
		}
		if ce, ok := c.clean[k]; ok {
			if ce.present {
				existed++
			}
			continue
		}
		unknown = append(unknown, k)
	}
	c.mu.Unlock()
	for _, k := range unknown {
		ok, err := c.db.Has(keyKV(c.actor, k))
		if err != nil {
			return 0, err
		}
		if ok {
			existed++
		}
	}

	resolve := c.out.Lock()
	c.mu.Lock()
	for _, k := range keys {
		c.stageLocked(k, stagedWrite{del: true, noCache: opts.NoCache}, resolve)
	}
	c.mu.Unlock()
	c.hooks.DeleteUnits(existed)
	if err := c.finishWrite(ctx, opts); err != nil {
		return 0, err
	}
	return existed, nil
}

// GetAlarm returns the scheduled wake time, if any.
func (c *Cache) GetAlarm(ctx context.Context, opts actorstore.ReadOptions) (time.Time, bool, error) {
	c.mu.Lock()
	if a := firstAlarm(c.alarmDirty, c.alarmFlushing); a != nil {
		c.mu.Unlock()
		c.hooks.ReadUnits(1, true)
		return alarmTime(a.at, a.clear)
	}
	if c.alarmLoaded {
		ms := c.alarmMs
		c.mu.Unlock()
		c.hooks.ReadUnits(1, true)
		return alarmTime(ms, false)
	}
	c.mu.Unlock()

	var ms int64
	raw, err := c.db.Get(keyAlarm(c.actor))
	if err != nil {
		if !errors.Is(err, pebblestore.ErrNotFound) {
			return time.Time{}, false, err
		}
	} else if v, ok := decodeMs(raw); ok {
		ms = v
	}
	c.mu.Lock()
	if !c.alarmLoaded {
		c.alarmLoaded, c.alarmMs = true, ms
	}
	ms = c.alarmMs
	c.mu.Unlock()
	c.hooks.ReadUnits(1, false)
	return alarmTime(ms, false)
}

func alarmTime(ms int64, clear bool) (time.Time, bool, error) {
	if clear || ms == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func firstAlarm(a, b *stagedAlarm) *stagedAlarm {
	if a != nil {
		return a
	}
	return b
}

func (c *Cache) SetAlarm(ctx context.Context, at time.Time, opts actorstore.WriteOptions) error {
	ms := at.UnixMilli()
	if ms <= 0 {
		return fmt.Errorf("actorcache: alarm time %v is not representable", at)
	}
	return c.writeAlarm(ctx, ms, false, opts)
}

func (c *Cache) DeleteAlarm(ctx context.Context, opts actorstore.WriteOptions) error {
	return c.writeAlarm(ctx, 0, true, opts)
}

func (c *Cache) writeAlarm(ctx context.Context, at int64, clear bool, opts actorstore.WriteOptions) error {
	if err := c.out.Err(); err != nil {
		return err
	}
	resolve := c.out.Lock()
	c.mu.Lock()
	c.stageAlarmLocked(at, clear, resolve)
	c.mu.Unlock()
	c.hooks.WriteUnits(1)
	return c.finishWrite(ctx, opts)
}

// DeleteAll wipes the actor's keyspace and its history in one atomic
// commit. The alarm is not part of the keyspace and survives, including any
// staged alarm write. Bookmarks taken before the wipe stop being
// restorable: the restore floor advances to the wipe itself.
func (c *Cache) DeleteAll(ctx context.Context, opts actorstore.WriteOptions) error {
	if err := c.out.Err(); err != nil {
		return err
	}
	resolve := c.out.Lock()

	c.flushMu.Lock()
	c.mu.Lock()
	resolves := []func(error){resolve}
	for _, w := range c.dirty {
		resolves = append(resolves, w.resolves...)
	}
	c.dirty = make(map[string]*stagedWrite)
	c.clean = make(map[string]cleanEntry)
	seq := c.lastSeq + 1
	c.mu.Unlock()

	run := func(ctx context.Context) error {
		err := c.commitDeleteAll(ctx, seq)
		c.mu.Lock()
		if err == nil {
			c.lastSeq, c.floorSeq = seq, seq
		}
		c.mu.Unlock()
		c.flushMu.Unlock()
		for _, r := range resolves {
			r(err)
		}
		return err
	}
	if opts.AllowUnconfirmed {
		go run(context.Background())
		return nil
	}
	return run(ctx)
}

func (c *Cache) commitDeleteAll(ctx context.Context, seq uint64) error {
	b := c.db.NewBatch()
	defer b.Close()

	kvLo := keyKVPrefix(c.actor)
	if err := b.DeleteRange(kvLo, prefixEnd(kvLo), nil); err != nil {
		return err
	}
	histLo := keyHistPrefix(c.actor)
	if err := b.DeleteRange(histLo, prefixEnd(histLo), nil); err != nil {
		return err
	}
	bkLo := keyBookmarkPrefix(c.actor)
	if err := b.DeleteRange(bkLo, prefixEnd(bkLo), nil); err != nil {
		return err
	}
	if err := b.Set(keySeq(c.actor), be8(seq), nil); err != nil {
		return err
	}
	if err := b.Set(keyFloor(c.actor), be8(seq), nil); err != nil {
		return err
	}
	if err := b.Set(keyBookmarkSample(c.actor, seq), encodeMs(nowMs()), nil); err != nil {
		return err
	}
	return c.db.CommitBatch(ctx, b)
}

// Sync flushes staged writes and waits until every outstanding write has
// been confirmed or the output gate breaks.
func (c *Cache) Sync(ctx context.Context) error {
	if err := c.flushNow(ctx); err != nil {
		return err
	}
	return c.out.Wait(ctx)
}
