package actorcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/keel/internal/actorstore"
	"github.com/rzbill/keel/internal/gate"
	pebblestore "github.com/rzbill/keel/internal/storage/pebble"
	"github.com/rzbill/keel/pkg/id"
	"github.com/rzbill/keel/pkg/log"
)

const (
	// DefaultRetention bounds how far back in time bookmarks can reach.
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultFlushDelay is the coalescing window before a background flush
	// of unconfirmed writes.
	DefaultFlushDelay = 2 * time.Millisecond

	// trimEveryFlushes spaces out retention trims; trimming is incremental
	// so the exact cadence is not load-bearing.
	trimEveryFlushes = 64
)

// nowMs is overridable in tests.
var nowMs = func() int64 { return time.Now().UnixMilli() }

// Options configures a per-actor cache engine.
type Options struct {
	Retention  time.Duration
	FlushDelay time.Duration
	Hooks      actorstore.Hooks
	Logger     log.Logger
}

type stagedWrite struct {
	value    []byte
	del      bool
	noCache  bool
	resolves []func(error)
}

type stagedAlarm struct {
	at       int64 // ms; meaningful only when !clear
	clear    bool
	resolves []func(error)
}

type cleanEntry struct {
	value   []byte
	present bool
}

// Cache is the per-actor cache and backing-store engine. One instance
// exists per resident actor; all methods are safe for concurrent use.
type Cache struct {
	db     *pebblestore.DB
	actor  id.ID
	out    *gate.OutputGate
	hooks  actorstore.Hooks
	logger log.Logger

	retention  time.Duration
	flushDelay time.Duration

	// flushMu serializes batch commits so the pre-images read during a
	// flush reflect every earlier flush.
	flushMu sync.Mutex

	mu            sync.Mutex
	clean         map[string]cleanEntry
	dirty         map[string]*stagedWrite
	flushing      map[string]*stagedWrite
	alarmDirty    *stagedAlarm
	alarmFlushing *stagedAlarm
	alarmMs       int64 // committed alarm; 0 = none
	alarmLoaded   bool
	lastSeq       uint64
	floorSeq      uint64
	epoch         uint64

	closeOnce   sync.Once
	flushSignal chan struct{}
	done        chan struct{}
	wg          sync.WaitGroup
}

// Open loads an actor's durable state and starts the background flusher.
// Any restore scheduled by a previous session is applied before the first
// read can observe the keyspace.
func Open(db *pebblestore.DB, actor id.ID, out *gate.OutputGate, opts Options) (*Cache, error) {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	if opts.Hooks == nil {
		opts.Hooks = actorstore.NopHooks{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}

	c := &Cache{
		db:          db,
		actor:       actor,
		out:         out,
		hooks:       opts.Hooks,
		logger:      opts.Logger.WithComponent("actorcache"),
		retention:   opts.Retention,
		flushDelay:  opts.FlushDelay,
		clean:       make(map[string]cleanEntry),
		dirty:       make(map[string]*stagedWrite),
		flushSignal: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	var err error
	if c.lastSeq, err = c.loadCounter(keySeq(actor)); err != nil {
		return nil, err
	}
	if c.floorSeq, err = c.loadCounter(keyFloor(actor)); err != nil {
		return nil, err
	}
	if c.epoch, err = c.loadCounter(keyEpoch(actor)); err != nil {
		return nil, err
	}
	c.epoch++
	if err := db.Set(keyEpoch(actor), be8(c.epoch)); err != nil {
		return nil, err
	}

	if raw, err := db.Get(keyRestore(actor)); err == nil {
		if err := c.applyScheduledRestore(raw); err != nil {
			return nil, fmt.Errorf("actorcache: apply scheduled restore: %w", err)
		}
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return nil, err
	}

	c.wg.Add(1)
	go c.flusher()
	return c, nil
}

func (c *Cache) loadCounter(key []byte) (uint64, error) {
	raw, err := c.db.Get(key)
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	v, ok := decodeBE8(raw)
	if !ok {
		return 0, fmt.Errorf("actorcache: corrupt counter at %q", key)
	}
	return v, nil
}

// Close flushes staged writes and stops the background flusher.
func (c *Cache) Close(ctx context.Context) error {
	err := c.flushNow(ctx)
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	return err
}

func (c *Cache) flusher() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.flushSignal:
		}
		if c.flushDelay > 0 {
			t := time.NewTimer(c.flushDelay)
			select {
			case <-c.done:
				t.Stop()
			case <-t.C:
			}
		}
		if err := c.flushNow(context.Background()); err != nil {
			c.logger.Error("background flush failed", log.Err(err))
		}
	}
}

func (c *Cache) signalFlush() {
	select {
	case c.flushSignal <- struct{}{}:
	default:
	}
}

// flushNow commits all staged writes as one atomic batch under a fresh
// sequence number. On failure every staged confirmation resolves with the
// error, which breaks the output gate: the whole staged set fails together.
func (c *Cache) flushNow(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	// A broken gate means the staged set already failed as a unit. Nothing
	// staged may reach the store, on teardown or otherwise.
	if err := c.out.Err(); err != nil {
		c.discardStaged(err)
		return err
	}

	c.mu.Lock()
	if len(c.dirty) == 0 && c.alarmDirty == nil {
		c.mu.Unlock()
		return nil
	}
	c.flushing, c.dirty = c.dirty, make(map[string]*stagedWrite)
	c.alarmFlushing, c.alarmDirty = c.alarmDirty, nil
	seq := c.lastSeq + 1
	c.mu.Unlock()

	err := c.commitFlush(ctx, seq)

	c.mu.Lock()
	writes, alarm := c.flushing, c.alarmFlushing
	c.flushing, c.alarmFlushing = nil, nil
	if err == nil {
		c.lastSeq = seq
		for key, w := range writes {
			switch {
			case w.del:
				c.clean[key] = cleanEntry{}
			case w.noCache:
				delete(c.clean, key)
			default:
				c.clean[key] = cleanEntry{value: w.value, present: true}
			}
		}
		if alarm != nil {
			c.alarmLoaded = true
			if alarm.clear {
				c.alarmMs = 0
			} else {
				c.alarmMs = alarm.at
			}
		}
	}
	c.mu.Unlock()

	resolveStaged(writes, alarm, err)

	if err == nil && seq%trimEveryFlushes == 0 {
		if terr := c.trimRetention(ctx); terr != nil {
			c.logger.Warn("retention trim failed", log.Err(terr))
		}
	}
	return err
}

func (c *Cache) commitFlush(ctx context.Context, seq uint64) error {
	b := c.db.NewBatch()
	defer b.Close()

	for key, w := range c.flushing {
		kvKey := keyKV(c.actor, key)
		prev, perr := c.db.Get(kvKey)
		present := true
		if perr != nil {
			if !errors.Is(perr, pebblestore.ErrNotFound) {
				return perr
			}
			present, prev = false, nil
		}
		if err := b.Set(keyHist(c.actor, seq, key), encodeHist(prev, present), nil); err != nil {
			return err
		}
		if w.del {
			if err := b.Delete(kvKey, nil); err != nil {
				return err
			}
		} else if err := b.Set(kvKey, w.value, nil); err != nil {
			return err
		}
	}
	// Alarm changes carry no pre-image; the alarm is outside restore scope.
	if a := c.alarmFlushing; a != nil {
		if a.clear {
			if err := b.Delete(keyAlarm(c.actor), nil); err != nil {
				return err
			}
		} else if err := b.Set(keyAlarm(c.actor), encodeMs(a.at), nil); err != nil {
			return err
		}
	}
	if err := b.Set(keySeq(c.actor), be8(seq), nil); err != nil {
		return err
	}
	if err := b.Set(keyBookmarkSample(c.actor, seq), encodeMs(nowMs()), nil); err != nil {
		return err
	}
	return c.db.CommitBatch(ctx, b)
}

// discardStaged drops the staged set without committing it and fails every
// attached confirmation with the break error. Caller holds flushMu, so the
// flushing maps are empty.
func (c *Cache) discardStaged(err error) {
	c.mu.Lock()
	writes, alarm := c.dirty, c.alarmDirty
	c.dirty = make(map[string]*stagedWrite)
	c.alarmDirty = nil
	c.mu.Unlock()
	resolveStaged(writes, alarm, err)
}

func resolveStaged(writes map[string]*stagedWrite, alarm *stagedAlarm, err error) {
	for _, w := range writes {
		for _, r := range w.resolves {
			r(err)
		}
	}
	if alarm != nil {
		for _, r := range alarm.resolves {
			r(err)
		}
	}
}

// lookupStaged reports the visible value for a key considering the dirty
// and flushing layers. known=false means neither layer has an opinion.
// Caller holds mu.
func (c *Cache) lookupStaged(key string) (val []byte, present, known bool) {
	if w, ok := c.dirty[key]; ok {
		return w.value, !w.del, true
	}
	if w, ok := c.flushing[key]; ok {
		return w.value, !w.del, true
	}
	return nil, false, false
}

// stageLocked merges a write into the dirty set, carrying forward any
// confirmations already attached to a superseded write. Caller holds mu.
func (c *Cache) stageLocked(key string, w stagedWrite, resolve func(error)) {
	if prev, ok := c.dirty[key]; ok {
		w.resolves = append(prev.resolves, resolve)
	} else {
		w.resolves = []func(error){resolve}
	}
	staged := w
	c.dirty[key] = &staged
}

func (c *Cache) stageAlarmLocked(at int64, clear bool, resolve func(error)) {
	a := &stagedAlarm{at: at, clear: clear, resolves: []func(error){resolve}}
	if prev := c.alarmDirty; prev != nil {
		a.resolves = append(prev.resolves, resolve)
	}
	c.alarmDirty = a
}

// trimRetention drops pre-images and time samples outside the retention
// window and advances the restore floor to the newest trimmed sequence.
func (c *Cache) trimRetention(ctx context.Context) error {
	cutoff := nowMs() - c.retention.Milliseconds()
	lo := keyBookmarkPrefix(c.actor)
	it, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: prefixEnd(lo)})
	if err != nil {
		return err
	}
	var boundary uint64
	for ok := it.First(); ok; ok = it.Next() {
		ts, ok := decodeMs(it.Value())
		if !ok {
			continue
		}
		if ts > cutoff {
			break
		}
		if seq, ok := parseBookmarkSample(c.actor, it.Key()); ok {
			boundary = seq
		}
	}
	if err := it.Close(); err != nil {
		return err
	}

	c.mu.Lock()
	floor := c.floorSeq
	c.mu.Unlock()
	if boundary == 0 || boundary <= floor {
		return nil
	}
	return c.advanceFloor(ctx, boundary)
}

// advanceFloor makes boundary the oldest restorable sequence. Pre-images at
// or below the boundary are unreachable by any allowed restore target.
func (c *Cache) advanceFloor(ctx context.Context, boundary uint64) error {
	b := c.db.NewBatch()
	defer b.Close()

	histLo := keyHistPrefix(c.actor)
	histHi := appendBE8(append([]byte(nil), histLo...), boundary+1)
	if err := b.DeleteRange(histLo, histHi, nil); err != nil {
		return err
	}
	bkLo := keyBookmarkPrefix(c.actor)
	if err := b.DeleteRange(bkLo, keyBookmarkSample(c.actor, boundary), nil); err != nil {
		return err
	}
	if err := b.Set(keyFloor(c.actor), be8(boundary), nil); err != nil {
		return err
	}
	if err := c.db.CommitBatch(ctx, b); err != nil {
		return err
	}

	c.mu.Lock()
	if boundary > c.floorSeq {
		c.floorSeq = boundary
	}
	c.mu.Unlock()
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
