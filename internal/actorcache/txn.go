package actorcache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rzbill/keel/internal/actorstore"
)

// stagedSink is the parent side of a transaction: the engine itself, or an
// enclosing transaction for nested commits.
type stagedSink interface {
	actorstore.CacheOps
	applyStaged(ctx context.Context, writes map[string]*stagedWrite, alarm *stagedAlarm) error
}

// NewTransaction opens a staged view over the engine.
func (c *Cache) NewTransaction() (actorstore.CacheTransaction, error) {
	if err := c.out.Err(); err != nil {
		return nil, err
	}
	return newTxn(c, c.hooks), nil
}

// applyStaged lands a transaction's writes as one dirty-set update followed
// by a single flush, so they commit in one atomic batch.
func (c *Cache) applyStaged(ctx context.Context, writes map[string]*stagedWrite, alarm *stagedAlarm) error {
	if len(writes) == 0 && alarm == nil {
		return nil
	}
	if err := c.out.Err(); err != nil {
		return err
	}
	resolve := c.out.Lock()
	c.mu.Lock()
	for key, w := range writes {
		c.stageLocked(key, stagedWrite{value: w.value, del: w.del, noCache: w.noCache}, resolve)
	}
	if alarm != nil {
		c.stageAlarmLocked(alarm.at, alarm.clear, resolve)
	}
	c.mu.Unlock()
	return c.flushNow(ctx)
}

// Txn overlays staged writes on a parent view. It is not meant for
// concurrent use by multiple goroutines, but guards its state so misuse
// fails cleanly rather than corrupting the engine.
type Txn struct {
	parent stagedSink
	hooks  actorstore.Hooks

	mu     sync.Mutex
	writes map[string]*stagedWrite
	alarm  *stagedAlarm
	closed bool
}

func newTxn(parent stagedSink, hooks actorstore.Hooks) *Txn {
	return &Txn{
		parent: parent,
		hooks:  hooks,
		writes: make(map[string]*stagedWrite),
	}
}

func (t *Txn) Get(ctx context.Context, key string, opts actorstore.ReadOptions) ([]byte, bool, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, false, actorstore.ErrTxnClosed
	}
	if w, ok := t.writes[key]; ok {
		v, present := cloneBytes(w.value), !w.del
		t.mu.Unlock()
		t.hooks.ReadUnits(1, true)
		return v, present, nil
	}
	t.mu.Unlock()
	return t.parent.Get(ctx, key, opts)
}

func (t *Txn) GetMultiple(ctx context.Context, keys []string, opts actorstore.ReadOptions) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, ok, err := t.Get(ctx, k, opts)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

// List merges the parent's view with this transaction's staged writes. The
// parent scan runs unlimited so overlay inserts cannot be displaced past a
// truncated window; the limit applies to the merged result.
func (t *Txn) List(ctx context.Context, r actorstore.ListRange, opts actorstore.ReadOptions) ([]actorstore.Entry, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, actorstore.ErrTxnClosed
	}
	overlay := make(map[string]*stagedWrite)
	for k, w := range t.writes {
		if keyInRange(k, r) {
			overlay[k] = w
		}
	}
	t.mu.Unlock()

	base := r
	base.Limit = 0
	entries, err := t.parent.List(ctx, base, opts)
	if err != nil {
		return nil, err
	}

	if len(overlay) > 0 {
		merged := make(map[string][]byte, len(entries)+len(overlay))
		for _, e := range entries {
			merged[e.Key] = e.Value
		}
		for k, w := range overlay {
			if w.del {
				delete(merged, k)
			} else {
				merged[k] = cloneBytes(w.value)
			}
		}
		entries = make([]actorstore.Entry, 0, len(merged))
		for k, v := range merged {
			entries = append(entries, actorstore.Entry{Key: k, Value: v})
		}
		sort.Slice(entries, func(i, j int) bool {
			if r.Reverse {
				return entries[i].Key > entries[j].Key
			}
			return entries[i].Key < entries[j].Key
		})
	}
	if r.Limit > 0 && len(entries) > r.Limit {
		entries = entries[:r.Limit]
	}
	return entries, nil
}

func keyInRange(key string, r actorstore.ListRange) bool {
	if r.Prefix != "" && !strings.HasPrefix(key, r.Prefix) {
		return false
	}
	if key < r.Start {
		return false
	}
	if r.End != "" && key >= r.End {
		return false
	}
	return true
}

func (t *Txn) Put(ctx context.Context, key string, value []byte, opts actorstore.WriteOptions) error {
	return t.PutMultiple(ctx, []actorstore.Entry{{Key: key, Value: value}}, opts)
}

func (t *Txn) PutMultiple(ctx context.Context, entries []actorstore.Entry, opts actorstore.WriteOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return actorstore.ErrTxnClosed
	}
	for _, e := range entries {
		t.writes[e.Key] = &stagedWrite{value: cloneBytes(e.Value), noCache: opts.NoCache}
	}
	t.hooks.WriteUnits(len(entries))
	return nil
}

func (t *Txn) Delete(ctx context.Context, key string, opts actorstore.WriteOptions) (bool, error) {
	n, err := t.DeleteMultiple(ctx, []string{key}, opts)
	return n > 0, err
}

func (t *Txn) DeleteMultiple(ctx context.Context, keys []string, opts actorstore.WriteOptions) (int, error) {
	existed := 0
	unknown := make([]string, 0, len(keys))
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, actorstore.ErrTxnClosed
	}
	for _, k := range keys {
		if w, ok := t.writes[k]; ok {
			if !w.del {
				existed++
			}
		} else {
			unknown = append(unknown, k)
		}
	}
	t.mu.Unlock()

	for _, k := range unknown {
		_, present, err := t.parent.Get(ctx, k, actorstore.ReadOptions{})
		if err != nil {
			return 0, err
		}
		if present {
			existed++
		}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, actorstore.ErrTxnClosed
	}
	for _, k := range keys {
		t.writes[k] = &stagedWrite{del: true, noCache: opts.NoCache}
	}
	t.mu.Unlock()
	t.hooks.DeleteUnits(existed)
	return existed, nil
}

func (t *Txn) GetAlarm(ctx context.Context, opts actorstore.ReadOptions) (time.Time, bool, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return time.Time{}, false, actorstore.ErrTxnClosed
	}
	if a := t.alarm; a != nil {
		t.mu.Unlock()
		return alarmTime(a.at, a.clear)
	}
	t.mu.Unlock()
	return t.parent.GetAlarm(ctx, opts)
}

func (t *Txn) SetAlarm(ctx context.Context, at time.Time, opts actorstore.WriteOptions) error {
	ms := at.UnixMilli()
	if ms <= 0 {
		return fmt.Errorf("actorcache: alarm time %v is not representable", at)
	}
	return t.stageAlarm(ms, false)
}

func (t *Txn) DeleteAlarm(ctx context.Context, opts actorstore.WriteOptions) error {
	return t.stageAlarm(0, true)
}

func (t *Txn) stageAlarm(at int64, clear bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return actorstore.ErrTxnClosed
	}
	t.alarm = &stagedAlarm{at: at, clear: clear}
	t.hooks.WriteUnits(1)
	return nil
}

// NewTransaction opens a nested transaction whose Commit merges into this
// transaction's staging.
func (t *Txn) NewTransaction() (actorstore.CacheTransaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, actorstore.ErrTxnClosed
	}
	return newTxn(t, t.hooks), nil
}

func (t *Txn) applyStaged(ctx context.Context, writes map[string]*stagedWrite, alarm *stagedAlarm) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return actorstore.ErrTxnClosed
	}
	for k, w := range writes {
		t.writes[k] = w
	}
	if alarm != nil {
		t.alarm = alarm
	}
	return nil
}

// Commit applies the staged writes to the parent as one atomic group.
func (t *Txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return actorstore.ErrTxnClosed
	}
	t.closed = true
	writes, alarm := t.writes, t.alarm
	t.mu.Unlock()
	return t.parent.applyStaged(ctx, writes, alarm)
}

// Rollback discards the staged writes. On an already closed transaction it
// is a no-op.
func (t *Txn) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.writes = nil
	t.alarm = nil
	return nil
}
