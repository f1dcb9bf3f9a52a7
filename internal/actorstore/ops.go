package actorstore

import (
	"context"
	"time"

	"github.com/rzbill/keel/internal/gate"
)

// opName identifies a storage verb for dispatch decisions.
type opName string

const (
	opGet         opName = "get"
	opList        opName = "list"
	opPut         opName = "put"
	opDelete      opName = "delete"
	opDeleteAll   opName = "deleteAll"
	opGetAlarm    opName = "getAlarm"
	opSetAlarm    opName = "setAlarm"
	opDeleteAlarm opName = "deleteAlarm"
	opRollback    opName = "rollback"
)

// readOnlyOp reports whether the verb stays valid after the output gate
// breaks. Reads and rollback cannot lose writes, so they are not rejected.
func readOnlyOp(op opName) bool {
	return op == opGet || op == opList || op == opRollback
}

// owner is the dispatch context behind the shared verbs: the facade itself,
// a transaction view, or the direct-I/O owner used by the SQL side-view.
type owner interface {
	cache(op opName) (CacheOps, error)
	directIO() bool
}

// storageOps implements the verbs shared by every owner. Storage and Txn
// embed it; behavior differences live entirely in the owner dispatch.
type storageOps struct {
	own   owner
	in    *gate.InputGate
	out   *gate.OutputGate
	hooks Hooks
}

// admit orders the operation behind the input gate unless concurrency was
// explicitly allowed, and rejects mutations once the output gate is broken.
func (o *storageOps) admit(ctx context.Context, op opName, allowConcurrency bool) error {
	if !readOnlyOp(op) {
		if err := o.out.Err(); err != nil {
			return err
		}
	}
	if allowConcurrency {
		return nil
	}
	start := time.Now()
	if err := o.in.Wait(ctx); err != nil {
		return err
	}
	if d := time.Since(start); d > 0 {
		o.hooks.InputGateWaited(d)
	}
	return nil
}

// Direct I/O owners force relaxed concurrency and cache bypass on every
// operation; their effects are immediately durable and must not be
// reordered behind gated work.

func (o *storageOps) configureGet(opts GetOptions) GetOptions {
	if o.own.directIO() {
		opts.AllowConcurrency = true
		opts.NoCache = true
	}
	return opts
}

func (o *storageOps) configureList(opts ListOptions) ListOptions {
	if o.own.directIO() {
		opts.AllowConcurrency = true
		opts.NoCache = true
	}
	return opts
}

func (o *storageOps) configureWrite(opts PutOptions) PutOptions {
	if o.own.directIO() {
		opts.AllowConcurrency = true
		opts.NoCache = true
	}
	return opts
}

func (o *storageOps) configureAlarmRead(opts GetAlarmOptions) GetAlarmOptions {
	if o.own.directIO() {
		opts.AllowConcurrency = true
	}
	return opts
}

func (o *storageOps) configureAlarmWrite(opts SetAlarmOptions) SetAlarmOptions {
	if o.own.directIO() {
		opts.AllowConcurrency = true
	}
	return opts
}

// Get returns the stored value for key; absence is reported via the bool.
func (o *storageOps) Get(ctx context.Context, key string, opts GetOptions) ([]byte, bool, error) {
	opts = o.configureGet(opts)
	c, err := o.own.cache(opGet)
	if err != nil {
		return nil, false, err
	}
	if err := o.admit(ctx, opGet, opts.AllowConcurrency); err != nil {
		return nil, false, err
	}
	return c.Get(ctx, key, opts.read())
}

// GetMultiple returns the present subset of keys as a map.
func (o *storageOps) GetMultiple(ctx context.Context, keys []string, opts GetOptions) (map[string][]byte, error) {
	opts = o.configureGet(opts)
	c, err := o.own.cache(opGet)
	if err != nil {
		return nil, err
	}
	if err := o.admit(ctx, opGet, opts.AllowConcurrency); err != nil {
		return nil, err
	}
	return c.GetMultiple(ctx, keys, opts.read())
}

// List scans a key range in order after validating the bounds.
func (o *storageOps) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	opts = o.configureList(opts)
	r, err := normalizeRange(opts)
	if err != nil {
		return nil, err
	}
	c, err := o.own.cache(opList)
	if err != nil {
		return nil, err
	}
	if err := o.admit(ctx, opList, opts.AllowConcurrency); err != nil {
		return nil, err
	}
	return c.List(ctx, r, opts.read())
}

func normalizeRange(opts ListOptions) (ListRange, error) {
	if opts.Limit < 0 {
		return ListRange{}, ErrInvalidLimit
	}
	if opts.Start != "" && opts.StartAfter != "" {
		return ListRange{}, ErrConflictingStart
	}
	start := opts.Start
	if opts.StartAfter != "" {
		// The smallest key strictly greater than StartAfter.
		start = opts.StartAfter + "\x00"
	}
	return ListRange{
		Start:   start,
		End:     opts.End,
		Prefix:  opts.Prefix,
		Reverse: opts.Reverse,
		Limit:   opts.Limit,
	}, nil
}

func (o *storageOps) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	opts = o.configureWrite(opts)
	c, err := o.own.cache(opPut)
	if err != nil {
		return err
	}
	if err := o.admit(ctx, opPut, opts.AllowConcurrency); err != nil {
		return err
	}
	return c.Put(ctx, key, value, opts.write())
}

// PutMultiple writes the entries as one atomic group.
func (o *storageOps) PutMultiple(ctx context.Context, entries []Entry, opts PutOptions) error {
	opts = o.configureWrite(opts)
	c, err := o.own.cache(opPut)
	if err != nil {
		return err
	}
	if err := o.admit(ctx, opPut, opts.AllowConcurrency); err != nil {
		return err
	}
	return c.PutMultiple(ctx, entries, opts.write())
}

// Delete reports whether the key had a value.
func (o *storageOps) Delete(ctx context.Context, key string, opts PutOptions) (bool, error) {
	opts = o.configureWrite(opts)
	c, err := o.own.cache(opDelete)
	if err != nil {
		return false, err
	}
	if err := o.admit(ctx, opDelete, opts.AllowConcurrency); err != nil {
		return false, err
	}
	return c.Delete(ctx, key, opts.write())
}

// DeleteMultiple reports how many of the keys had a value.
func (o *storageOps) DeleteMultiple(ctx context.Context, keys []string, opts PutOptions) (int, error) {
	opts = o.configureWrite(opts)
	c, err := o.own.cache(opDelete)
	if err != nil {
		return 0, err
	}
	if err := o.admit(ctx, opDelete, opts.AllowConcurrency); err != nil {
		return 0, err
	}
	return c.DeleteMultiple(ctx, keys, opts.write())
}

// GetAlarm returns the scheduled wake time, if any.
func (o *storageOps) GetAlarm(ctx context.Context, opts GetAlarmOptions) (time.Time, bool, error) {
	opts = o.configureAlarmRead(opts)
	c, err := o.own.cache(opGetAlarm)
	if err != nil {
		return time.Time{}, false, err
	}
	if err := o.admit(ctx, opGetAlarm, opts.AllowConcurrency); err != nil {
		return time.Time{}, false, err
	}
	return c.GetAlarm(ctx, opts.read())
}

func (o *storageOps) SetAlarm(ctx context.Context, at time.Time, opts SetAlarmOptions) error {
	opts = o.configureAlarmWrite(opts)
	c, err := o.own.cache(opSetAlarm)
	if err != nil {
		return err
	}
	if err := o.admit(ctx, opSetAlarm, opts.AllowConcurrency); err != nil {
		return err
	}
	return c.SetAlarm(ctx, at, opts.write())
}

func (o *storageOps) DeleteAlarm(ctx context.Context, opts SetAlarmOptions) error {
	opts = o.configureAlarmWrite(opts)
	c, err := o.own.cache(opDeleteAlarm)
	if err != nil {
		return err
	}
	if err := o.admit(ctx, opDeleteAlarm, opts.AllowConcurrency); err != nil {
		return err
	}
	return c.DeleteAlarm(ctx, opts.write())
}
