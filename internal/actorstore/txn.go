package actorstore

import (
	"context"
	"sync"
)

type txnState int

const (
	txnOpen txnState = iota
	txnCommitted
	txnRolledBack
)

// Txn is the scoped view handed to a Transaction closure. It shares the
// facade's verbs against a staged overlay; writes land atomically when the
// closure returns nil. A closed Txn rejects every further operation.
type Txn struct {
	storageOps
	parent *Storage

	mu    sync.Mutex
	inner CacheTransaction
	state txnState
}

func newTxn(parent *Storage, inner CacheTransaction) *Txn {
	t := &Txn{parent: parent, inner: inner}
	t.storageOps = storageOps{own: t, in: parent.in, out: parent.out, hooks: parent.hooks}
	return t
}

func (t *Txn) cache(op opName) (CacheOps, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txnOpen {
		return nil, ErrTxnClosed
	}
	return t.inner, nil
}

func (t *Txn) directIO() bool { return false }

// DeleteAll is rejected inside transactions; a full-keyspace wipe does not
// compose with staged writes.
func (t *Txn) DeleteAll(context.Context, PutOptions) error {
	return ErrTxnDeleteAll
}

// Rollback abandons the transaction's staged writes. Calling it after the
// transaction already closed is a no-op.
func (t *Txn) Rollback(ctx context.Context) error {
	if err := t.admit(ctx, opRollback, false); err != nil {
		return err
	}
	t.maybeRollback()
	return nil
}

// maybeCommit commits unless the transaction was already closed, in which
// case the earlier outcome stands.
func (t *Txn) maybeCommit(ctx context.Context) error {
	t.mu.Lock()
	if t.state != txnOpen {
		t.mu.Unlock()
		return nil
	}
	t.state = txnCommitted
	inner := t.inner
	t.mu.Unlock()
	return inner.Commit(ctx)
}

func (t *Txn) maybeRollback() {
	t.mu.Lock()
	if t.state != txnOpen {
		t.mu.Unlock()
		return
	}
	t.state = txnRolledBack
	inner := t.inner
	t.mu.Unlock()
	_ = inner.Rollback()
}
