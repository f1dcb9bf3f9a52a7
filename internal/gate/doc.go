// Package gate implements the two admission gates that give an actor its
// single-writer semantics.
//
// The input gate serializes mutating storage operations: operations wait for
// admission unless the caller opted into relaxed concurrency, and an
// exclusive lock (used by block-concurrency sections) holds back all
// admissions until released.
//
// The output gate tracks writes that have been accepted but not yet
// confirmed by the backing store. Waiting on it drains the unconfirmed set;
// breaking it fails every unconfirmed write and every future waiter, which
// is how an actor abort guarantees that no write the caller believed
// succeeded is ever silently lost: either all unconfirmed writes land, or
// the session is torn down.
package gate
