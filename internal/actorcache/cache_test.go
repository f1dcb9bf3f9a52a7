package actorcache

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rzbill/keel/internal/actorstore"
	"github.com/rzbill/keel/internal/gate"
	pebblestore "github.com/rzbill/keel/internal/storage/pebble"
	"github.com/rzbill/keel/pkg/id"
)

var testActor = id.ID{0xA1, 0x02}

func openTestDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// openSession starts a fresh cache session over db, as a cold start would.
func openSession(t *testing.T, db *pebblestore.DB) (*Cache, *gate.OutputGate) {
	t.Helper()
	out := gate.NewOutput()
	c, err := Open(db, testActor, out, Options{FlushDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	return c, out
}

func closeSession(t *testing.T, c *Cache) {
	t.Helper()
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close cache: %v", err)
	}
}

func mustPut(t *testing.T, ops actorstore.CacheOps, key, value string) {
	t.Helper()
	if err := ops.Put(context.Background(), key, []byte(value), actorstore.WriteOptions{}); err != nil {
		t.Fatalf("put %q: %v", key, err)
	}
}

func mustGet(t *testing.T, ops actorstore.CacheOps, key string) (string, bool) {
	t.Helper()
	v, ok, err := ops.Get(context.Background(), key, actorstore.ReadOptions{})
	if err != nil {
		t.Fatalf("get %q: %v", key, err)
	}
	return string(v), ok
}

func TestPutGetDelete(t *testing.T) {
	c, _ := openSession(t, openTestDB(t))
	defer closeSession(t, c)
	ctx := context.Background()

	mustPut(t, c, "a", "one")
	if v, ok := mustGet(t, c, "a"); !ok || v != "one" {
		t.Fatalf("get a = %q, %v", v, ok)
	}
	if _, ok := mustGet(t, c, "missing"); ok {
		t.Fatal("missing key reported present")
	}

	existed, err := c.Delete(ctx, "a", actorstore.WriteOptions{})
	if err != nil || !existed {
		t.Fatalf("delete a = %v, %v", existed, err)
	}
	existed, err = c.Delete(ctx, "a", actorstore.WriteOptions{})
	if err != nil || existed {
		t.Fatalf("second delete a = %v, %v", existed, err)
	}
	if _, ok := mustGet(t, c, "a"); ok {
		t.Fatal("deleted key still present")
	}
}

func TestGetSurvivesReopen(t *testing.T) {
	db := openTestDB(t)
	c, _ := openSession(t, db)
	mustPut(t, c, "k", "v")
	closeSession(t, c)

	c2, _ := openSession(t, db)
	defer closeSession(t, c2)
	if v, ok := mustGet(t, c2, "k"); !ok || v != "v" {
		t.Fatalf("reopened get = %q, %v", v, ok)
	}
}

func TestGetMultiple(t *testing.T) {
	c, _ := openSession(t, openTestDB(t))
	defer closeSession(t, c)

	mustPut(t, c, "a", "1")
	mustPut(t, c, "b", "2")
	got, err := c.GetMultiple(context.Background(), []string{"a", "b", "c"}, actorstore.ReadOptions{})
	if err != nil {
		t.Fatalf("getMultiple: %v", err)
	}
	if len(got) != 2 || string(got["a"]) != "1" || string(got["b"]) != "2" {
		t.Fatalf("getMultiple = %v", got)
	}
}

func TestListRanges(t *testing.T) {
	c, _ := openSession(t, openTestDB(t))
	defer closeSession(t, c)
	ctx := context.Background()

	for _, k := range []string{"a1", "a2", "b1", "b2", "c1"} {
		mustPut(t, c, k, "v-"+k)
	}

	keysOf := func(entries []actorstore.Entry) []string {
		out := make([]string, len(entries))
		for i, e := range entries {
			out[i] = e.Key
		}
		return out
	}
	sameKeys := func(got, want []string) bool {
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}

	cases := []struct {
		name string
		r    actorstore.ListRange
		want []string
	}{
		{"all", actorstore.ListRange{}, []string{"a1", "a2", "b1", "b2", "c1"}},
		{"prefix", actorstore.ListRange{Prefix: "a"}, []string{"a1", "a2"}},
		{"startEnd", actorstore.ListRange{Start: "a2", End: "c1"}, []string{"a2", "b1", "b2"}},
		{"limit", actorstore.ListRange{Limit: 2}, []string{"a1", "a2"}},
		{"reverseLimit", actorstore.ListRange{Reverse: true, Limit: 2}, []string{"c1", "b2"}},
		{"prefixWithStart", actorstore.ListRange{Prefix: "b", Start: "b2"}, []string{"b2"}},
	}
	for _, tc := range cases {
		entries, err := c.List(ctx, tc.r, actorstore.ReadOptions{})
		if err != nil {
			t.Fatalf("%s: list: %v", tc.name, err)
		}
		if got := keysOf(entries); !sameKeys(got, tc.want) {
			t.Errorf("%s: list = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTransactionVisibility(t *testing.T) {
	c, _ := openSession(t, openTestDB(t))
	defer closeSession(t, c)
	ctx := context.Background()

	mustPut(t, c, "k1", "v1")

	txn, err := c.NewTransaction()
	if err != nil {
		t.Fatalf("newTransaction: %v", err)
	}
	mustPut(t, txn, "k2", "v2")
	if v, ok := mustGet(t, txn, "k2"); !ok || v != "v2" {
		t.Fatalf("txn get k2 = %q, %v", v, ok)
	}
	if _, ok := mustGet(t, c, "k2"); ok {
		t.Fatal("uncommitted write visible outside transaction")
	}

	existed, err := txn.Delete(ctx, "k1", actorstore.WriteOptions{})
	if err != nil || !existed {
		t.Fatalf("txn delete k1 = %v, %v", existed, err)
	}
	if _, ok := mustGet(t, txn, "k1"); ok {
		t.Fatal("txn still sees deleted k1")
	}
	if _, ok := mustGet(t, c, "k1"); !ok {
		t.Fatal("txn delete leaked before commit")
	}

	entries, err := txn.List(ctx, actorstore.ListRange{}, actorstore.ReadOptions{})
	if err != nil {
		t.Fatalf("txn list: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "k2" {
		t.Fatalf("txn list = %v", entries)
	}

	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, ok := mustGet(t, c, "k1"); ok {
		t.Fatal("k1 survived committed delete")
	}
	if v, ok := mustGet(t, c, "k2"); !ok || v != "v2" {
		t.Fatalf("k2 after commit = %q, %v", v, ok)
	}
}

func TestTransactionRollback(t *testing.T) {
	c, _ := openSession(t, openTestDB(t))
	defer closeSession(t, c)
	ctx := context.Background()

	txn, err := c.NewTransaction()
	if err != nil {
		t.Fatalf("newTransaction: %v", err)
	}
	mustPut(t, txn, "k", "v")
	if err := txn.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, ok := mustGet(t, c, "k"); ok {
		t.Fatal("rolled-back write leaked")
	}
	if _, _, err := txn.Get(ctx, "k", actorstore.ReadOptions{}); !errors.Is(err, actorstore.ErrTxnClosed) {
		t.Fatalf("get on closed txn = %v, want ErrTxnClosed", err)
	}
	if err := txn.Commit(ctx); !errors.Is(err, actorstore.ErrTxnClosed) {
		t.Fatalf("commit after rollback = %v, want ErrTxnClosed", err)
	}
}

func TestNestedTransaction(t *testing.T) {
	c, _ := openSession(t, openTestDB(t))
	defer closeSession(t, c)
	ctx := context.Background()

	outer, err := c.NewTransaction()
	if err != nil {
		t.Fatalf("outer: %v", err)
	}
	mustPut(t, outer, "a", "1")

	inner, err := outer.NewTransaction()
	if err != nil {
		t.Fatalf("inner: %v", err)
	}
	mustPut(t, inner, "b", "2")
	if err := inner.Commit(ctx); err != nil {
		t.Fatalf("inner commit: %v", err)
	}

	if v, ok := mustGet(t, outer, "b"); !ok || v != "2" {
		t.Fatalf("outer does not see inner commit: %q, %v", v, ok)
	}
	if _, ok := mustGet(t, c, "b"); ok {
		t.Fatal("inner commit leaked past outer transaction")
	}

	if err := outer.Commit(ctx); err != nil {
		t.Fatalf("outer commit: %v", err)
	}
	if _, ok := mustGet(t, c, "a"); !ok {
		t.Fatal("a missing after outer commit")
	}
	if _, ok := mustGet(t, c, "b"); !ok {
		t.Fatal("b missing after outer commit")
	}
}

func TestUnconfirmedWriteConfirms(t *testing.T) {
	c, out := openSession(t, openTestDB(t))
	defer closeSession(t, c)
	ctx := context.Background()

	err := c.Put(ctx, "k", []byte("v"), actorstore.WriteOptions{AllowUnconfirmed: true})
	if err != nil {
		t.Fatalf("unconfirmed put: %v", err)
	}
	if v, ok := mustGet(t, c, "k"); !ok || v != "v" {
		t.Fatalf("staged read = %q, %v", v, ok)
	}
	if err := c.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if out.Pending() != 0 {
		t.Fatalf("pending after sync = %d", out.Pending())
	}
	raw, err := c.db.Get(keyKV(testActor, "k"))
	if err != nil || !bytes.Equal(raw, []byte("v")) {
		t.Fatalf("store read = %q, %v", raw, err)
	}
}

func TestBrokenGateRejectsWrites(t *testing.T) {
	c, out := openSession(t, openTestDB(t))
	ctx := context.Background()

	boom := errors.New("boom")
	out.Break(boom)

	if err := c.Put(ctx, "k", []byte("v"), actorstore.WriteOptions{}); !errors.Is(err, boom) {
		t.Fatalf("put on broken gate = %v", err)
	}
	if _, err := c.NewTransaction(); !errors.Is(err, boom) {
		t.Fatalf("newTransaction on broken gate = %v", err)
	}
	if err := c.Sync(ctx); !errors.Is(err, boom) {
		t.Fatalf("sync on broken gate = %v", err)
	}
	if err := c.Close(ctx); !errors.Is(err, boom) {
		t.Fatalf("close on broken gate = %v", err)
	}
}

func TestBrokenGateDiscardsStagedWrites(t *testing.T) {
	db := openTestDB(t)
	out := gate.NewOutput()
	// A long flush delay keeps the unconfirmed write staged until teardown.
	c, err := Open(db, testActor, out, Options{FlushDelay: time.Minute})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	ctx := context.Background()

	err = c.Put(ctx, "k", []byte("v"), actorstore.WriteOptions{AllowUnconfirmed: true})
	if err != nil {
		t.Fatalf("unconfirmed put: %v", err)
	}

	boom := errors.New("boom")
	out.Break(boom)
	if err := c.Close(ctx); !errors.Is(err, boom) {
		t.Fatalf("close after break = %v", err)
	}
	if out.Pending() != 0 {
		t.Fatalf("pending after discard = %d", out.Pending())
	}
	if _, err := db.Get(keyKV(testActor, "k")); !errors.Is(err, pebblestore.ErrNotFound) {
		t.Fatalf("staged write reached the store: %v", err)
	}

	// The next session cold-starts without the discarded write.
	c2, _ := openSession(t, db)
	defer closeSession(t, c2)
	if v, ok := mustGet(t, c2, "k"); ok {
		t.Fatalf("discarded write survived into the next session: %q", v)
	}
}

func TestAlarmLifecycle(t *testing.T) {
	c, _ := openSession(t, openTestDB(t))
	defer closeSession(t, c)
	ctx := context.Background()

	if _, ok, err := c.GetAlarm(ctx, actorstore.ReadOptions{}); err != nil || ok {
		t.Fatalf("initial alarm = %v, %v", ok, err)
	}

	at := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	if err := c.SetAlarm(ctx, at, actorstore.WriteOptions{}); err != nil {
		t.Fatalf("setAlarm: %v", err)
	}
	got, ok, err := c.GetAlarm(ctx, actorstore.ReadOptions{})
	if err != nil || !ok || got.UnixMilli() != at.UnixMilli() {
		t.Fatalf("getAlarm = %v, %v, %v", got, ok, err)
	}

	if err := c.DeleteAlarm(ctx, actorstore.WriteOptions{}); err != nil {
		t.Fatalf("deleteAlarm: %v", err)
	}
	if _, ok, _ := c.GetAlarm(ctx, actorstore.ReadOptions{}); ok {
		t.Fatal("alarm survived delete")
	}
}

func TestTransactionRejectsInvalidAlarm(t *testing.T) {
	c, _ := openSession(t, openTestDB(t))
	defer closeSession(t, c)
	ctx := context.Background()

	if err := c.SetAlarm(ctx, time.Time{}, actorstore.WriteOptions{}); err == nil {
		t.Fatal("zero alarm time accepted")
	}

	txn, err := c.NewTransaction()
	if err != nil {
		t.Fatalf("newTransaction: %v", err)
	}
	if err := txn.SetAlarm(ctx, time.Time{}, actorstore.WriteOptions{}); err == nil {
		t.Fatal("zero alarm time accepted inside a transaction")
	}
	if err := txn.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, ok, _ := c.GetAlarm(ctx, actorstore.ReadOptions{}); ok {
		t.Fatal("invalid alarm reached the engine")
	}
}

func TestDeleteAllPreservesAlarm(t *testing.T) {
	db := openTestDB(t)
	c, _ := openSession(t, db)
	ctx := context.Background()

	mustPut(t, c, "a", "1")
	mustPut(t, c, "b", "2")
	at := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	if err := c.SetAlarm(ctx, at, actorstore.WriteOptions{}); err != nil {
		t.Fatalf("setAlarm: %v", err)
	}

	if err := c.DeleteAll(ctx, actorstore.WriteOptions{}); err != nil {
		t.Fatalf("deleteAll: %v", err)
	}
	entries, err := c.List(ctx, actorstore.ListRange{}, actorstore.ReadOptions{})
	if err != nil || len(entries) != 0 {
		t.Fatalf("list after deleteAll = %v, %v", entries, err)
	}
	if _, ok := mustGet(t, c, "a"); ok {
		t.Fatal("entry survived deleteAll")
	}
	got, ok, err := c.GetAlarm(ctx, actorstore.ReadOptions{})
	if err != nil || !ok || got.UnixMilli() != at.UnixMilli() {
		t.Fatalf("alarm after deleteAll = %v, %v, %v", got, ok, err)
	}
	closeSession(t, c)

	// The alarm is durable across sessions too.
	c2, _ := openSession(t, db)
	defer closeSession(t, c2)
	got, ok, err = c2.GetAlarm(ctx, actorstore.ReadOptions{})
	if err != nil || !ok || got.UnixMilli() != at.UnixMilli() {
		t.Fatalf("alarm after reopen = %v, %v, %v", got, ok, err)
	}
}

func TestBookmarkRestoreAndUndo(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	c1, _ := openSession(t, db)
	mustPut(t, c1, "k", "v1")
	bm, err := c1.CurrentBookmark(ctx)
	if err != nil {
		t.Fatalf("currentBookmark: %v", err)
	}
	mustPut(t, c1, "k", "v2")
	mustPut(t, c1, "extra", "x")

	undo, err := c1.ScheduleRestore(ctx, bm)
	if err != nil {
		t.Fatalf("scheduleRestore: %v", err)
	}
	// The undo token names a future state; it cannot resolve within the
	// session that minted it.
	if _, err := c1.ScheduleRestore(ctx, undo); err == nil {
		t.Fatal("undo token resolved inside its own session")
	}
	closeSession(t, c1)

	c2, _ := openSession(t, db)
	if v, ok := mustGet(t, c2, "k"); !ok || v != "v1" {
		t.Fatalf("restored k = %q, %v", v, ok)
	}
	if _, ok := mustGet(t, c2, "extra"); ok {
		t.Fatal("extra survived restore")
	}

	if _, err := c2.ScheduleRestore(ctx, undo); err != nil {
		t.Fatalf("schedule undo: %v", err)
	}
	closeSession(t, c2)

	c3, _ := openSession(t, db)
	defer closeSession(t, c3)
	if v, ok := mustGet(t, c3, "k"); !ok || v != "v2" {
		t.Fatalf("undone k = %q, %v", v, ok)
	}
	if v, ok := mustGet(t, c3, "extra"); !ok || v != "x" {
		t.Fatalf("undone extra = %q, %v", v, ok)
	}
}

func TestBookmarkForTime(t *testing.T) {
	orig := nowMs
	defer func() { nowMs = orig }()
	cur := int64(1_700_000_000_000)
	nowMs = func() int64 { return cur }

	db := openTestDB(t)
	ctx := context.Background()

	c1, _ := openSession(t, db)
	mustPut(t, c1, "k", "old")
	cur += 10_000
	mustPut(t, c1, "k", "new")

	bm, err := c1.BookmarkForTime(ctx, time.UnixMilli(cur-5_000))
	if err != nil {
		t.Fatalf("bookmarkForTime: %v", err)
	}
	if _, err := c1.BookmarkForTime(ctx, time.UnixMilli(cur-int64((DefaultRetention+time.Hour)/time.Millisecond))); !errors.Is(err, actorstore.ErrRetention) {
		t.Fatalf("out-of-retention bookmarkForTime = %v", err)
	}

	if _, err := c1.ScheduleRestore(ctx, bm); err != nil {
		t.Fatalf("scheduleRestore: %v", err)
	}
	closeSession(t, c1)

	c2, _ := openSession(t, db)
	defer closeSession(t, c2)
	if v, ok := mustGet(t, c2, "k"); !ok || v != "old" {
		t.Fatalf("time-restored k = %q, %v", v, ok)
	}
}

func TestDeleteAllInvalidatesOldBookmarks(t *testing.T) {
	c, _ := openSession(t, openTestDB(t))
	defer closeSession(t, c)
	ctx := context.Background()

	mustPut(t, c, "a", "1")
	bm, err := c.CurrentBookmark(ctx)
	if err != nil {
		t.Fatalf("currentBookmark: %v", err)
	}
	if err := c.DeleteAll(ctx, actorstore.WriteOptions{}); err != nil {
		t.Fatalf("deleteAll: %v", err)
	}
	if _, err := c.ScheduleRestore(ctx, bm); !errors.Is(err, actorstore.ErrRetention) {
		t.Fatalf("restore past deleteAll = %v, want ErrRetention", err)
	}
}
