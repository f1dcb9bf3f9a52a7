package runtime

import (
	"context"
	"testing"

	"github.com/rzbill/keel/internal/actorstore"
	cfgpkg "github.com/rzbill/keel/internal/config"
	pebblestore "github.com/rzbill/keel/internal/storage/pebble"
	"github.com/rzbill/keel/pkg/id"
)

func openTestRuntime(t *testing.T, dataDir string) *Runtime {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = dataDir
	rt, err := Open(Options{
		DataDir: dataDir,
		Fsync:   pebblestore.FsyncModeNever,
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestActorRoundTrip(t *testing.T) {
	rt := openTestRuntime(t, t.TempDir())
	ctx := context.Background()

	actor := id.ID{7}
	st, err := rt.Actor(actor)
	if err != nil {
		t.Fatalf("actor: %v", err)
	}
	if err := st.Storage().Put(ctx, "k", []byte("v"), actorstore.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}

	again, err := rt.Actor(actor)
	if err != nil {
		t.Fatalf("second actor: %v", err)
	}
	if again != st {
		t.Fatal("resident actor was not reused")
	}
	if rt.ResidentActors() != 1 {
		t.Fatalf("resident = %d", rt.ResidentActors())
	}
}

func TestDeactivateAndColdStart(t *testing.T) {
	rt := openTestRuntime(t, t.TempDir())
	ctx := context.Background()

	actor := id.ID{9}
	st, err := rt.Actor(actor)
	if err != nil {
		t.Fatalf("actor: %v", err)
	}
	if err := st.Storage().Put(ctx, "durable", []byte("yes"), actorstore.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := rt.Deactivate(ctx, actor); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if rt.ResidentActors() != 0 {
		t.Fatalf("resident after deactivate = %d", rt.ResidentActors())
	}

	st2, err := rt.Actor(actor)
	if err != nil {
		t.Fatalf("cold start: %v", err)
	}
	if st2 == st {
		t.Fatal("cold start reused the ended session")
	}
	v, ok, err := st2.Storage().Get(ctx, "durable", actorstore.GetOptions{})
	if err != nil || !ok || string(v) != "yes" {
		t.Fatalf("get after cold start = %q, %v, %v", v, ok, err)
	}
}

func TestActorsAreIsolated(t *testing.T) {
	rt := openTestRuntime(t, t.TempDir())
	ctx := context.Background()

	a, err := rt.Actor(id.ID{1})
	if err != nil {
		t.Fatalf("actor a: %v", err)
	}
	b, err := rt.Actor(id.ID{2})
	if err != nil {
		t.Fatalf("actor b: %v", err)
	}
	if err := a.Storage().Put(ctx, "shared-key", []byte("a"), actorstore.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := b.Storage().Get(ctx, "shared-key", actorstore.GetOptions{}); ok {
		t.Fatal("actor b sees actor a's key")
	}
}

func TestCheckHealthAndClose(t *testing.T) {
	rt := openTestRuntime(t, t.TempDir())
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("checkHealth: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := rt.Actor(id.ID{3}); err == nil {
		t.Fatal("actor after close succeeded")
	}
}
