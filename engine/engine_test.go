package engine

import (
	"io"
	"testing"

	"github.com/gophercache/slabengine/cache"
	"github.com/gophercache/slabengine/log"
)

type fakeClock struct{ now uint32 }

func (c *fakeClock) Now() uint32 { return c.now }
func (c *fakeClock) Realtime(exptime int64) uint32 {
	if exptime == 0 {
		return 0
	}
	return c.now + uint32(exptime)
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: 1000}
	cfg := DefaultConfig()
	cfg.CacheSize = 8 * 1024 * 1024
	e, err := New(cfg, clk, log.NewLogger(log.ErrorLevel, io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	return e, clk
}

func TestEngineSetGet(t *testing.T) {
	e, _ := newTestEngine(t)

	it, res, err := e.Allocate([]byte("k"), 0, 0, len("v\r\n"))
	if err != nil || res != Success {
		t.Fatalf("allocate: res=%v err=%v", res, err)
	}
	copy(it.Value, "v\r\n")
	if res, err := e.Store(it, cache.OpSet); err != nil || res != Success {
		t.Fatalf("store: res=%v err=%v", res, err)
	}
	e.Release(it)

	got, res, err := e.Get([]byte("k"))
	if err != nil || res != Success {
		t.Fatalf("get: res=%v err=%v", res, err)
	}
	defer e.Release(got)
	if string(got.Value) != "v\r\n" {
		t.Fatalf("value = %q", got.Value)
	}
}

func TestEngineGetMissing(t *testing.T) {
	e, _ := newTestEngine(t)
	_, res, err := e.Get([]byte("missing"))
	if res != KeyNotFound {
		t.Fatalf("res = %v, want KeyNotFound", res)
	}
	if err == nil {
		t.Fatal("expected non-nil error")
	}
}

func TestEngineRemove(t *testing.T) {
	e, _ := newTestEngine(t)
	it, _, _ := e.Allocate([]byte("k"), 0, 0, len("v\r\n"))
	copy(it.Value, "v\r\n")
	e.Store(it, cache.OpSet)
	e.Release(it)

	if res, err := e.Remove([]byte("k")); err != nil || res != Success {
		t.Fatalf("remove: res=%v err=%v", res, err)
	}
	if _, res, _ := e.Get([]byte("k")); res != KeyNotFound {
		t.Fatalf("get after remove: res=%v, want KeyNotFound", res)
	}
	if res, _ := e.Remove([]byte("k")); res != KeyNotFound {
		t.Fatalf("remove of missing key: res=%v, want KeyNotFound", res)
	}
}

func TestEngineRemoveExpiredKey(t *testing.T) {
	e, clk := newTestEngine(t)
	it, _, err := e.Allocate([]byte("k"), 0, 10, len("v\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	copy(it.Value, "v\r\n")
	e.Store(it, cache.OpSet)
	e.Release(it)

	clk.now += 20 // k is now linked but expired.

	if res, err := e.Remove([]byte("k")); res != KeyNotFound || err == nil {
		t.Fatalf("remove of expired key: res=%v err=%v, want KeyNotFound/non-nil error", res, err)
	}
}

func TestEngineArithmeticAndStats(t *testing.T) {
	e, _ := newTestEngine(t)
	it, _, err := e.Allocate([]byte("n"), 0, 0, len("1\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	copy(it.Value, "1\r\n")
	e.Store(it, cache.OpAdd)
	e.Release(it)

	_, result, res, err := e.Arithmetic([]byte("n"), true, false, 4, 0, 0, 0)
	if err != nil || res != Success {
		t.Fatalf("arithmetic: res=%v err=%v", res, err)
	}
	if result != 5 {
		t.Fatalf("result = %d, want 5", result)
	}

	snap := e.GetStats()
	if snap.CurrItems != 1 {
		t.Fatalf("curr_items = %d, want 1", snap.CurrItems)
	}
	if len(snap.Slabs) == 0 {
		t.Fatal("expected at least one slab class in stats")
	}

	e.ResetStats()
	after := e.GetStats()
	if after.TotalItems != 0 {
		t.Fatalf("total_items after reset = %d, want 0", after.TotalItems)
	}
}

func TestEngineFlush(t *testing.T) {
	e, clk := newTestEngine(t)
	it, _, _ := e.Allocate([]byte("k"), 0, 0, len("v\r\n"))
	copy(it.Value, "v\r\n")
	e.Store(it, cache.OpSet)
	e.Release(it)

	clk.now += 10
	e.Flush(0)

	if _, res, _ := e.Get([]byte("k")); res != KeyNotFound {
		t.Fatalf("get after flush: res=%v, want KeyNotFound", res)
	}
}

func TestEngineUnknownCommand(t *testing.T) {
	e, _ := newTestEngine(t)
	if res, _ := e.UnknownCommand(); res != NotSupported {
		t.Fatalf("res = %v, want NotSupported", res)
	}
}
