package observability

import (
	"context"
	"testing"
	"time"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	l := NoopLayoutHooks{}
	l.OnLayoutStart(ctx, "p1", 12)
	l.OnLayoutComplete(ctx, "p1", 20, 19, time.Millisecond)

	p := NoopPersistHooks{}
	p.OnFlushStart(ctx, "p1", 20)
	p.OnFlushComplete(ctx, "p1", 20, time.Second, nil)
	p.OnFlushSkipped(ctx, "p1")

	c := NoopCacheHooks{}
	c.OnCacheHit(ctx, "features")
	c.OnCacheMiss(ctx, "tests")
	c.OnCacheSet(ctx, "features", 1024)
	c.OnCacheInvalidate(ctx, "tests")

	h := NoopHTTPHooks{}
	h.OnRequest(ctx, "GET", "api.example.com", "/node-positions/project/1")
	h.OnResponse(ctx, "GET", "api.example.com", "/node-positions/project/1", 200, time.Second)
	h.OnError(ctx, "GET", "api.example.com", "/node-positions/project/1", nil)
}

func TestGlobalHooksRegistry(t *testing.T) {
	Reset()

	if _, ok := Layout().(NoopLayoutHooks); !ok {
		t.Error("Layout() should return NoopLayoutHooks by default")
	}
	if _, ok := Persist().(NoopPersistHooks); !ok {
		t.Error("Persist() should return NoopPersistHooks by default")
	}
	if _, ok := Cache().(NoopCacheHooks); !ok {
		t.Error("Cache() should return NoopCacheHooks by default")
	}
	if _, ok := HTTP().(NoopHTTPHooks); !ok {
		t.Error("HTTP() should return NoopHTTPHooks by default")
	}

	customLayout := &testLayoutHooks{}
	SetLayoutHooks(customLayout)
	if Layout() != customLayout {
		t.Error("SetLayoutHooks should set custom hooks")
	}

	customPersist := &testPersistHooks{}
	SetPersistHooks(customPersist)
	if Persist() != customPersist {
		t.Error("SetPersistHooks should set custom hooks")
	}

	customCache := &testCacheHooks{}
	SetCacheHooks(customCache)
	if Cache() != customCache {
		t.Error("SetCacheHooks should set custom hooks")
	}

	customHTTP := &testHTTPHooks{}
	SetHTTPHooks(customHTTP)
	if HTTP() != customHTTP {
		t.Error("SetHTTPHooks should set custom hooks")
	}

	Reset()
	if _, ok := Persist().(NoopPersistHooks); !ok {
		t.Error("Reset() should restore NoopPersistHooks")
	}
}

func TestSetNilHooksIsIgnored(t *testing.T) {
	Reset()

	custom := &testLayoutHooks{}
	SetLayoutHooks(custom)
	SetLayoutHooks(nil)

	if Layout() != custom {
		t.Error("SetLayoutHooks(nil) should be ignored")
	}

	Reset()
}

type testLayoutHooks struct{ NoopLayoutHooks }
type testPersistHooks struct{ NoopPersistHooks }
type testCacheHooks struct{ NoopCacheHooks }
type testHTTPHooks struct{ NoopHTTPHooks }
