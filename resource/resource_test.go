package resource

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/restward/restward/entity"
	"github.com/restward/restward/pipeline"
	"github.com/restward/restward/transport"
)

// stubTransport is a scriptable Transport. A non-nil gate holds requests
// until released so tests can observe in-flight state.
type stubTransport struct {
	mu           sync.Mutex
	calls        int
	handler      func(req *http.Request) (*transport.Response, error)
	gate         chan struct{}
	ignoreCancel bool
	started      chan struct{}
}

func newStubTransport(handler func(req *http.Request) (*transport.Response, error)) *stubTransport {
	return &stubTransport{handler: handler}
}

func (s *stubTransport) Perform(ctx context.Context, req *http.Request) (*transport.Response, error) {
	s.mu.Lock()
	s.calls++
	handler := s.handler
	gate := s.gate
	started := s.started
	ignoreCancel := s.ignoreCancel
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		if ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return handler(req)
}

func (s *stubTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func jsonResponse(status int, body string, header map[string]string) func(*http.Request) (*transport.Response, error) {
	return func(*http.Request) (*transport.Response, error) {
		h := http.Header{}
		h.Set("Content-Type", "application/json")
		for k, v := range header {
			h.Set(k, v)
		}
		return &transport.Response{Status: status, Headers: h, Body: []byte(body)}, nil
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(sec int64) *fakeClock {
	return &fakeClock{t: time.Unix(sec, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(sec int64) {
	c.mu.Lock()
	c.t = time.Unix(sec, 0)
	c.mu.Unlock()
}

func newTestService(stub transport.Transport, opts ...Option) *Service {
	base := []Option{
		WithTransport(stub),
		WithPipeline(pipeline.New(pipeline.WithStandardTransformers())),
	}
	return New(append(base, opts...)...)
}

func awaitCompletion(t *testing.T, req *Request) entity.Result {
	t.Helper()
	ch := make(chan entity.Result, 1)
	req.OnCompletion(func(res entity.Result) { ch <- res })
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete in time")
		return entity.Result{}
	}
}

func TestLoad_UpdatesState(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{"v":1}`, nil))
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/1")

	result := awaitCompletion(t, res.Load())

	if !result.OK() {
		t.Fatalf("load failed: %v", result.Err)
	}
	data := res.LatestData()
	if data == nil {
		t.Fatal("LatestData is nil after successful load")
	}
	obj, ok := data.Content.(map[string]any)
	if !ok || obj["v"] != float64(1) {
		t.Errorf("Content = %v", data.Content)
	}
	if res.LatestError() != nil {
		t.Error("LatestError set after success")
	}
}

func TestLoad_DeduplicatesInFlight(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{}`, nil))
	stub.gate = make(chan struct{})
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/2")

	req1 := res.Load()
	req2 := res.Load()
	req3 := res.LoadIfNeeded()

	if req1 != req2 {
		t.Error("concurrent Load() calls returned different requests")
	}
	if req3 != req1 {
		t.Error("LoadIfNeeded did not hand back the in-flight load")
	}
	if !res.IsLoading() {
		t.Error("IsLoading false while a load is gated")
	}

	close(stub.gate)
	awaitCompletion(t, req1)

	if got := stub.callCount(); got != 1 {
		t.Errorf("network attempts = %d, want 1", got)
	}
}

func TestLoad_AfterCompletionIssuesFresh(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{}`, nil))
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/3")

	first := res.Load()
	awaitCompletion(t, first)
	second := res.Load()

	if first == second {
		t.Error("completed load request was reused")
	}
	awaitCompletion(t, second)
}

func TestLoad_FailureKeepsPreviousData(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{"ok":true}`, nil))
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/4")
	awaitCompletion(t, res.Load())

	stub.mu.Lock()
	stub.handler = jsonResponse(500, `{"message":"boom"}`, nil)
	stub.mu.Unlock()

	result := awaitCompletion(t, res.Load())
	if result.OK() {
		t.Fatal("expected failure")
	}
	if res.LatestError() == nil {
		t.Error("LatestError not set")
	}
	if res.LatestData() == nil {
		t.Error("previous good data discarded by failed load")
	}
	if res.LatestError().Status != 500 {
		t.Errorf("Status = %d, want 500", res.LatestError().Status)
	}
}

func TestRequest_NeverTouchesResourceState(t *testing.T) {
	stub := newStubTransport(jsonResponse(500, `{}`, nil))
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/5")

	result := awaitCompletion(t, res.Request(http.MethodPost, JSONBody(map[string]int{"n": 1})))

	if result.OK() {
		t.Fatal("expected failure from 500")
	}
	if res.LatestData() != nil || res.LatestError() != nil {
		t.Error("non-load request mutated resource state")
	}
}

func TestRequest_EncodingErrorFailsWithoutNetwork(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{}`, nil))
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/6")

	req := res.Request(http.MethodPost, JSONBody(func() {})) // functions are not JSON-encodable

	if req.State() != RequestCompleted {
		t.Errorf("state = %v, want completed (failed)", req.State())
	}
	result := awaitCompletion(t, req)
	if result.OK() {
		t.Fatal("expected encoding failure")
	}
	if stub.callCount() != 0 {
		t.Error("network attempt made despite encoding failure")
	}
}

func TestBody_TextEncoding(t *testing.T) {
	data, contentType, err := TextBody("héllo", "iso-8859-1").payload()
	if err != nil {
		t.Fatalf("payload() error: %v", err)
	}
	if contentType != "text/plain; charset=iso-8859-1" {
		t.Errorf("contentType = %q", contentType)
	}
	// é must be a single Latin-1 byte, not two UTF-8 bytes.
	if len(data) != 5 {
		t.Errorf("len(data) = %d, want 5", len(data))
	}

	if _, _, err := TextBody("x", "klingon-8").payload(); err == nil {
		t.Error("unsupported charset did not error")
	}
}

func TestLoadIfNeeded_ExpirationWindow(t *testing.T) {
	clock := newFakeClock(1000)
	stub := newStubTransport(jsonResponse(200, `{}`, nil))
	svc := newTestService(stub,
		WithClock(clock.now),
		WithExpirationTime(600*time.Second),
	)
	res := svc.MustResource("https://api.example.com/things/7")

	awaitCompletion(t, res.Load()) // data stored at t=1000

	clock.set(1500)
	if req := res.LoadIfNeeded(); req != nil {
		t.Error("LoadIfNeeded issued a request while data was fresh")
	}

	clock.set(1700)
	req := res.LoadIfNeeded()
	if req == nil {
		t.Fatal("LoadIfNeeded returned nil after expiration")
	}
	awaitCompletion(t, req)
	if got := stub.callCount(); got != 2 {
		t.Errorf("network attempts = %d, want 2", got)
	}
}

func TestLoadIfNeeded_RetryWindowAfterError(t *testing.T) {
	clock := newFakeClock(1000)
	stub := newStubTransport(func(*http.Request) (*transport.Response, error) {
		return nil, errors.New("connection refused")
	})
	svc := newTestService(stub,
		WithClock(clock.now),
		WithRetryTime(300*time.Second),
	)
	res := svc.MustResource("https://api.example.com/things/8")

	awaitCompletion(t, res.Load()) // error stored at t=1000

	clock.set(1200)
	if req := res.LoadIfNeeded(); req != nil {
		t.Error("LoadIfNeeded retried inside the retry window")
	}

	clock.set(1400)
	req := res.LoadIfNeeded()
	if req == nil {
		t.Fatal("LoadIfNeeded returned nil after the retry window elapsed")
	}
	awaitCompletion(t, req)
}

func TestInvalidate_ForcesExactlyOneBypass(t *testing.T) {
	clock := newFakeClock(1000)
	stub := newStubTransport(jsonResponse(200, `{}`, nil))
	svc := newTestService(stub,
		WithClock(clock.now),
		WithExpirationTime(600*time.Second),
	)
	res := svc.MustResource("https://api.example.com/things/9")
	awaitCompletion(t, res.Load())

	// N invalidations collapse into one bypass.
	res.Invalidate()
	res.Invalidate()
	res.Invalidate()

	req := res.LoadIfNeeded()
	if req == nil {
		t.Fatal("LoadIfNeeded did not bypass freshness after Invalidate")
	}
	awaitCompletion(t, req)

	// Freshness timers apply again.
	if req := res.LoadIfNeeded(); req != nil {
		t.Error("second LoadIfNeeded bypassed freshness; invalidate not consumed")
	}
	if got := stub.callCount(); got != 2 {
		t.Errorf("network attempts = %d, want 2", got)
	}
}

func TestInvalidate_DoesNotTouchState(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{}`, nil))
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/10")
	awaitCompletion(t, res.Load())

	data := res.LatestData()
	ts := res.Timestamp()
	res.Invalidate()

	if res.LatestData() != data || !res.Timestamp().Equal(ts) {
		t.Error("Invalidate changed data or timestamps")
	}
	if stub.callCount() != 1 {
		t.Error("Invalidate issued a request")
	}
}

func TestWipe_ClearsStateAndSuppressesLateCompletions(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{"late":true}`, nil))
	stub.gate = make(chan struct{})
	stub.ignoreCancel = true // simulate a completion racing past cancellation
	stub.started = make(chan struct{}, 1)
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/11")

	req := res.Load()
	<-stub.started

	res.Wipe()

	if res.LatestData() != nil || res.LatestError() != nil {
		t.Error("state not cleared by Wipe")
	}
	if res.IsLoading() {
		t.Error("IsLoading true after Wipe")
	}
	if req.State() != RequestCancelled {
		t.Errorf("request state = %v, want cancelled", req.State())
	}

	// Let the worker finish with its success; it must not resurrect state.
	close(stub.gate)
	time.Sleep(100 * time.Millisecond)

	if res.LatestData() != nil || res.LatestError() != nil {
		t.Error("late completion repopulated wiped state")
	}
}

func TestWipe_CancelsAdoptedRequests(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{}`, nil))
	stub.gate = make(chan struct{})
	svc := newTestService(stub)
	origin := svc.MustResource("https://api.example.com/things/12")
	adopter := svc.MustResource("https://api.example.com/things/13")

	req := origin.Load()
	adopter.LoadUsing(req)

	adopter.Wipe()

	if req.State() != RequestCancelled {
		t.Errorf("adopted request state = %v, want cancelled", req.State())
	}
	close(stub.gate)
}

func TestLoadUsing_AppliesResultToAdopter(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{"shared":1}`, nil))
	stub.gate = make(chan struct{})
	svc := newTestService(stub)
	origin := svc.MustResource("https://api.example.com/things/14")
	adopter := svc.MustResource("https://api.example.com/things/15")

	req := origin.Load()
	adopter.LoadUsing(req)
	close(stub.gate)
	awaitCompletion(t, req)

	if adopter.LatestData() == nil {
		t.Error("adopter state not updated by adopted load")
	}
	if origin.LatestData() == nil {
		t.Error("origin state not updated by its own load")
	}
}

func TestLocalDataOverride(t *testing.T) {
	stub := newStubTransport(jsonResponse(500, `{}`, nil))
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/16")
	awaitCompletion(t, res.Load()) // leaves an error behind

	ent := entity.NewLocal(map[string]any{"local": true}, "application/json")
	res.LocalDataOverride(ent)

	if res.LatestError() != nil {
		t.Error("LocalDataOverride did not clear the error")
	}
	data := res.LatestData()
	if data == nil {
		t.Fatal("LatestData nil after override")
	}
	if stub.callCount() != 1 {
		t.Error("override issued a network request")
	}
}

func TestLocalContentOverride_SynthesizesEntity(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{}`, nil))
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/17")

	res.LocalContentOverride("injected")

	data := res.LatestData()
	if data == nil {
		t.Fatal("LatestData nil after content override")
	}
	if data.Content != "injected" {
		t.Errorf("Content = %v", data.Content)
	}
	if data.ContentType != "application/octet-stream" {
		t.Errorf("ContentType = %q, want default", data.ContentType)
	}
	if stub.callCount() != 0 {
		t.Error("override issued a network request")
	}
}

func TestLocalOverrides_NeverWriteCaches(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{}`, nil))
	c := newRecordingCache()
	p := pipeline.New()
	p.Stage(pipeline.Model).CacheUsing(c)
	svc := New(WithTransport(stub), WithPipeline(p))
	res := svc.MustResource("https://api.example.com/things/18")

	res.LocalDataOverride(entity.NewLocal("a", "text/plain"))
	res.LocalContentOverride("b")
	time.Sleep(50 * time.Millisecond)

	if n := c.writeCount(); n != 0 {
		t.Errorf("local overrides caused %d cache writes", n)
	}
}

func TestCancelLoadIfUnobserved_Immediate(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{}`, nil))
	stub.gate = make(chan struct{})
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/19")

	req := res.Load()
	res.CancelLoadIfUnobserved(0)

	if req.State() != RequestCancelled {
		t.Errorf("state = %v, want cancelled", req.State())
	}
	close(stub.gate)
}

func TestCancelLoadIfUnobserved_ObserverSuppresses(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{}`, nil))
	stub.gate = make(chan struct{})
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/20")

	owner := struct{ name string }{"owner"}
	res.AddObserver(ObserverFunc(func(*Resource, Event) {}), owner)

	req := res.Load()
	res.CancelLoadIfUnobserved(0)

	if req.State() == RequestCancelled {
		t.Error("load cancelled despite a registered observer")
	}
	close(stub.gate)
	awaitCompletion(t, req)
}

func TestCancelLoadIfUnobserved_DelayedRecheck(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{}`, nil))
	stub.gate = make(chan struct{})
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/21")

	req := res.Load()

	// Observer added during the delay window suppresses the cancellation.
	res.CancelLoadIfUnobserved(30 * time.Millisecond)
	res.AddObserver(ObserverFunc(func(*Resource, Event) {}), "late-owner")
	time.Sleep(80 * time.Millisecond)

	if req.State() == RequestCancelled {
		t.Error("observer added during the window did not suppress cancellation")
	}

	// Observer removed during the window allows it.
	res.CancelLoadIfUnobserved(30 * time.Millisecond)
	res.RemoveObservers("late-owner")
	time.Sleep(80 * time.Millisecond)

	if req.State() != RequestCancelled {
		t.Error("cancellation did not fire after the last observer left")
	}
	close(stub.gate)
}

func TestObserver_EventSequenceOnLoad(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{}`, nil))
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/22")

	var mu sync.Mutex
	var events []Event
	res.AddObserver(ObserverFunc(func(_ *Resource, ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}), "test-owner")

	awaitCompletion(t, res.Load())

	mu.Lock()
	defer mu.Unlock()
	if len(events) < 3 {
		t.Fatalf("events = %v", events)
	}
	if events[0].Kind != EventObserverAdded {
		t.Errorf("first event = %v, want observerAdded", events[0].Kind)
	}
	if events[1].Kind != EventRequested {
		t.Errorf("second event = %v, want requested", events[1].Kind)
	}
	last := events[len(events)-1]
	if last.Kind != EventNewData || last.Source != SourceNetwork {
		t.Errorf("last event = %+v, want newData/network", last)
	}
}

func TestObserver_DefunctPrunedLazily(t *testing.T) {
	stub := newStubTransport(jsonResponse(200, `{}`, nil))
	stub.gate = make(chan struct{})
	svc := newTestService(stub)
	res := svc.MustResource("https://api.example.com/things/23")

	w := &witnessObserver{}
	res.AddObserver(w, "witness-owner")

	req := res.Load()
	w.defunct.Store(true)
	res.CancelLoadIfUnobserved(0) // presence check prunes the defunct observer

	if req.State() != RequestCancelled {
		t.Error("defunct observer kept the load alive")
	}
	close(stub.gate)
}

type witnessObserver struct {
	defunct atomicBool
}

func (w *witnessObserver) ResourceChanged(*Resource, Event) {}
func (w *witnessObserver) Defunct() bool                    { return w.defunct.Load() }

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) Store(v bool) {
	b.mu.Lock()
	b.v = v
	b.mu.Unlock()
}

func (b *atomicBool) Load() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}

// recordingCache counts writes; used to prove code paths that must not
// touch caches.
type recordingCache struct {
	mu     sync.Mutex
	writes int
}

func newRecordingCache() *recordingCache { return &recordingCache{} }

func (c *recordingCache) Key(target pipeline.CacheTarget) (string, bool) {
	return target.URL().String(), true
}

func (c *recordingCache) Read(context.Context, string) (*entity.Entity, error) {
	return nil, nil
}

func (c *recordingCache) Write(_ context.Context, _ *entity.Entity, _ string) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return nil
}

func (c *recordingCache) UpdateTimestamp(context.Context, time.Time, string) error { return nil }
func (c *recordingCache) Remove(context.Context, string) error                     { return nil }

func (c *recordingCache) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}
