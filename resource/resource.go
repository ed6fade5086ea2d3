// Package resource maintains observable per-endpoint state: the latest
// successful entity, the latest error, staleness timing, and the set of
// in-flight requests against the endpoint. It consumes the pipeline to turn
// raw responses into state updates and implements the
// expiration/retry/invalidate/wipe policy plus load-request deduplication.
package resource

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/restward/restward/entity"
	"github.com/restward/restward/pipeline"
	"github.com/restward/restward/transport"
)

// Resource is the per-endpoint state controller. There is exactly one
// Resource per logical endpoint within a Service; obtain instances through
// Service.Resource. All state is guarded by the service's coordinating lock;
// worker goroutines only ever operate on snapshots captured under it.
type Resource struct {
	svc *Service
	url *url.URL
	mu  *sync.Mutex // the service's coordinating lock

	latestData  *entity.Entity
	latestError *entity.Error
	timestamp   time.Time
	invalidated bool

	// wipeGen is bumped by Wipe so completions issued before the wipe can
	// never repopulate state, even when they raced past cancellation.
	wipeGen int

	loadReq        *Request
	tracked        map[*Request]struct{}
	observers      map[any]Observer
	expirationTime time.Duration
	retryTime      time.Duration
}

// URL is the resource's endpoint identity. Cache key derivation sees it via
// pipeline.CacheTarget.
func (r *Resource) URL() *url.URL { return r.url }

var _ pipeline.CacheTarget = (*Resource)(nil)

// LatestData is the most recent successfully processed entity, or nil.
func (r *Resource) LatestData() *entity.Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestData
}

// LatestError is the most recent failure, or nil. A failed load never
// discards previous good data; both can be populated at once.
func (r *Resource) LatestError() *entity.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestError
}

// Timestamp is the instant of the most recent state-affecting event.
func (r *Resource) Timestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timestamp
}

// IsLoading reports whether a load-class request is in flight.
func (r *Resource) IsLoading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLoadLocked() != nil
}

// SetExpirationTime overrides the service-wide freshness window for this
// resource.
func (r *Resource) SetExpirationTime(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expirationTime = d
}

// SetRetryTime overrides the service-wide error retry window for this
// resource.
func (r *Resource) SetRetryTime(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryTime = d
}

func (r *Resource) activeLoadLocked() *Request {
	if r.loadReq == nil {
		return nil
	}
	switch r.loadReq.State() {
	case RequestPending, RequestInFlight:
		return r.loadReq
	default:
		return nil
	}
}

// Request issues a new request against the endpoint without touching
// LatestData or LatestError. The resource tracks it only so Wipe and
// CancelLoadIfUnobserved can reach it. Body encoding failures complete the
// request immediately; no network attempt is made.
func (r *Resource) Request(method string, body Body) *Request {
	return r.issue(method, body, false)
}

// Load issues a load-class GET whose completion updates LatestData or
// LatestError. At most one load-class request is in flight per resource:
// while one is pending, Load returns the same Request instead of issuing a
// duplicate.
func (r *Resource) Load() *Request {
	return r.issue(http.MethodGet, nil, true)
}

// LoadIfNeeded loads only when state is stale. It returns the in-flight
// load when one exists, nil when fresh data or a recent error makes a fetch
// unnecessary, and a new Request otherwise. A pending Invalidate is consumed
// by the decision to issue, so one Invalidate forces exactly one freshness
// bypass.
func (r *Resource) LoadIfNeeded() *Request {
	r.mu.Lock()
	if cur := r.activeLoadLocked(); cur != nil {
		r.mu.Unlock()
		return cur
	}
	now := r.svc.now()
	if r.latestError != nil && now.Sub(r.latestError.Timestamp) < r.retryTime {
		r.mu.Unlock()
		return nil
	}
	if r.latestData != nil && !r.invalidated && now.Sub(r.timestamp) < r.expirationTime {
		r.mu.Unlock()
		return nil
	}
	r.invalidated = false
	r.mu.Unlock()
	return r.Load()
}

// LoadUsing adopts an externally created request, possibly issued by a
// different resource, as this resource's authoritative load. Its completion
// updates state exactly like Load's, and it joins the tracking set so Wipe
// can still cancel it.
func (r *Resource) LoadUsing(req *Request) *Request {
	r.mu.Lock()
	gen := r.wipeGen
	r.tracked[req] = struct{}{}
	r.loadReq = req
	r.mu.Unlock()

	r.wireLoad(req, gen)
	r.notify(Event{Kind: EventRequested})
	return req
}

// Invalidate marks current data as suspect without discarding it. No
// requests are issued and no timestamps change; the next LoadIfNeeded
// bypasses the freshness check once.
func (r *Resource) Invalidate() {
	r.mu.Lock()
	r.invalidated = true
	r.mu.Unlock()
}

// Wipe cancels every tracked request, clears data and error state, and
// purges cache entries. Completions already running on workers are fenced
// out by a generation bump: a request that raced past cancellation cannot
// resurrect wiped state.
func (r *Resource) Wipe() {
	r.mu.Lock()
	r.wipeGen++
	reqs := make([]*Request, 0, len(r.tracked))
	for req := range r.tracked {
		reqs = append(reqs, req)
	}
	r.tracked = make(map[*Request]struct{})
	r.loadReq = nil
	r.latestData = nil
	r.latestError = nil
	r.invalidated = false
	r.timestamp = r.svc.now()
	r.svc.pipeline.RemoveCacheEntries(r)
	r.mu.Unlock()

	for _, req := range reqs {
		req.Cancel()
	}
	r.notify(Event{Kind: EventNewData, Source: SourceWipe})
}

// LocalDataOverride replaces LatestData with a locally originated entity,
// clearing any error. The pipeline is bypassed entirely and no cache writes
// happen.
func (r *Resource) LocalDataOverride(ent *entity.Entity) {
	now := r.svc.now()
	r.mu.Lock()
	r.latestData = ent.WithTimestamp(now)
	r.latestError = nil
	r.timestamp = now
	r.mu.Unlock()
	r.notify(Event{Kind: EventNewData, Source: SourceLocalOverride})
}

// LocalContentOverride replaces the content of LatestData in place,
// synthesizing an entity with a default content type when none exists.
// Like LocalDataOverride it bypasses the pipeline and caches.
func (r *Resource) LocalContentOverride(content any) {
	now := r.svc.now()
	r.mu.Lock()
	if r.latestData != nil {
		r.latestData = r.latestData.WithContent(content).WithTimestamp(now)
	} else {
		r.latestData = entity.NewLocal(content, "").WithTimestamp(now)
	}
	r.latestError = nil
	r.timestamp = now
	r.mu.Unlock()
	r.notify(Event{Kind: EventNewData, Source: SourceLocalOverride})
}

// AddObserver registers an observer under an owner identity. The new
// observer immediately receives EventObserverAdded so it can sync with
// current state. Registering a second observer for the same owner replaces
// the first.
func (r *Resource) AddObserver(obs Observer, owner any) {
	r.mu.Lock()
	r.observers[owner] = obs
	r.mu.Unlock()
	obs.ResourceChanged(r, Event{Kind: EventObserverAdded})
}

// RemoveObservers drops all observers registered under owner.
func (r *Resource) RemoveObservers(owner any) {
	r.mu.Lock()
	delete(r.observers, owner)
	r.mu.Unlock()
}

// CancelLoadIfUnobserved cancels in-flight load-class requests when no
// observer is registered. With a positive delay the observer check is
// deferred: presence is re-evaluated at fire time, so an observer added
// during the window suppresses the cancellation and one removed during the
// window allows it.
func (r *Resource) CancelLoadIfUnobserved(after time.Duration) {
	if after <= 0 {
		r.cancelLoadIfUnobservedNow()
		return
	}
	time.AfterFunc(after, r.cancelLoadIfUnobservedNow)
}

func (r *Resource) cancelLoadIfUnobservedNow() {
	r.mu.Lock()
	if r.hasObserversLocked() {
		r.mu.Unlock()
		return
	}
	var loads []*Request
	for req := range r.tracked {
		if req.IsLoad() || req == r.loadReq {
			loads = append(loads, req)
		}
	}
	r.mu.Unlock()

	for _, req := range loads {
		req.Cancel()
	}
}

func (r *Resource) hasObserversLocked() bool {
	for owner, obs := range r.observers {
		if w, ok := obs.(ObserverWitness); ok && w.Defunct() {
			delete(r.observers, owner)
		}
	}
	return len(r.observers) > 0
}

func (r *Resource) notify(ev Event) {
	r.mu.Lock()
	obs := make([]Observer, 0, len(r.observers))
	for owner, o := range r.observers {
		if w, ok := o.(ObserverWitness); ok && w.Defunct() {
			delete(r.observers, owner)
			continue
		}
		obs = append(obs, o)
	}
	r.mu.Unlock()

	for _, o := range obs {
		o.ResourceChanged(r, ev)
	}
}

func (r *Resource) issue(method string, body Body, isLoad bool) *Request {
	r.mu.Lock()
	if isLoad {
		if cur := r.activeLoadLocked(); cur != nil {
			r.mu.Unlock()
			return cur
		}
	}
	req, ctx := newRequest(isLoad)
	httpReq, encErr := r.buildHTTPRequestLocked(ctx, method, body, isLoad)
	var gen int
	if encErr == nil {
		gen = r.wipeGen
		r.tracked[req] = struct{}{}
		if isLoad {
			r.loadReq = req
		}
	}
	r.mu.Unlock()

	if encErr != nil {
		req.complete(entity.Failure(entity.FromCause(encErr)))
		return req
	}

	if isLoad {
		r.wireLoad(req, gen)
	} else {
		req.OnCompletion(func(entity.Result) { r.untrack(req) })
	}

	if !req.start() {
		return req
	}
	r.svc.logger.Debug("request started",
		slog.String("id", req.ID()),
		slog.String("method", method),
		slog.String("url", r.url.String()),
		slog.Bool("load", isLoad))
	if isLoad {
		r.notify(Event{Kind: EventRequested})
	}

	go r.perform(ctx, req, httpReq, isLoad)
	return req
}

// buildHTTPRequestLocked encodes the body and prepares the outgoing request.
// Runs under the coordinating lock so the If-None-Match header can read
// LatestData's ETag without racing state updates.
func (r *Resource) buildHTTPRequestLocked(ctx context.Context, method string, body Body, isLoad bool) (*http.Request, error) {
	var (
		data        []byte
		contentType string
	)
	if body != nil {
		var err error
		data, contentType, err = body.payload()
		if err != nil {
			return nil, err
		}
	}

	var reader *bytes.Reader
	if data != nil {
		reader = bytes.NewReader(data)
	}
	var httpReq *http.Request
	var err error
	if reader != nil {
		httpReq, err = http.NewRequestWithContext(ctx, method, r.url.String(), reader)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, method, r.url.String(), nil)
	}
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if isLoad && r.latestData != nil && r.latestData.ETag != "" {
		httpReq.Header.Set("If-None-Match", r.latestData.ETag)
	}
	return httpReq, nil
}

// perform runs the transport round trip and pipeline processing on a worker.
// The pipeline's synchronous phase (stage snapshot, cache key derivation)
// still happens under the coordinating lock once the response is in hand.
func (r *Resource) perform(ctx context.Context, req *Request, httpReq *http.Request, isLoad bool) {
	resp, err := r.svc.transport.Perform(ctx, httpReq)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled; the cancellation path already fired the hooks.
			return
		}
		req.complete(entity.Failure(entity.FromCause(err)))
		return
	}

	if isLoad && resp.Status == http.StatusNotModified {
		r.handleNotModified(req)
		return
	}

	seed, contentType := seedResult(resp)

	r.mu.Lock()
	op := r.svc.pipeline.Process(seed, contentType, r)
	r.mu.Unlock()

	req.complete(op(ctx))
}

func (r *Resource) handleNotModified(req *Request) {
	req.setNotModified()
	now := r.svc.now()

	r.mu.Lock()
	var refreshed *entity.Entity
	if r.latestData != nil {
		refreshed = r.latestData.WithTimestamp(now)
	}
	r.svc.pipeline.UpdateCacheEntryTimestamps(now, r)
	r.mu.Unlock()

	if refreshed == nil {
		req.complete(entity.Failure(
			entity.FromStatus(http.StatusNotModified).
				WithMessage("server sent 304 but no data is cached")))
		return
	}
	req.complete(entity.Success(refreshed))
}

func seedResult(resp *transport.Response) (entity.Result, string) {
	ent := entity.New(resp.Body, resp.Headers)
	if resp.Status >= 400 {
		return entity.Failure(entity.FromStatus(resp.Status).WithEntity(ent)), ent.ContentType
	}
	return entity.Success(ent), ent.ContentType
}

// wireLoad attaches the completion hook that applies a load-class result to
// resource state. Wiring runs before any caller-attached hook, so callers
// observe updated state from their own hooks.
func (r *Resource) wireLoad(req *Request, gen int) {
	req.OnCompletion(func(res entity.Result) {
		if req.State() == RequestCancelled {
			r.mu.Lock()
			if r.loadReq == req {
				r.loadReq = nil
			}
			delete(r.tracked, req)
			r.mu.Unlock()
			r.notify(Event{Kind: EventRequestCancelled})
			return
		}

		var ev Event
		r.mu.Lock()
		if r.loadReq == req {
			r.loadReq = nil
		}
		delete(r.tracked, req)
		if r.wipeGen != gen {
			r.mu.Unlock()
			return
		}
		now := r.svc.now()
		if res.OK() {
			r.latestData = res.Entity.WithTimestamp(now)
			r.latestError = nil
			r.timestamp = now
			if req.wasNotModified() {
				ev = Event{Kind: EventNotModified}
			} else {
				ev = Event{Kind: EventNewData, Source: SourceNetwork}
			}
		} else {
			res.Err.Timestamp = now
			r.latestError = res.Err
			r.timestamp = now
			ev = Event{Kind: EventError}
		}
		r.mu.Unlock()
		r.notify(ev)
	})
}

func (r *Resource) untrack(req *Request) {
	r.mu.Lock()
	delete(r.tracked, req)
	r.mu.Unlock()
}

// restoreFromCache performs the cache-backed load that seeds a fresh
// Resource from persisted state: a reverse pipeline lookup on a worker,
// applied only if no network data arrived in the meantime.
func (r *Resource) restoreFromCache() {
	r.mu.Lock()
	op := r.svc.pipeline.CachedEntity(r)
	gen := r.wipeGen
	r.mu.Unlock()

	go func() {
		ent, ok := op(context.Background())
		if !ok {
			return
		}
		r.mu.Lock()
		if r.wipeGen != gen || r.latestData != nil {
			r.mu.Unlock()
			return
		}
		r.latestData = ent
		r.latestError = nil
		r.timestamp = ent.Timestamp
		r.mu.Unlock()
		r.notify(Event{Kind: EventNewData, Source: SourceCache})
	}()
}
