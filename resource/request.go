package resource

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/restward/restward/entity"
)

// RequestState is the lifecycle position of a Request.
type RequestState int

const (
	// RequestPending: created, underlying operation not yet started.
	RequestPending RequestState = iota

	// RequestInFlight: underlying operation running.
	RequestInFlight

	// RequestCompleted: finished with a result. Terminal.
	RequestCompleted

	// RequestCancelled: cancelled before a result was applied. Terminal.
	RequestCancelled
)

func (s RequestState) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestInFlight:
		return "inFlight"
	case RequestCompleted:
		return "completed"
	case RequestCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Request is a cancelable handle to one in-flight operation. Completion
// hooks fire exactly once, in attach order, at the transition into a
// terminal state. Terminal states are sticky: cancelling a completed request
// is a no-op, and a cancellation that races a successful completion still
// surfaces as cancelled — the losing path never fires hooks.
type Request struct {
	id     string
	isLoad bool

	mu          sync.Mutex
	state       RequestState
	result      entity.Result
	hooks       []func(entity.Result)
	cancelCtx   context.CancelFunc
	notModified bool
}

func newRequest(isLoad bool) (*Request, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	req := &Request{
		id:        uuid.NewString(),
		isLoad:    isLoad,
		cancelCtx: cancel,
	}
	return req, ctx
}

// ID is the request's correlation id, used in logs.
func (r *Request) ID() string { return r.id }

// IsLoad reports whether this is a load-class request, i.e. one whose
// completion is wired to update resource state.
func (r *Request) IsLoad() bool { return r.isLoad }

// State returns the current lifecycle state.
func (r *Request) State() RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnCompletion registers f to run when the request reaches a terminal state.
// Hooks run in attach order; attaching to an already-terminal request fires
// f immediately with the final result.
func (r *Request) OnCompletion(f func(entity.Result)) {
	r.mu.Lock()
	if r.state == RequestCompleted || r.state == RequestCancelled {
		res := r.result
		r.mu.Unlock()
		f(res)
		return
	}
	r.hooks = append(r.hooks, f)
	r.mu.Unlock()
}

// Cancel moves the request to the cancelled state and fires completion hooks
// with a cancellation failure. Already-dispatched work for this request runs
// to completion on its worker, but its result is discarded. Cancelling a
// terminal request is a no-op.
func (r *Request) Cancel() {
	r.mu.Lock()
	if r.state == RequestCompleted || r.state == RequestCancelled {
		r.mu.Unlock()
		return
	}
	r.state = RequestCancelled
	r.result = entity.Failure(cancellationError())
	hooks := r.hooks
	r.hooks = nil
	cancel := r.cancelCtx
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, h := range hooks {
		h(r.result)
	}
}

// start moves pending → inFlight. Returns false when the request was
// cancelled before the underlying operation began.
func (r *Request) start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RequestPending {
		return false
	}
	r.state = RequestInFlight
	return true
}

// complete moves the request to completed with res, firing hooks. Returns
// false when a cancellation won the race; the result is then discarded and
// no hooks fire on this path.
func (r *Request) complete(res entity.Result) bool {
	r.mu.Lock()
	if r.state == RequestCompleted || r.state == RequestCancelled {
		r.mu.Unlock()
		return false
	}
	r.state = RequestCompleted
	r.result = res
	hooks := r.hooks
	r.hooks = nil
	r.mu.Unlock()

	for _, h := range hooks {
		h(res)
	}
	return true
}

func (r *Request) setNotModified() {
	r.mu.Lock()
	r.notModified = true
	r.mu.Unlock()
}

func (r *Request) wasNotModified() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notModified
}

func cancellationError() *entity.Error {
	return entity.NewError("request cancelled").WithCause(context.Canceled)
}
