package resource

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/restward/restward/pipeline"
	"github.com/restward/restward/transport"
)

// Service owns the coordinating lock, the shared pipeline configuration, and
// the one-instance-per-endpoint resource registry. It is the entry point for
// everything in this package.
type Service struct {
	mu        sync.Mutex
	transport transport.Transport
	pipeline  *pipeline.Pipeline
	resources map[string]*Resource
	logger    *slog.Logger
	now       func() time.Time

	expirationTime time.Duration
	retryTime      time.Duration
	baseURL        *url.URL
}

// Option is a functional option for configuring a Service.
type Option func(*Service)

// WithTransport sets the transport used for all requests.
func WithTransport(t transport.Transport) Option {
	return func(s *Service) { s.transport = t }
}

// WithPipeline replaces the default pipeline. The service takes ownership:
// mutate it afterwards only through ConfigurePipeline.
func WithPipeline(p *pipeline.Pipeline) Option {
	return func(s *Service) { s.pipeline = p }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithExpirationTime sets how long loaded data stays fresh before
// LoadIfNeeded fetches again. Default 30s.
func WithExpirationTime(d time.Duration) Option {
	return func(s *Service) { s.expirationTime = d }
}

// WithRetryTime sets how long LoadIfNeeded waits after a failure before
// retrying. Default 1s.
func WithRetryTime(d time.Duration) Option {
	return func(s *Service) { s.retryTime = d }
}

// WithBaseURL resolves relative resource paths against base.
func WithBaseURL(base string) Option {
	return func(s *Service) {
		u, err := url.Parse(base)
		if err != nil {
			panic(fmt.Sprintf("service: invalid base URL %q: %v", base, err))
		}
		s.baseURL = u
	}
}

// WithClock overrides the time source. Tests use this to drive
// expiration/retry windows deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds a Service. Without options it uses the default transport, a
// pipeline with the standard transformers, a 30s expiration window and a 1s
// retry window.
func New(opts ...Option) *Service {
	s := &Service{
		resources:      make(map[string]*Resource),
		logger:         slog.Default(),
		now:            time.Now,
		expirationTime: 30 * time.Second,
		retryTime:      time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = transport.Default()
	}
	if s.pipeline == nil {
		s.pipeline = pipeline.New(
			pipeline.WithStandardTransformers(),
			pipeline.WithLogger(s.logger),
		)
	}
	return s
}

// Resource returns the singleton Resource for rawURL, creating it on first
// access. Relative URLs resolve against the service's base URL. Freshly
// created resources schedule a cache-backed restore so persisted entities
// survive process restarts.
func (s *Service) Resource(rawURL string) (*Resource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse resource URL %q: %w", rawURL, err)
	}
	if s.baseAvailable() && !u.IsAbs() {
		s.mu.Lock()
		base := s.baseURL
		s.mu.Unlock()
		u = base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("resource URL %q is not absolute and no base URL is set", rawURL)
	}
	return s.ResourceWithURL(u), nil
}

// MustResource is Resource for statically known URLs; it panics on a
// malformed URL.
func (s *Service) MustResource(rawURL string) *Resource {
	r, err := s.Resource(rawURL)
	if err != nil {
		panic(err)
	}
	return r
}

// ResourceWithURL returns the singleton Resource for u.
func (s *Service) ResourceWithURL(u *url.URL) *Resource {
	key := normalizeURL(u)

	s.mu.Lock()
	if r, ok := s.resources[key]; ok {
		s.mu.Unlock()
		return r
	}
	r := &Resource{
		svc:            s,
		url:            u,
		mu:             &s.mu,
		tracked:        make(map[*Request]struct{}),
		observers:      make(map[any]Observer),
		expirationTime: s.expirationTime,
		retryTime:      s.retryTime,
	}
	s.resources[key] = r
	s.mu.Unlock()

	r.restoreFromCache()
	return r
}

// ConfigurePipeline runs fn against the shared pipeline under the
// coordinating lock. All pipeline mutation after construction must go
// through here.
func (s *Service) ConfigurePipeline(fn func(*pipeline.Pipeline)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.pipeline)
}

// WipeResources wipes every resource the service has handed out: cancels
// their requests, clears their state, purges their cache entries. Intended
// for logout-style transitions.
func (s *Service) WipeResources() {
	s.mu.Lock()
	all := make([]*Resource, 0, len(s.resources))
	for _, r := range s.resources {
		all = append(all, r)
	}
	s.mu.Unlock()

	for _, r := range all {
		r.Wipe()
	}
}

func normalizeURL(u *url.URL) string {
	return strings.TrimSuffix(u.String(), "/")
}

func (s *Service) baseAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL != nil
}
