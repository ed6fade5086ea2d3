package resource

// EventKind classifies a state-affecting transition on a Resource.
type EventKind int

const (
	// EventObserverAdded fires toward a newly registered observer so it can
	// sync with current state.
	EventObserverAdded EventKind = iota

	// EventRequested fires when a load-class request starts.
	EventRequested

	// EventRequestCancelled fires when a load-class request is cancelled.
	EventRequestCancelled

	// EventNewData fires when LatestData changes.
	EventNewData

	// EventNotModified fires when a revalidation returned 304 and existing
	// data was refreshed in place.
	EventNotModified

	// EventError fires when LatestError changes.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventObserverAdded:
		return "observerAdded"
	case EventRequested:
		return "requested"
	case EventRequestCancelled:
		return "requestCancelled"
	case EventNewData:
		return "newData"
	case EventNotModified:
		return "notModified"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// DataSource says where new data came from.
type DataSource int

const (
	SourceNetwork DataSource = iota
	SourceCache
	SourceLocalOverride
	SourceWipe
)

func (s DataSource) String() string {
	switch s {
	case SourceNetwork:
		return "network"
	case SourceCache:
		return "cache"
	case SourceLocalOverride:
		return "localOverride"
	case SourceWipe:
		return "wipe"
	default:
		return "unknown"
	}
}

// Event describes one state-affecting transition. Source is meaningful for
// EventNewData only.
type Event struct {
	Kind   EventKind
	Source DataSource
}

// Observer receives resource state transitions.
type Observer interface {
	ResourceChanged(r *Resource, ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(r *Resource, ev Event)

func (f ObserverFunc) ResourceChanged(r *Resource, ev Event) { f(r, ev) }

// ObserverWitness lets an observer report that its owner is gone. Defunct
// observers are pruned lazily on each presence check, so the observer set
// never extends its owners' lifetimes in practice.
type ObserverWitness interface {
	Defunct() bool
}
