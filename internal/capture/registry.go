package capture

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Handle tracks the runtime state of one capture worker. The supervisor
// creates and registers it, the worker goroutine flips its liveness flag
// and records the terminal error, and both sides read it afterwards.
type Handle struct {
	workerName string
	sourceName string

	started chan struct{} // closed once the stream subprocess is up
	done    chan struct{} // closed when the worker goroutine exits

	live atomic.Bool

	mu  sync.Mutex
	err error
}

func newHandle(workerName, sourceName string) *Handle {
	return &Handle{
		workerName: workerName,
		sourceName: sourceName,
		started:    make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// WorkerName returns the registry key this handle is registered under.
func (h *Handle) WorkerName() string { return h.workerName }

// SourceName returns the name of the source the worker captures.
func (h *Handle) SourceName() string { return h.sourceName }

// IsLive reports whether the worker's stream loop is currently executing.
func (h *Handle) IsLive() bool { return h.live.Load() }

// Started is closed once the worker confirms its stream subprocess started.
func (h *Handle) Started() <-chan struct{} { return h.started }

// Done is closed when the worker goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// TerminalError returns the error the worker exited with. It is nil while
// the worker is live and after a clean end of stream.
func (h *Handle) TerminalError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) setTerminalError(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

func (h *Handle) confirmStarted() { close(h.started) }

func (h *Handle) startupConfirmed() bool {
	select {
	case <-h.started:
		return true
	default:
		return false
	}
}

// Registry tracks capture workers by worker name. Implementations must be
// safe for concurrent use: the supervisor registers and looks up handles
// while worker goroutines update their liveness.
type Registry interface {
	// IsLive reports whether a live worker is registered under name.
	IsLive(name string) bool

	// Register records a handle under name, replacing any previous handle.
	// Callers must first confirm the previous handle is not live.
	Register(name string, h *Handle)

	// Lookup returns the most recently registered handle for name.
	Lookup(name string) (*Handle, bool)
}

// MemoryRegistry is the in-process Registry. Finished handles persist until
// a fresh spawn for the same name replaces them, so a lookup after a
// failure still exposes the terminal error.
type MemoryRegistry struct {
	mu      sync.RWMutex
	workers map[string]*Handle
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{workers: make(map[string]*Handle)}
}

// IsLive reports whether a live worker is registered under name.
func (r *MemoryRegistry) IsLive(name string) bool {
	r.mu.RLock()
	h := r.workers[name]
	r.mu.RUnlock()
	return h != nil && h.IsLive()
}

// Register records a handle under name, replacing any previous handle.
func (r *MemoryRegistry) Register(name string, h *Handle) {
	r.mu.Lock()
	r.workers[name] = h
	r.mu.Unlock()
}

// Lookup returns the most recently registered handle for name.
func (r *MemoryRegistry) Lookup(name string) (*Handle, bool) {
	r.mu.RLock()
	h, ok := r.workers[name]
	r.mu.RUnlock()
	return h, ok
}

// Handles returns all registered handles sorted by worker name.
func (r *MemoryRegistry) Handles() []*Handle {
	r.mu.RLock()
	out := make([]*Handle, 0, len(r.workers))
	for _, h := range r.workers {
		out = append(out, h)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].workerName < out[j].workerName })
	return out
}
