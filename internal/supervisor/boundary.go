package supervisor

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Status of a containment boundary.
type Status string

const (
	Healthy Status = "healthy"
	Faulted Status = "faulted"
)

// ActionReload is the only recovery a faulted boundary offers.
const ActionReload = "reload"

const fallbackMessage = "something went wrong"

// RenderFault is a fault raised while producing a boundary's output.
type RenderFault struct {
	Boundary string
	Err      error
	Panicked bool
	Stack    []byte
}

func (f *RenderFault) Error() string {
	return fmt.Sprintf("render fault in %s: %v", f.Boundary, f.Err)
}

func (f *RenderFault) Unwrap() error { return f.Err }

// Sink receives every fault before the fallback is produced.
type Sink interface {
	ReportFault(f *RenderFault)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(f *RenderFault)

func (fn SinkFunc) ReportFault(f *RenderFault) { fn(f) }

// Fallback replaces the output of a faulted boundary.
type Fallback struct {
	Boundary string `json:"boundary"`
	Message  string `json:"message"`
	Action   string `json:"action"`
}

// Boundary isolates one independently failable subtree. It goes from
// Healthy to Faulted once and stays there; only replacing the boundary
// (a full reload) brings the subtree back.
type Boundary struct {
	name string
	sink Sink

	mu    sync.Mutex
	fault *RenderFault
}

// NewBoundary returns a healthy boundary.
func NewBoundary(name string, sink Sink) *Boundary {
	return &Boundary{name: name, sink: sink}
}

// Name returns the boundary name.
func (b *Boundary) Name() string { return b.name }

// Status reports the boundary's lifecycle state.
func (b *Boundary) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fault != nil {
		return Faulted
	}
	return Healthy
}

// Fault returns the recorded fault, if any.
func (b *Boundary) Fault() *RenderFault {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fault
}

func (b *Boundary) fallback() *Fallback {
	msg := fallbackMessage
	if b.fault != nil && b.fault.Err != nil {
		msg = b.fault.Err.Error()
	}
	return &Fallback{Boundary: b.name, Message: msg, Action: ActionReload}
}

// trip records the first fault and reports it. Later faults are ignored.
func (b *Boundary) trip(f *RenderFault) *Fallback {
	b.mu.Lock()
	first := b.fault == nil
	if first {
		b.fault = f
	}
	fb := b.fallback()
	b.mu.Unlock()

	if first && b.sink != nil {
		b.sink.ReportFault(f)
	}
	return fb
}

// Guard runs render inside b. A returned error or a panic faults the
// boundary; a faulted boundary never calls render again. Exactly one of the
// results is meaningful: the value when the fallback is nil.
func Guard[T any](b *Boundary, render func() (T, error)) (out T, fb *Fallback) {
	b.mu.Lock()
	if b.fault != nil {
		fb = b.fallback()
		b.mu.Unlock()
		return out, fb
	}
	b.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			var zero T
			out = zero
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			fb = b.trip(&RenderFault{Boundary: b.name, Err: err, Panicked: true, Stack: debug.Stack()})
		}
	}()

	v, err := render()
	if err != nil {
		var zero T
		return zero, b.trip(&RenderFault{Boundary: b.name, Err: err})
	}
	return v, nil
}
