package collision

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/ncvguard/internal/monitoring"
)

// DefaultRecorderBuffer is the event queue length used when none is given.
const DefaultRecorderBuffer = 256

// ErrRecorderFull is returned when an event is dropped because the writer
// has fallen behind. ErrRecorderClosed is returned after Close.
var (
	ErrRecorderFull   = errors.New("collision: event recorder queue full")
	ErrRecorderClosed = errors.New("collision: event recorder closed")
)

var recorderDroppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ncvguard",
		Name:      "recorder_dropped_events_total",
		Help:      "Audit events dropped because the recorder queue was full.",
	},
)

// BufferedRecorder hands events to a single writer goroutine so the
// perception and planning paths never wait on the underlying store. Enqueue
// never blocks: a full queue drops the event and returns ErrRecorderFull.
// Store failures are logged by the writer.
type BufferedRecorder struct {
	next EventRecorder

	mu     sync.RWMutex
	closed bool
	events chan func() error
	doneCh chan struct{}
}

// NewBufferedRecorder starts a writer draining into next. A non-positive
// buffer uses DefaultRecorderBuffer. Call Close to flush and stop it.
func NewBufferedRecorder(next EventRecorder, buffer int) *BufferedRecorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	r := &BufferedRecorder{
		next:   next,
		events: make(chan func() error, buffer),
		doneCh: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *BufferedRecorder) run() {
	defer close(r.doneCh)
	for write := range r.events {
		if err := write(); err != nil {
			monitoring.Logf("[collision] event recorder: %v", err)
		}
	}
}

func (r *BufferedRecorder) enqueue(write func() error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRecorderClosed
	}
	select {
	case r.events <- write:
		return nil
	default:
		recorderDroppedTotal.Inc()
		return ErrRecorderFull
	}
}

// RecordReplan queues a replan event.
func (r *BufferedRecorder) RecordReplan(ev ReplanEvent) error {
	return r.enqueue(func() error { return r.next.RecordReplan(ev) })
}

// RecordHostPlan queues a host plan event.
func (r *BufferedRecorder) RecordHostPlan(ev HostPlanEvent) error {
	return r.enqueue(func() error { return r.next.RecordHostPlan(ev) })
}

// Close stops accepting events and waits for queued ones to be written.
// It is safe to call multiple times.
func (r *BufferedRecorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()

	<-r.doneCh
}
