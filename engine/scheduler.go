package engine

import (
	"errors"
	"sync"
)

// ErrSchedulerFull is returned when a work request cannot be queued.
var ErrSchedulerFull = errors.New("engine: worker queue full")

// AsyncScheduler runs instance work on a single background goroutine,
// the in-process analog of a plug-in host's worker thread.
// ScheduleWork is a non-blocking channel send and safe to call from
// the audio thread.
type AsyncScheduler struct {
	queue chan WorkMessage

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewAsyncScheduler creates a scheduler with the given queue depth.
func NewAsyncScheduler(depth int) *AsyncScheduler {
	if depth < 1 {
		depth = 16
	}
	return &AsyncScheduler{
		queue: make(chan WorkMessage, depth),
	}
}

// Start binds the scheduler to an instance and launches the worker
// goroutine.
func (s *AsyncScheduler) Start(inst *Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(inst, s.stop, s.done)
}

// Close stops the worker goroutine after draining queued work.
func (s *AsyncScheduler) Close() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// ScheduleWork queues msg for the worker goroutine without blocking.
func (s *AsyncScheduler) ScheduleWork(msg WorkMessage) error {
	select {
	case s.queue <- msg:
		return nil
	default:
		return ErrSchedulerFull
	}
}

func (s *AsyncScheduler) run(inst *Instance, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case msg := <-s.queue:
			inst.Work(msg)
		case <-stop:
			for {
				select {
				case msg := <-s.queue:
					inst.Work(msg)
				default:
					return
				}
			}
		}
	}
}
