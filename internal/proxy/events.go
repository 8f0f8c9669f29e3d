package proxy

import (
	"net"
	"sync"
	"sync/atomic"
)

// DefaultEventQueueLen bounds the number of undelivered notifications.
const DefaultEventQueueLen = 1024

// Observer receives lifecycle notifications. Methods are called from a single
// dispatch goroutine, never from the connection's own goroutine.
type Observer interface {
	// LocalConnect is called when a client connection is accepted.
	LocalConnect(client net.Addr)

	// RemoteConnect is called once the upstream connect attempt for dst has
	// finished, whether or not it succeeded.
	RemoteConnect(dst Destination)

	// Log receives free-text diagnostics.
	Log(msg string)
}

// ObserverFuncs adapts optional functions to Observer. Nil fields are
// skipped.
type ObserverFuncs struct {
	OnLocalConnect  func(client net.Addr)
	OnRemoteConnect func(dst Destination)
	OnLog           func(msg string)
}

func (f ObserverFuncs) LocalConnect(client net.Addr) {
	if f.OnLocalConnect != nil {
		f.OnLocalConnect(client)
	}
}

func (f ObserverFuncs) RemoteConnect(dst Destination) {
	if f.OnRemoteConnect != nil {
		f.OnRemoteConnect(dst)
	}
}

func (f ObserverFuncs) Log(msg string) {
	if f.OnLog != nil {
		f.OnLog(msg)
	}
}

type event struct {
	kind   eventKind
	client net.Addr
	dst    Destination
	msg    string
}

type eventKind int

const (
	eventLocalConnect eventKind = iota
	eventRemoteConnect
	eventLog
)

// Events fans notifications out to subscribed observers. Emitting never
// blocks: notifications are queued and delivered by one goroutine, and are
// dropped when the queue is full. A panicking observer is recovered and does
// not affect other observers.
type Events struct {
	queue chan event
	done  chan struct{}

	mu        sync.RWMutex
	nextID    uint64
	observers map[uint64]Observer
	order     []uint64

	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Uint64
}

func NewEvents(queueLen int) *Events {
	if queueLen <= 0 {
		queueLen = DefaultEventQueueLen
	}
	return &Events{
		queue:     make(chan event, queueLen),
		done:      make(chan struct{}),
		observers: make(map[uint64]Observer),
	}
}

// Subscribe adds o and returns a function that removes it.
func (e *Events) Subscribe(o Observer) (unsubscribe func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.observers[id] = o
	e.order = append(e.order, id)
	e.mu.Unlock()

	e.startOnce.Do(func() { go e.run() })

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.observers, id)
		for i, v := range e.order {
			if v == id {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
	}
}

// Dropped returns the number of notifications discarded because the queue
// was full.
func (e *Events) Dropped() uint64 {
	return e.dropped.Load()
}

// Close stops delivery. Notifications still queued are discarded.
func (e *Events) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

func (e *Events) LocalConnect(client net.Addr) {
	e.emit(event{kind: eventLocalConnect, client: client})
}

func (e *Events) RemoteConnect(dst Destination) {
	e.emit(event{kind: eventRemoteConnect, dst: dst})
}

func (e *Events) Log(msg string) {
	e.emit(event{kind: eventLog, msg: msg})
}

func (e *Events) hasObservers() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.observers) > 0
}

func (e *Events) emit(ev event) {
	if e.closed.Load() || !e.hasObservers() {
		return
	}
	select {
	case e.queue <- ev:
	default:
		e.dropped.Add(1)
	}
}

func (e *Events) run() {
	for {
		select {
		case ev := <-e.queue:
			e.deliver(ev)
		case <-e.done:
			return
		}
	}
}

func (e *Events) deliver(ev event) {
	e.mu.RLock()
	observers := make([]Observer, 0, len(e.order))
	for _, id := range e.order {
		observers = append(observers, e.observers[id])
	}
	e.mu.RUnlock()

	for _, o := range observers {
		dispatch(o, ev)
	}
}

func dispatch(o Observer, ev event) {
	defer func() {
		_ = recover()
	}()

	switch ev.kind {
	case eventLocalConnect:
		o.LocalConnect(ev.client)
	case eventRemoteConnect:
		o.RemoteConnect(ev.dst)
	case eventLog:
		o.Log(ev.msg)
	}
}
