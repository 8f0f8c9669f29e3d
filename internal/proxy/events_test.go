package proxy

import (
	"net"
	"net/netip"
	"testing"
	"time"
)

func TestEventsDelivery(t *testing.T) {
	e := NewEvents(16)
	defer e.Close()

	got := make(chan string, 16)
	e.Subscribe(ObserverFuncs{
		OnLocalConnect:  func(client net.Addr) { got <- "local " + client.String() },
		OnRemoteConnect: func(dst Destination) { got <- "remote " + dst.String() },
		OnLog:           func(msg string) { got <- "log " + msg },
	})

	e.LocalConnect(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000})
	e.RemoteConnect(Destination{IP: netip.MustParseAddr("192.0.2.1"), Port: 80})
	e.Log("hello")

	for _, want := range []string{"local 127.0.0.1:5000", "remote 192.0.2.1:80", "log hello"} {
		select {
		case s := <-got:
			if s != want {
				t.Fatalf("got %q want %q", s, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestEventsPanickingObserver(t *testing.T) {
	e := NewEvents(16)
	defer e.Close()

	e.Subscribe(ObserverFuncs{OnLog: func(string) { panic("boom") }})

	got := make(chan string, 4)
	e.Subscribe(ObserverFuncs{OnLog: func(msg string) { got <- msg }})

	e.Log("first")
	e.Log("second")

	for _, want := range []string{"first", "second"} {
		select {
		case s := <-got:
			if s != want {
				t.Fatalf("got %q want %q", s, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestEventsDropWhenFull(t *testing.T) {
	e := NewEvents(1)
	defer e.Close()

	block := make(chan struct{})
	defer close(block)
	entered := make(chan struct{}, 1)
	e.Subscribe(ObserverFuncs{OnLog: func(string) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-block
	}})

	e.Log("occupies the dispatcher")
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("observer never called")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			e.Log("queued")
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emitting blocked on a slow observer")
	}
	if e.Dropped() != 9 {
		t.Fatalf("dropped=%d want 9", e.Dropped())
	}
}

func TestEventsUnsubscribe(t *testing.T) {
	e := NewEvents(16)
	defer e.Close()

	got := make(chan string, 4)
	unsubscribe := e.Subscribe(ObserverFuncs{OnLog: func(msg string) { got <- msg }})
	e.Log("before")

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	unsubscribe()
	if e.hasObservers() {
		t.Fatal("observer still registered")
	}
	e.Log("after")

	select {
	case s := <-got:
		t.Fatalf("unexpected delivery %q", s)
	case <-time.After(50 * time.Millisecond):
	}
}
