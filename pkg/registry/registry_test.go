package registry

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/avelar/jobchat/pkg/bus"
	"github.com/avelar/jobchat/pkg/logging"
	"github.com/avelar/jobchat/pkg/model"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type fakeSub struct {
	key     string
	ch      chan []byte
	mu      sync.Mutex
	evicted bool
}

func newFakeSub(key string, buffer int) *fakeSub {
	return &fakeSub{key: key, ch: make(chan []byte, buffer)}
}

func (f *fakeSub) Key() string { return f.key }

func (f *fakeSub) TrySend(event []byte) bool {
	select {
	case f.ch <- event:
		return true
	default:
		return false
	}
}

func (f *fakeSub) Evict() {
	f.mu.Lock()
	f.evicted = true
	f.mu.Unlock()
}

func (f *fakeSub) wasEvicted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evicted
}

func (f *fakeSub) recv(t *testing.T) []byte {
	t.Helper()
	select {
	case ev := <-f.ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (f *fakeSub) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-f.ch:
		t.Fatalf("unexpected event: %s", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishReachesRoomMembers(t *testing.T) {
	r := New(bus.Nop{})
	a := newFakeSub("a", 4)
	b := newFakeSub("b", 4)
	c := newFakeSub("c", 4)

	r.Subscribe(a, RoomChannel("job-1"))
	r.Subscribe(b, RoomChannel("job-1"))
	r.Subscribe(c, RoomChannel("job-2"))

	r.Publish(RoomChannel("job-1"), []byte("hello"))

	if got := string(a.recv(t)); got != "hello" {
		t.Errorf("a got %q", got)
	}
	if got := string(b.recv(t)); got != "hello" {
		t.Errorf("b got %q", got)
	}
	c.expectNone(t)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := New(bus.Nop{})
	a := newFakeSub("a", 4)

	r.Subscribe(a, RoomChannel("job-1"))
	r.Unsubscribe(a, RoomChannel("job-1"))
	r.Publish(RoomChannel("job-1"), []byte("x"))

	a.expectNone(t)
	if n := r.LocalMembers(RoomChannel("job-1")); n != 0 {
		t.Errorf("members = %d after unsubscribe", n)
	}
}

func TestDisconnectLeavesEverything(t *testing.T) {
	r := New(bus.Nop{})
	a := newFakeSub("a", 4)

	r.Subscribe(a, UserChannel("alice"))
	r.Subscribe(a, RoomChannel("job-1"))
	r.Subscribe(a, RoomChannel("job-2"))
	r.Subscribe(a, RoleChannel(model.RoleClient))

	r.Disconnect(a)

	for _, ch := range []string{
		UserChannel("alice"), RoomChannel("job-1"), RoomChannel("job-2"), RoleChannel(model.RoleClient),
	} {
		if n := r.LocalMembers(ch); n != 0 {
			t.Errorf("channel %s still has %d members after disconnect", ch, n)
		}
	}
}

func TestSlowSubscriberEvicted(t *testing.T) {
	r := New(bus.Nop{})
	slow := newFakeSub("slow", 1)
	fast := newFakeSub("fast", 4)

	r.Subscribe(slow, RoomChannel("job-1"))
	r.Subscribe(fast, RoomChannel("job-1"))

	// Second publish overflows the slow subscriber's buffer of one.
	r.Publish(RoomChannel("job-1"), []byte("1"))
	r.Publish(RoomChannel("job-1"), []byte("2"))

	if !slow.wasEvicted() {
		t.Error("slow subscriber was not evicted")
	}
	if r.LocalMembers(RoomChannel("job-1")) != 1 {
		t.Errorf("room members = %d, want 1", r.LocalMembers(RoomChannel("job-1")))
	}
	// The fast subscriber saw both events.
	if got := string(fast.recv(t)); got != "1" {
		t.Errorf("fast first = %q", got)
	}
	if got := string(fast.recv(t)); got != "2" {
		t.Errorf("fast second = %q", got)
	}
}

// recordingBus captures publishes and lets tests inject remote envelopes.
type recordingBus struct {
	mu       sync.Mutex
	env      []bus.Envelope
	handler  bus.Handler
	handlerC chan struct{}
}

func (b *recordingBus) Publish(_ context.Context, env bus.Envelope) error {
	b.mu.Lock()
	b.env = append(b.env, env)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) Start(_ context.Context, handler bus.Handler) {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
	if b.handlerC != nil {
		close(b.handlerC)
	}
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) published() []bus.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bus.Envelope(nil), b.env...)
}

func TestPublishForwardsToBus(t *testing.T) {
	rb := &recordingBus{}
	r := New(rb)

	r.Publish(RoomChannel("job-1"), []byte("payload"))

	deadline := time.Now().Add(time.Second)
	for {
		if envs := rb.published(); len(envs) == 1 {
			if envs[0].Channel != RoomChannel("job-1") || string(envs[0].Event) != "payload" {
				t.Fatalf("envelope = %+v", envs[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("bus publish never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRemoteEnvelopeDeliveredLocally(t *testing.T) {
	rb := &recordingBus{handlerC: make(chan struct{})}
	r := New(rb)
	r.Start(context.Background())
	<-rb.handlerC

	a := newFakeSub("a", 4)
	r.Subscribe(a, UserChannel("alice"))

	rb.handler(bus.Envelope{Channel: UserChannel("alice"), Origin: "other-instance", Event: []byte("remote")})

	if got := string(a.recv(t)); got != "remote" {
		t.Errorf("remote event = %q", got)
	}
}

func TestConcurrentJoinLeavePublish(t *testing.T) {
	r := New(bus.Nop{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sub := newFakeSub(string(rune('a'+n)), 64)
			for j := 0; j < 200; j++ {
				r.Subscribe(sub, RoomChannel("job-1"))
				r.Publish(RoomChannel("job-1"), []byte("x"))
				// Drain so the subscriber never looks slow.
				for len(sub.ch) > 0 {
					<-sub.ch
				}
				r.Disconnect(sub)
			}
		}(i)
	}
	wg.Wait()

	if n := r.LocalMembers(RoomChannel("job-1")); n != 0 {
		t.Errorf("room members = %d after all disconnects", n)
	}
}
