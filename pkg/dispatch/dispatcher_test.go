package dispatch

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/avelar/jobchat/pkg/authz"
	"github.com/avelar/jobchat/pkg/bus"
	"github.com/avelar/jobchat/pkg/event"
	"github.com/avelar/jobchat/pkg/logging"
	"github.com/avelar/jobchat/pkg/model"
	"github.com/avelar/jobchat/pkg/registry"
	"github.com/avelar/jobchat/pkg/store"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type fakeSub struct {
	key string
	ch  chan []byte
}

func newFakeSub(key string) *fakeSub {
	return &fakeSub{key: key, ch: make(chan []byte, 16)}
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
func (f *fakeSub) Evict() {}

func (f *fakeSub) recvEvent(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case raw := <-f.ch:
		var ev map[string]interface{}
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("bad event %s: %v", raw, err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (f *fakeSub) expectNone(t *testing.T) {
	t.Helper()
	select {
	case raw := <-f.ch:
		t.Fatalf("unexpected event: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

type testRig struct {
	store      *store.MemStore
	registry   *registry.Registry
	dispatcher *Dispatcher
}

func newRig(t *testing.T, notifier Notifier) *testRig {
	t.Helper()
	st := store.NewMemStore()
	reg := registry.New(bus.Nop{})
	access := authz.New(st)
	return &testRig{
		store:      st,
		registry:   reg,
		dispatcher: New(st, access, reg, notifier),
	}
}

func (r *testRig) seedJob(t *testing.T, id, clientID, professionalID string) {
	t.Helper()
	err := r.store.PutJob(context.Background(), &model.Job{
		ID:     id,
		Title:  "job " + id,
		Status: model.JobInProgress,
		Participants: model.Participants{
			ClientID:       clientID,
			ProfessionalID: professionalID,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSendResolvesRecipient(t *testing.T) {
	rig := newRig(t, nil)
	rig.seedJob(t, "job-1", "alice", "bob")
	ctx := context.Background()

	// Client sends: recipient is the professional.
	m, err := rig.dispatcher.Send(ctx, "alice", "job-1", "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if m.RecipientID != "bob" || m.SenderID != "alice" {
		t.Errorf("sender/recipient = %s/%s", m.SenderID, m.RecipientID)
	}
	if m.MessageType != model.TypeText {
		t.Errorf("default message type = %q", m.MessageType)
	}
	if m.ID == 0 || m.CreatedAt.IsZero() {
		t.Error("persisted message missing identity")
	}

	// Professional sends: recipient is the client.
	m, err = rig.dispatcher.Send(ctx, "bob", "job-1", "hi back", model.TypeText)
	if err != nil {
		t.Fatal(err)
	}
	if m.RecipientID != "alice" {
		t.Errorf("recipient = %s, want alice", m.RecipientID)
	}
}

func TestSendNoRecipient(t *testing.T) {
	rig := newRig(t, nil)
	rig.seedJob(t, "job-open", "alice", "")

	_, err := rig.dispatcher.Send(context.Background(), "alice", "job-open", "anyone there?", "")
	if !errors.Is(err, ErrNoRecipient) {
		t.Errorf("want ErrNoRecipient, got %v", err)
	}
}

func TestSendValidation(t *testing.T) {
	rig := newRig(t, nil)
	rig.seedJob(t, "job-1", "alice", "bob")
	ctx := context.Background()

	if _, err := rig.dispatcher.Send(ctx, "alice", "job-1", "", ""); !errors.Is(err, ErrInvalidContent) {
		t.Errorf("empty content: %v", err)
	}

	atLimit := strings.Repeat("x", model.MaxContentLength)
	if _, err := rig.dispatcher.Send(ctx, "alice", "job-1", atLimit, ""); err != nil {
		t.Errorf("content at limit rejected: %v", err)
	}

	over := strings.Repeat("x", model.MaxContentLength+1)
	if _, err := rig.dispatcher.Send(ctx, "alice", "job-1", over, ""); !errors.Is(err, ErrInvalidContent) {
		t.Errorf("over-length content: %v", err)
	}

	if _, err := rig.dispatcher.Send(ctx, "alice", "job-1", "hi", "CARRIER_PIGEON"); !errors.Is(err, ErrInvalidContent) {
		t.Errorf("bad message type: %v", err)
	}
}

func TestSendAuthorization(t *testing.T) {
	rig := newRig(t, nil)
	rig.seedJob(t, "job-1", "alice", "bob")
	ctx := context.Background()

	if _, err := rig.dispatcher.Send(ctx, "mallory", "job-1", "let me in", ""); !errors.Is(err, authz.ErrForbidden) {
		t.Errorf("outsider send: %v", err)
	}
	if _, err := rig.dispatcher.Send(ctx, "alice", "nope", "hello?", ""); !errors.Is(err, store.ErrJobNotFound) {
		t.Errorf("unknown job send: %v", err)
	}
}

func TestSendPublishesToPersonalAndRoom(t *testing.T) {
	rig := newRig(t, nil)
	rig.seedJob(t, "job-1", "alice", "bob")

	bobPersonal := newFakeSub("bob-conn")
	roomWatcher := newFakeSub("room-conn")
	rig.registry.Subscribe(bobPersonal, registry.UserChannel("bob"))
	rig.registry.Subscribe(roomWatcher, registry.RoomChannel("job-1"))

	sent, err := rig.dispatcher.Send(context.Background(), "alice", "job-1", "hello", "")
	if err != nil {
		t.Fatal(err)
	}

	personal := bobPersonal.recvEvent(t)
	if personal["type"] != event.TypeNewMessage {
		t.Errorf("personal event type = %v", personal["type"])
	}
	room := roomWatcher.recvEvent(t)
	if room["type"] != event.TypeJobRoomUpdate {
		t.Errorf("room event type = %v", room["type"])
	}

	msg := personal["message"].(map[string]interface{})
	if int64(msg["id"].(float64)) != sent.ID {
		t.Errorf("published id %v != persisted id %d", msg["id"], sent.ID)
	}
}

func TestPersistBeforePublish(t *testing.T) {
	rig := newRig(t, nil)
	rig.seedJob(t, "job-1", "alice", "bob")

	bobPersonal := newFakeSub("bob-conn")
	roomWatcher := newFakeSub("room-conn")
	rig.registry.Subscribe(bobPersonal, registry.UserChannel("bob"))
	rig.registry.Subscribe(roomWatcher, registry.RoomChannel("job-1"))

	rig.store.FailNextInsert(errors.New("disk on fire"))

	_, err := rig.dispatcher.Send(context.Background(), "alice", "job-1", "doomed", "")
	if err == nil {
		t.Fatal("send succeeded despite store failure")
	}

	// A message that failed to persist must never be published anywhere.
	bobPersonal.expectNone(t)
	roomWatcher.expectNone(t)

	history, err := rig.store.History(context.Background(), "job-1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("history has %d rows after failed insert", len(history))
	}
}

func TestSameSenderOrdering(t *testing.T) {
	rig := newRig(t, nil)
	rig.seedJob(t, "job-1", "alice", "bob")
	ctx := context.Background()

	a, err := rig.dispatcher.Send(ctx, "alice", "job-1", "A", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := rig.dispatcher.Send(ctx, "alice", "job-1", "B", "")
	if err != nil {
		t.Fatal(err)
	}

	if a.CreatedAt.After(b.CreatedAt) {
		t.Errorf("createdAt out of order: %v > %v", a.CreatedAt, b.CreatedAt)
	}

	history, err := rig.store.History(ctx, "job-1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Content != "A" || history[1].Content != "B" {
		t.Errorf("history order wrong: %+v", history)
	}
}

type flakyNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (n *flakyNotifier) NotifyNewMessage(context.Context, string, model.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return n.err
}

func (n *flakyNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func TestNotifierFailureDoesNotFailSend(t *testing.T) {
	notifier := &flakyNotifier{err: errors.New("push gateway down")}
	rig := newRig(t, notifier)
	rig.seedJob(t, "job-1", "alice", "bob")

	m, err := rig.dispatcher.Send(context.Background(), "alice", "job-1", "hello", "")
	if err != nil {
		t.Fatalf("notifier failure leaked into send: %v", err)
	}
	if m == nil || m.ID == 0 {
		t.Fatal("message not persisted")
	}

	deadline := time.Now().Add(time.Second)
	for notifier.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notifier never invoked")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{ErrInvalidContent, "INVALID_CONTENT"},
		{ErrNoRecipient, "NO_RECIPIENT"},
		{authz.ErrForbidden, "FORBIDDEN"},
		{store.ErrJobNotFound, "JOB_NOT_FOUND"},
		{errors.New("anything else"), "INTERNAL"},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.code {
			t.Errorf("Code(%v) = %q, want %q", tc.err, got, tc.code)
		}
	}
}
