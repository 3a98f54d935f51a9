package event

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"github.com/avelar/jobchat/pkg/model"
)

func TestDecodeJoinJob(t *testing.T) {
	v, err := DecodeClient([]byte(`{"type":"join-job","jobId":"job-1"}`))
	if err != nil {
		t.Fatal(err)
	}
	ev, ok := v.(*JoinJob)
	if !ok {
		t.Fatalf("decoded %T, want *JoinJob", v)
	}
	if ev.JobID != "job-1" {
		t.Errorf("jobId = %q", ev.JobID)
	}
}

func TestDecodeSendMessage(t *testing.T) {
	v, err := DecodeClient([]byte(`{"type":"send-message","jobId":"job-1","content":"hi","messageType":"TEXT"}`))
	if err != nil {
		t.Fatal(err)
	}
	ev, ok := v.(*SendMessage)
	if !ok {
		t.Fatalf("decoded %T, want *SendMessage", v)
	}
	if ev.Content != "hi" || ev.MessageType != model.TypeText {
		t.Errorf("payload = %+v", ev)
	}
}

func TestDecodeTypingVariants(t *testing.T) {
	v, err := DecodeClient([]byte(`{"type":"typing-start","jobId":"job-1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev := v.(*Typing); !ev.IsTyping {
		t.Error("typing-start must decode with IsTyping true")
	}

	v, err = DecodeClient([]byte(`{"type":"typing-stop","jobId":"job-1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev := v.(*Typing); ev.IsTyping {
		t.Error("typing-stop must decode with IsTyping false")
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	cases := map[string]string{
		"unknown type":      `{"type":"frobnicate"}`,
		"missing jobId":     `{"type":"join-job"}`,
		"empty send jobId":  `{"type":"send-message","content":"hi"}`,
		"not json":          `hello there`,
		"typing no job":     `{"type":"typing-start"}`,
	}
	for name, frame := range cases {
		if _, err := DecodeClient([]byte(frame)); err == nil {
			t.Errorf("%s: decode accepted %s", name, frame)
		}
	}

	_, err := DecodeClient([]byte(`{"type":"frobnicate"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("unknown type error = %v", err)
	}
}

func TestUserTypingFlatEncoding(t *testing.T) {
	payload, err := NewUserTyping(model.TypingIndicator{
		UserID:   "bob",
		JobID:    "job-1",
		IsTyping: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	var flat map[string]interface{}
	if err := json.Unmarshal(payload, &flat); err != nil {
		t.Fatal(err)
	}
	if flat["type"] != TypeUserTyping {
		t.Errorf("type = %v", flat["type"])
	}
	if flat["userId"] != "bob" || flat["jobId"] != "job-1" || flat["isTyping"] != true {
		t.Errorf("payload not flat: %s", payload)
	}
}

func TestErrorEventShape(t *testing.T) {
	payload, err := NewError("FORBIDDEN", "not a party to this job")
	if err != nil {
		t.Fatal(err)
	}
	var ev ErrorEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != TypeError || ev.Code != "FORBIDDEN" {
		t.Errorf("error event = %+v", ev)
	}
}
