// Package dispatch implements the message send pipeline: validate,
// authorize, resolve the recipient, persist, then fan out. Persistence
// happens strictly before publish; a message that failed to durably write is
// never seen by anyone.
package dispatch

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/avelar/jobchat/pkg/authz"
	"github.com/avelar/jobchat/pkg/event"
	"github.com/avelar/jobchat/pkg/logging"
	"github.com/avelar/jobchat/pkg/metrics"
	"github.com/avelar/jobchat/pkg/model"
	"github.com/avelar/jobchat/pkg/registry"
	"github.com/avelar/jobchat/pkg/store"
)

var (
	// ErrInvalidContent rejects empty or over-length message bodies.
	ErrInvalidContent = errors.New("dispatch: invalid message content")

	// ErrNoRecipient means the job has no second party assigned yet, so
	// there is nobody to message.
	ErrNoRecipient = errors.New("dispatch: job has no second party")
)

// Notifier receives the push-notification side effect for a delivered
// message. Fire-and-forget: failures are logged and never fail the send.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, userID string, m model.Message) error
}

type Dispatcher struct {
	messages store.MessageStore
	access   *authz.Authorizer
	registry *registry.Registry
	notifier Notifier
	log      zerolog.Logger
}

func New(messages store.MessageStore, access *authz.Authorizer, reg *registry.Registry, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		messages: messages,
		access:   access,
		registry: reg,
		notifier: notifier,
		log:      logging.Component("dispatch"),
	}
}

// Send runs the full pipeline for one message and returns the persisted
// result. Error kinds: ErrInvalidContent, store.ErrJobNotFound,
// authz.ErrForbidden, ErrNoRecipient, or a storage error.
func (d *Dispatcher) Send(ctx context.Context, senderID, jobID, content string, msgType model.MessageType) (*model.Message, error) {
	if msgType == "" {
		msgType = model.TypeText
	}
	if content == "" || utf8.RuneCountInString(content) > model.MaxContentLength || !msgType.Valid() {
		metrics.DispatchRejected.WithLabelValues("invalid-content").Inc()
		return nil, ErrInvalidContent
	}

	// Authorization is re-checked on every send; the job row is the single
	// source for both the access decision and recipient resolution, so a
	// reassigned professional is picked up immediately.
	job, err := d.access.AuthorizedJob(ctx, senderID, jobID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrJobNotFound):
			metrics.DispatchRejected.WithLabelValues("job-not-found").Inc()
		case errors.Is(err, authz.ErrForbidden):
			metrics.DispatchRejected.WithLabelValues("forbidden").Inc()
		}
		return nil, err
	}

	recipientID, ok := job.Participants.Other(senderID)
	if !ok {
		metrics.DispatchRejected.WithLabelValues("no-recipient").Inc()
		return nil, ErrNoRecipient
	}

	m := &model.Message{
		JobID:       jobID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		MessageType: msgType,
	}
	if err := d.messages.Insert(ctx, m); err != nil {
		// Persist failed: abort entirely. Nothing is published.
		return nil, err
	}
	metrics.MessagesDispatched.Inc()

	d.publish(recipientID, jobID, *m)
	d.notify(recipientID, *m)

	return m, nil
}

func (d *Dispatcher) publish(recipientID, jobID string, m model.Message) {
	if personal, err := event.NewMessageEvent(event.TypeNewMessage, m); err == nil {
		d.registry.Publish(registry.UserChannel(recipientID), personal)
	} else {
		d.log.Error().Err(err).Int64("message_id", m.ID).Msg("encode new-message failed")
	}

	if room, err := event.NewMessageEvent(event.TypeJobRoomUpdate, m); err == nil {
		d.registry.Publish(registry.RoomChannel(jobID), room)
	} else {
		d.log.Error().Err(err).Int64("message_id", m.ID).Msg("encode job-room-update failed")
	}
}

func (d *Dispatcher) notify(recipientID string, m model.Message) {
	if d.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.notifier.NotifyNewMessage(ctx, recipientID, m); err != nil {
			d.log.Warn().Err(err).Str("user_id", recipientID).Int64("message_id", m.ID).
				Msg("push notification failed")
		}
	}()
}

// Code maps a send failure to its wire error code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidContent):
		return "INVALID_CONTENT"
	case errors.Is(err, ErrNoRecipient):
		return "NO_RECIPIENT"
	case errors.Is(err, authz.ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, store.ErrJobNotFound):
		return "JOB_NOT_FOUND"
	}
	return "INTERNAL"
}
