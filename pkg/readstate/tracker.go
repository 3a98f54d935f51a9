// Package readstate marks delivered messages as read. Batched and
// idempotent: re-marking an already-read message changes nothing, and only
// messages addressed to the reader are touched regardless of what ids the
// batch contains.
package readstate

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/avelar/jobchat/pkg/logging"
	"github.com/avelar/jobchat/pkg/store"
)

type Tracker struct {
	messages store.MessageStore
	log      zerolog.Logger
}

func New(messages store.MessageStore) *Tracker {
	return &Tracker{messages: messages, log: logging.Component("readstate")}
}

// MarkRead flags the given messages as read by readerID and returns how many
// were newly marked. Ids that do not exist, are already read, or belong to
// messages addressed to someone else are skipped without error; the
// recipient scoping lives in the store update itself, so a crafted batch
// cannot flip another user's read state.
func (t *Tracker) MarkRead(ctx context.Context, ids []int64, readerID string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	marked, err := t.messages.MarkRead(ctx, ids, readerID)
	if err != nil {
		return marked, err
	}
	if marked > 0 {
		t.log.Debug().Str("user_id", readerID).Int("marked", marked).Int("batch", len(ids)).
			Msg("messages marked read")
	}
	return marked, nil
}
