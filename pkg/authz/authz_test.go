package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/avelar/jobchat/pkg/model"
	"github.com/avelar/jobchat/pkg/store"
)

func seededStore(t *testing.T) *store.MemStore {
	t.Helper()
	st := store.NewMemStore()
	err := st.PutJob(context.Background(), &model.Job{
		ID:     "job-1",
		Title:  "Fix kitchen sink",
		Status: model.JobInProgress,
		Participants: model.Participants{
			ClientID:       "alice",
			ProfessionalID: "bob",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestCanAccessParties(t *testing.T) {
	a := New(seededStore(t))
	ctx := context.Background()

	if err := a.CanAccess(ctx, "alice", "job-1"); err != nil {
		t.Errorf("client denied: %v", err)
	}
	if err := a.CanAccess(ctx, "bob", "job-1"); err != nil {
		t.Errorf("professional denied: %v", err)
	}
}

func TestCanAccessOutsiderForbidden(t *testing.T) {
	a := New(seededStore(t))

	err := a.CanAccess(context.Background(), "mallory", "job-1")
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("want ErrForbidden, got %v", err)
	}
}

func TestCanAccessUnknownJob(t *testing.T) {
	a := New(seededStore(t))

	err := a.CanAccess(context.Background(), "alice", "no-such-job")
	if !errors.Is(err, store.ErrJobNotFound) {
		t.Errorf("want ErrJobNotFound, got %v", err)
	}
	if errors.Is(err, ErrForbidden) {
		t.Error("not-found must stay distinguishable from forbidden")
	}
}

func TestReassignmentVisibleImmediately(t *testing.T) {
	st := seededStore(t)
	a := New(st)
	ctx := context.Background()

	if err := a.CanAccess(ctx, "bob", "job-1"); err != nil {
		t.Fatalf("bob denied before reassignment: %v", err)
	}

	// Reassign the professional; the answer must flip for both old and new
	// on the very next call.
	job, err := st.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	job.Participants.ProfessionalID = "carol"
	if err := st.PutJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	if err := a.CanAccess(ctx, "bob", "job-1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("old professional still allowed after reassignment: %v", err)
	}
	if err := a.CanAccess(ctx, "carol", "job-1"); err != nil {
		t.Errorf("new professional denied after reassignment: %v", err)
	}
}

func TestEmptyUserNeverMatchesUnassignedSlot(t *testing.T) {
	st := store.NewMemStore()
	if err := st.PutJob(context.Background(), &model.Job{
		ID:           "job-open",
		Status:       model.JobOpen,
		Participants: model.Participants{ClientID: "alice"},
	}); err != nil {
		t.Fatal(err)
	}

	a := New(st)
	if err := a.CanAccess(context.Background(), "", "job-open"); !errors.Is(err, ErrForbidden) {
		t.Errorf("empty user id matched the unassigned professional slot: %v", err)
	}
}
