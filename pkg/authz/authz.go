// Package authz decides whether a user may act in a job's channel. Access
// derives from the job's participant pair and nothing else: the posting
// client and the currently assigned professional.
package authz

import (
	"context"
	"errors"

	"github.com/avelar/jobchat/pkg/model"
)

// ErrForbidden means the user is authenticated but not a party to the job.
// Distinct from store.ErrJobNotFound.
var ErrForbidden = errors.New("authz: not a party to this job")

// JobFinder is the slice of the job store the authorizer needs.
type JobFinder interface {
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
}

type Authorizer struct {
	jobs JobFinder
}

func New(jobs JobFinder) *Authorizer {
	return &Authorizer{jobs: jobs}
}

// AuthorizedJob loads the job and checks that userID is one of its parties.
// The job row is re-read on every call: professional reassignment must be
// visible immediately, so nothing is cached here.
func (a *Authorizer) AuthorizedJob(ctx context.Context, userID, jobID string) (*model.Job, error) {
	job, err := a.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Participants.Includes(userID) {
		return nil, ErrForbidden
	}
	return job, nil
}

// CanAccess reports whether userID may read or write in jobID's channel.
// nil means allowed; otherwise store.ErrJobNotFound or ErrForbidden.
func (a *Authorizer) CanAccess(ctx context.Context, userID, jobID string) error {
	_, err := a.AuthorizedJob(ctx, userID, jobID)
	return err
}
