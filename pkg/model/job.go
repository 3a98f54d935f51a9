package model

import "time"

type Role string

const (
	RoleClient       Role = "client"
	RoleProfessional Role = "professional"
)

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleProfessional
}

type JobStatus string

const (
	JobOpen       JobStatus = "OPEN"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobCompleted  JobStatus = "COMPLETED"
)

// Participants is the two-slot party structure of a job: the posting client
// and the currently assigned professional. ProfessionalID is empty until an
// application is accepted, and changes on reassignment.
type Participants struct {
	ClientID       string `json:"clientId"`
	ProfessionalID string `json:"professionalId,omitempty"`
}

// Includes reports whether userID is one of the job's parties.
func (p Participants) Includes(userID string) bool {
	if userID == "" {
		return false
	}
	return userID == p.ClientID || userID == p.ProfessionalID
}

// Other returns the party opposite userID. ok is false when userID is not a
// party, or when the opposite slot is unassigned.
func (p Participants) Other(userID string) (other string, ok bool) {
	switch userID {
	case p.ClientID:
		return p.ProfessionalID, p.ProfessionalID != ""
	case p.ProfessionalID:
		if userID == "" {
			return "", false
		}
		return p.ClientID, p.ClientID != ""
	}
	return "", false
}

// Job carries the slice of a marketplace job that messaging needs: identity,
// display fields for the conversation list, and the participant pair the
// authorizer derives access from. The rest of the job entity lives with its
// own service.
type Job struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Status       JobStatus    `json:"status"`
	Participants Participants `json:"participants"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}
