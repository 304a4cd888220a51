package leadboard

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicateLead   = errors.New("lead with the same name, email, or phone already exists")
	ErrLeadNotFound    = errors.New("lead not found")
	ErrCommentNotFound = errors.New("comment not found")
	ErrUnknownStage    = errors.New("unknown stage")
)

// Lead is a prospective student tracked through the admissions pipeline.
type Lead struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Email         string        `json:"email"`
	Course        string        `json:"course"`
	Phone         string        `json:"phone"`
	LastModified  time.Time     `json:"lastModified"`
	StatusHistory []StatusEntry `json:"statusHistory"`
	Comments      []Comment     `json:"comments"`
}

// StatusEntry records that a lead entered a stage at a point in time.
type StatusEntry struct {
	Status Stage     `json:"status"`
	Date   time.Time `json:"date"`
}

// Comment is a free-text note attached to a lead. The ID survives deletes of
// other comments, unlike the comment's position.
type Comment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewLead holds the intake fields of a lead. Only the name is mandatory; the
// rest is free text as typed by staff.
type NewLead struct {
	Name   string `json:"name" validate:"required"`
	Email  string `json:"email"`
	Course string `json:"course"`
	Phone  string `json:"phone"`
}

// Stage returns the stage the lead currently occupies.
func (l Lead) Stage() Stage {
	if len(l.StatusHistory) == 0 {
		return ""
	}
	return l.StatusHistory[len(l.StatusHistory)-1].Status
}

// clone returns a copy that shares no slices with l.
func (l Lead) clone() Lead {
	c := l
	c.StatusHistory = append([]StatusEntry(nil), l.StatusHistory...)
	c.Comments = append([]Comment{}, l.Comments...)
	return c
}

type LeadService interface {
	List(ctx context.Context) (Snapshot, error)
	GetByID(ctx context.Context, id string) (Lead, error)
	Create(ctx context.Context, newLead NewLead) (Lead, error)
	TransitionStage(ctx context.Context, id string, stage Stage) (Lead, error)
	AddComment(ctx context.Context, id string, text string) (Lead, error)
	EditComment(ctx context.Context, id string, index int, text string) (Lead, error)
	DeleteComment(ctx context.Context, id string, index int) (Lead, error)
	EditCommentByID(ctx context.Context, id string, commentID string, text string) (Lead, error)
	DeleteCommentByID(ctx context.Context, id string, commentID string) (Lead, error)
}

// Now returns the current time in UTC at the precision every store can keep.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
