package leadboard

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Board is the in-process lead store: every pipeline stage mapped to its
// ordered leads. A lead sits in exactly one stage, the one named by the last
// entry of its status history. Board is not safe for concurrent use; callers
// own the locking.
//
// Every operation either succeeds or leaves the board untouched.
type Board struct {
	pipeline Pipeline
	columns  map[Stage][]Lead
	now      func() time.Time
	newID    func() string
}

// BoardOption customizes a Board.
type BoardOption func(*Board)

// WithClock sets the time source used to stamp mutations.
func WithClock(now func() time.Time) BoardOption {
	return func(b *Board) { b.now = now }
}

// WithIDs sets the generator for lead and comment ids.
func WithIDs(newID func() string) BoardOption {
	return func(b *Board) { b.newID = newID }
}

// NewBoard returns an empty board for the pipeline.
func NewBoard(p Pipeline, opts ...BoardOption) *Board {
	b := &Board{
		pipeline: p,
		columns:  make(map[Stage][]Lead, len(p.stages)),
		now:      Now,
		newID:    uuid.NewString,
	}
	for _, st := range p.stages {
		b.columns[st.ID] = []Lead{}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// LoadBoard rebuilds a board from a snapshot, checking that every lead sits in
// a pipeline stage that matches its status history.
func LoadBoard(p Pipeline, snap Snapshot, opts ...BoardOption) (*Board, error) {
	b := NewBoard(p, opts...)
	seen := make(map[string]bool)

	for stage, leads := range snap {
		if !p.Has(stage) {
			if len(leads) == 0 {
				continue
			}
			return nil, fmt.Errorf("load stage %q: %w", stage, ErrUnknownStage)
		}
		for _, l := range leads {
			if len(l.StatusHistory) == 0 {
				return nil, fmt.Errorf("load lead %s: empty status history", l.ID)
			}
			if l.Stage() != stage {
				return nil, fmt.Errorf("load lead %s: stored in %q but history ends in %q", l.ID, stage, l.Stage())
			}
			if seen[l.ID] {
				return nil, fmt.Errorf("load lead %s: listed twice", l.ID)
			}
			seen[l.ID] = true
			b.columns[stage] = append(b.columns[stage], l.clone())
		}
	}
	return b, nil
}

// Pipeline returns the pipeline the board was built for.
func (b *Board) Pipeline() Pipeline {
	return b.pipeline
}

// Snapshot returns a deep copy of the board.
func (b *Board) Snapshot() Snapshot {
	snap := make(Snapshot, len(b.columns))
	for stage, leads := range b.columns {
		cp := make([]Lead, len(leads))
		for i, l := range leads {
			cp[i] = l.clone()
		}
		snap[stage] = cp
	}
	return snap
}

// Find returns the lead with the given id.
func (b *Board) Find(id string) (Lead, error) {
	l, err := b.lookup(id)
	if err != nil {
		return Lead{}, err
	}
	return l.clone(), nil
}

// Create checks the candidate against every lead on the board and, if no
// field collides, appends a new lead to the initial stage.
func (b *Board) Create(nl NewLead) (Lead, error) {
	if IsDuplicate(nl, b.columns) {
		return Lead{}, ErrDuplicateLead
	}

	now := b.now()
	initial := b.pipeline.Initial()
	l := Lead{
		ID:            b.newID(),
		Name:          nl.Name,
		Email:         nl.Email,
		Course:        nl.Course,
		Phone:         nl.Phone,
		LastModified:  now,
		StatusHistory: []StatusEntry{{Status: initial, Date: now}},
		Comments:      []Comment{},
	}
	b.columns[initial] = append(b.columns[initial], l)
	return l.clone(), nil
}

// Transition moves a lead to the end of the given stage and records the move
// in its history. Moving a lead to the stage it already occupies is not
// special: it still goes to the end and gets a new history entry.
func (b *Board) Transition(id string, stage Stage) (Lead, error) {
	if !b.pipeline.Has(stage) {
		return Lead{}, fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
	from, i, ok := b.locate(id)
	if !ok {
		return Lead{}, ErrLeadNotFound
	}

	l := b.columns[from][i]
	now := b.now()
	l.LastModified = now
	l.StatusHistory = append(l.StatusHistory[:len(l.StatusHistory):len(l.StatusHistory)], StatusEntry{Status: stage, Date: now})

	col := b.columns[from]
	b.columns[from] = append(col[:i:i], col[i+1:]...)
	b.columns[stage] = append(b.columns[stage], l)
	return l.clone(), nil
}

// AddComment appends a comment to a lead.
func (b *Board) AddComment(id string, text string) (Lead, error) {
	l, err := b.lookup(id)
	if err != nil {
		return Lead{}, err
	}
	now := b.now()
	l.Comments = append(l.Comments, Comment{
		ID:        b.newID(),
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	})
	l.LastModified = now
	return l.clone(), nil
}

// EditComment replaces the text of the comment at index.
func (b *Board) EditComment(id string, index int, text string) (Lead, error) {
	l, err := b.lookup(id)
	if err != nil {
		return Lead{}, err
	}
	if index < 0 || index >= len(l.Comments) {
		return Lead{}, ErrCommentNotFound
	}
	b.editAt(l, index, text)
	return l.clone(), nil
}

// DeleteComment removes the comment at index; later comments move down one
// position.
func (b *Board) DeleteComment(id string, index int) (Lead, error) {
	l, err := b.lookup(id)
	if err != nil {
		return Lead{}, err
	}
	if index < 0 || index >= len(l.Comments) {
		return Lead{}, ErrCommentNotFound
	}
	b.deleteAt(l, index)
	return l.clone(), nil
}

// EditCommentByID replaces the text of the comment with the given id.
func (b *Board) EditCommentByID(id string, commentID string, text string) (Lead, error) {
	l, err := b.lookup(id)
	if err != nil {
		return Lead{}, err
	}
	index := commentIndex(l.Comments, commentID)
	if index < 0 {
		return Lead{}, ErrCommentNotFound
	}
	b.editAt(l, index, text)
	return l.clone(), nil
}

// DeleteCommentByID removes the comment with the given id.
func (b *Board) DeleteCommentByID(id string, commentID string) (Lead, error) {
	l, err := b.lookup(id)
	if err != nil {
		return Lead{}, err
	}
	index := commentIndex(l.Comments, commentID)
	if index < 0 {
		return Lead{}, ErrCommentNotFound
	}
	b.deleteAt(l, index)
	return l.clone(), nil
}

func (b *Board) editAt(l *Lead, index int, text string) {
	now := b.now()
	comments := append([]Comment(nil), l.Comments...)
	comments[index].Text = text
	comments[index].UpdatedAt = now
	l.Comments = comments
	l.LastModified = now
}

func (b *Board) deleteAt(l *Lead, index int) {
	comments := make([]Comment, 0, len(l.Comments)-1)
	comments = append(comments, l.Comments[:index]...)
	comments = append(comments, l.Comments[index+1:]...)
	l.Comments = comments
	l.LastModified = b.now()
}

// locate scans the stages in pipeline order; the first match wins.
func (b *Board) locate(id string) (Stage, int, bool) {
	for _, st := range b.pipeline.stages {
		for i, l := range b.columns[st.ID] {
			if l.ID == id {
				return st.ID, i, true
			}
		}
	}
	return "", 0, false
}

func (b *Board) lookup(id string) (*Lead, error) {
	stage, i, ok := b.locate(id)
	if !ok {
		return nil, ErrLeadNotFound
	}
	return &b.columns[stage][i], nil
}

func commentIndex(comments []Comment, id string) int {
	for i, c := range comments {
		if c.ID == id {
			return i
		}
	}
	return -1
}
