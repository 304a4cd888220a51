// Package memory keeps the lead board in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/phbpx/leadboard"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/phbpx/leadboard/memory")

// LeadService serializes every operation on one board with a single mutex.
// It gives no isolation beyond that: two racing transitions of the same lead
// are applied one after the other.
type LeadService struct {
	mu    sync.Mutex
	board *leadboard.Board
}

func NewLeadService(pipeline leadboard.Pipeline, opts ...leadboard.BoardOption) leadboard.LeadService {
	return &LeadService{
		board: leadboard.NewBoard(pipeline, opts...),
	}
}

func (ls *LeadService) List(ctx context.Context) (leadboard.Snapshot, error) {
	_, span := tracer.Start(ctx, "memory.List")
	defer span.End()

	ls.mu.Lock()
	defer ls.mu.Unlock()

	return ls.board.Snapshot(), nil
}

func (ls *LeadService) GetByID(ctx context.Context, id string) (leadboard.Lead, error) {
	return ls.do(ctx, "memory.GetByID", id, func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.Find(id)
	})
}

func (ls *LeadService) Create(ctx context.Context, newLead leadboard.NewLead) (leadboard.Lead, error) {
	return ls.do(ctx, "memory.Create", "", func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.Create(newLead)
	})
}

func (ls *LeadService) TransitionStage(ctx context.Context, id string, stage leadboard.Stage) (leadboard.Lead, error) {
	return ls.do(ctx, "memory.TransitionStage", id, func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.Transition(id, stage)
	})
}

func (ls *LeadService) AddComment(ctx context.Context, id string, text string) (leadboard.Lead, error) {
	return ls.do(ctx, "memory.AddComment", id, func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.AddComment(id, text)
	})
}

func (ls *LeadService) EditComment(ctx context.Context, id string, index int, text string) (leadboard.Lead, error) {
	return ls.do(ctx, "memory.EditComment", id, func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.EditComment(id, index, text)
	})
}

func (ls *LeadService) DeleteComment(ctx context.Context, id string, index int) (leadboard.Lead, error) {
	return ls.do(ctx, "memory.DeleteComment", id, func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.DeleteComment(id, index)
	})
}

func (ls *LeadService) EditCommentByID(ctx context.Context, id string, commentID string, text string) (leadboard.Lead, error) {
	return ls.do(ctx, "memory.EditCommentByID", id, func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.EditCommentByID(id, commentID, text)
	})
}

func (ls *LeadService) DeleteCommentByID(ctx context.Context, id string, commentID string) (leadboard.Lead, error) {
	return ls.do(ctx, "memory.DeleteCommentByID", id, func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.DeleteCommentByID(id, commentID)
	})
}

func (ls *LeadService) do(ctx context.Context, name, id string, fn func(*leadboard.Board) (leadboard.Lead, error)) (leadboard.Lead, error) {
	_, span := tracer.Start(ctx, name)
	defer span.End()

	ls.mu.Lock()
	lead, err := fn(ls.board)
	ls.mu.Unlock()

	record(span, id, err)
	return lead, err
}

func record(span trace.Span, id string, err error) {
	if id != "" {
		span.SetAttributes(attribute.String("lead.id", id))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
