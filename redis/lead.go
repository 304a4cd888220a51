package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/phbpx/leadboard"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultKey        = "leadboard:board"
	defaultMaxRetries = 16
)

var (
	tracer = otel.Tracer("github.com/phbpx/leadboard/redis")

	// ErrContention is returned when a mutation kept losing the optimistic
	// transaction race against other writers.
	ErrContention = errors.New("board changed concurrently too many times")
)

// LeadService keeps the whole board under one key. Mutations read, change and
// write it back inside WATCH/MULTI and start over when another writer got in
// between.
type LeadService struct {
	client     *goredis.Client
	key        string
	maxRetries int
	pipeline   leadboard.Pipeline
	opts       []leadboard.BoardOption
}

func NewLeadService(client *goredis.Client, cfg Config, pipeline leadboard.Pipeline, opts ...leadboard.BoardOption) leadboard.LeadService {
	ls := LeadService{
		client:     client,
		key:        cfg.Key,
		maxRetries: cfg.MaxRetries,
		pipeline:   pipeline,
		opts:       opts,
	}
	if ls.key == "" {
		ls.key = defaultKey
	}
	if ls.maxRetries <= 0 {
		ls.maxRetries = defaultMaxRetries
	}
	return &ls
}

func (ls *LeadService) List(ctx context.Context) (leadboard.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "redis.List")
	defer span.End()

	board, err := ls.load(ctx, ls.client)
	if err != nil {
		return nil, err
	}
	return board.Snapshot(), nil
}

func (ls *LeadService) GetByID(ctx context.Context, id string) (leadboard.Lead, error) {
	ctx, span := tracer.Start(ctx, "redis.GetByID")
	span.SetAttributes(attribute.String("lead.id", id))
	defer span.End()

	board, err := ls.load(ctx, ls.client)
	if err != nil {
		return leadboard.Lead{}, err
	}
	return board.Find(id)
}

func (ls *LeadService) Create(ctx context.Context, newLead leadboard.NewLead) (leadboard.Lead, error) {
	return ls.mutate(ctx, "redis.Create", func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.Create(newLead)
	})
}

func (ls *LeadService) TransitionStage(ctx context.Context, id string, stage leadboard.Stage) (leadboard.Lead, error) {
	return ls.mutate(ctx, "redis.TransitionStage", func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.Transition(id, stage)
	})
}

func (ls *LeadService) AddComment(ctx context.Context, id string, text string) (leadboard.Lead, error) {
	return ls.mutate(ctx, "redis.AddComment", func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.AddComment(id, text)
	})
}

func (ls *LeadService) EditComment(ctx context.Context, id string, index int, text string) (leadboard.Lead, error) {
	return ls.mutate(ctx, "redis.EditComment", func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.EditComment(id, index, text)
	})
}

func (ls *LeadService) DeleteComment(ctx context.Context, id string, index int) (leadboard.Lead, error) {
	return ls.mutate(ctx, "redis.DeleteComment", func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.DeleteComment(id, index)
	})
}

func (ls *LeadService) EditCommentByID(ctx context.Context, id string, commentID string, text string) (leadboard.Lead, error) {
	return ls.mutate(ctx, "redis.EditCommentByID", func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.EditCommentByID(id, commentID, text)
	})
}

func (ls *LeadService) DeleteCommentByID(ctx context.Context, id string, commentID string) (leadboard.Lead, error) {
	return ls.mutate(ctx, "redis.DeleteCommentByID", func(b *leadboard.Board) (leadboard.Lead, error) {
		return b.DeleteCommentByID(id, commentID)
	})
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func (ls *LeadService) load(ctx context.Context, g getter) (*leadboard.Board, error) {
	raw, err := g.Get(ctx, ls.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return leadboard.NewBoard(ls.pipeline, ls.opts...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading board: %w", err)
	}

	var snap leadboard.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decoding board: %w", err)
	}
	return leadboard.LoadBoard(ls.pipeline, snap, ls.opts...)
}

func (ls *LeadService) mutate(ctx context.Context, name string, fn func(*leadboard.Board) (leadboard.Lead, error)) (leadboard.Lead, error) {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	var lead leadboard.Lead
	txf := func(tx *goredis.Tx) error {
		board, err := ls.load(ctx, tx)
		if err != nil {
			return err
		}

		lead, err = fn(board)
		if err != nil {
			return err
		}

		raw, err := json.Marshal(board.Snapshot())
		if err != nil {
			return fmt.Errorf("encoding board: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, ls.key, raw, 0)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= ls.maxRetries; attempt++ {
		err := ls.client.Watch(ctx, txf, ls.key)
		if err == nil {
			span.SetAttributes(attribute.Int("redis.attempts", attempt))
			return lead, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		span.RecordError(err)
		return leadboard.Lead{}, err
	}

	span.RecordError(ErrContention)
	return leadboard.Lead{}, ErrContention
}
