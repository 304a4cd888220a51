package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/phbpx/leadboard"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a lead service backed by miniredis.
func setupTestRedis(t *testing.T, cfg Config) (leadboard.LeadService, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	pipeline, err := leadboard.ParsePipeline("new_leads;contacted;enrolled")
	require.NoError(t, err)

	return NewLeadService(client, cfg, pipeline), mr
}

func TestLeadService_EmptyBoard(t *testing.T) {
	svc, mr := setupTestRedis(t, Config{})

	snap, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap, 3)
	assert.Equal(t, 0, snap.Count())
	assert.False(t, mr.Exists(defaultKey))
}

func TestLeadService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc, mr := setupTestRedis(t, Config{Key: "test:board"})

	lead, err := svc.Create(ctx, leadboard.NewLead{
		Name:   "Alice",
		Email:  "alice@example.com",
		Course: "Law",
		Phone:  "(555) 123-4567",
	})
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:board"))

	_, err = svc.Create(ctx, leadboard.NewLead{Name: "ALICE ", Email: "someone@else.com", Phone: "000-000-0000"})
	assert.ErrorIs(t, err, leadboard.ErrDuplicateLead)

	moved, err := svc.TransitionStage(ctx, lead.ID, "contacted")
	require.NoError(t, err)
	require.Len(t, moved.StatusHistory, 2)
	assert.Equal(t, moved.LastModified, moved.StatusHistory[1].Date)

	_, err = svc.TransitionStage(ctx, "missing", "contacted")
	assert.ErrorIs(t, err, leadboard.ErrLeadNotFound)

	_, err = svc.AddComment(ctx, lead.ID, "x")
	require.NoError(t, err)
	_, err = svc.AddComment(ctx, lead.ID, "w")
	require.NoError(t, err)

	edited, err := svc.EditComment(ctx, lead.ID, 0, "y")
	require.NoError(t, err)
	assert.Equal(t, "y", edited.Comments[0].Text)
	assert.Equal(t, "w", edited.Comments[1].Text)

	byID, err := svc.EditCommentByID(ctx, lead.ID, edited.Comments[1].ID, "v")
	require.NoError(t, err)
	assert.Equal(t, "v", byID.Comments[1].Text)

	deleted, err := svc.DeleteComment(ctx, lead.ID, 0)
	require.NoError(t, err)
	require.Len(t, deleted.Comments, 1)
	assert.Equal(t, "v", deleted.Comments[0].Text)

	deleted, err = svc.DeleteCommentByID(ctx, lead.ID, deleted.Comments[0].ID)
	require.NoError(t, err)
	assert.Empty(t, deleted.Comments)

	snap, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap["new_leads"])
	require.Len(t, snap["contacted"], 1)
	assert.Equal(t, "Law", snap["contacted"][0].Course)

	got, err := svc.GetByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, lead.ID, got.ID)
	assert.True(t, got.LastModified.Equal(deleted.LastModified))
}

func TestLeadService_FailuresLeaveBoardUnchanged(t *testing.T) {
	ctx := context.Background()
	svc, mr := setupTestRedis(t, Config{})

	lead, err := svc.Create(ctx, leadboard.NewLead{Name: "Alice", Email: "alice@example.com", Phone: "1"})
	require.NoError(t, err)
	before, err := mr.Get(defaultKey)
	require.NoError(t, err)

	_, err = svc.TransitionStage(ctx, "missing", "contacted")
	assert.ErrorIs(t, err, leadboard.ErrLeadNotFound)
	_, err = svc.TransitionStage(ctx, lead.ID, "graduated")
	assert.ErrorIs(t, err, leadboard.ErrUnknownStage)
	_, err = svc.EditComment(ctx, lead.ID, 0, "x")
	assert.ErrorIs(t, err, leadboard.ErrCommentNotFound)

	after, err := mr.Get(defaultKey)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLeadService_CorruptBoard(t *testing.T) {
	svc, mr := setupTestRedis(t, Config{})
	require.NoError(t, mr.Set(defaultKey, "{not json"))

	_, err := svc.List(context.Background())
	assert.Error(t, err)
}

func TestLeadService_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestRedis(t, Config{MaxRetries: 100})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lead, err := svc.Create(ctx, leadboard.NewLead{
				Name:  fmt.Sprintf("Lead %d", i),
				Email: fmt.Sprintf("lead%d@example.com", i),
				Phone: fmt.Sprintf("555%04d", i),
			})
			if !assert.NoError(t, err) {
				return
			}
			_, err = svc.TransitionStage(ctx, lead.ID, "enrolled")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap["new_leads"])
	assert.Len(t, snap["enrolled"], 8)
}
