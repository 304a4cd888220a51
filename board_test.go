package leadboard

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBoard returns a board with a deterministic clock that advances one
// minute per mutation and sequential ids.
func testBoard(t *testing.T, p Pipeline) *Board {
	t.Helper()

	clock := time.Date(2023, 5, 15, 10, 30, 0, 0, time.UTC)
	seq := 0

	return NewBoard(p,
		WithClock(func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		}),
		WithIDs(func() string {
			seq++
			return strconv.Itoa(seq)
		}),
	)
}

func contactedPipeline(t *testing.T) Pipeline {
	t.Helper()
	p, err := ParsePipeline("new_leads;contacted;enrolled")
	require.NoError(t, err)
	return p
}

func alice() NewLead {
	return NewLead{
		Name:   "Alice",
		Email:  "alice@example.com",
		Course: "Computer Science",
		Phone:  "(555) 123-4567",
	}
}

func ids(leads []Lead) []string {
	out := make([]string, len(leads))
	for i, l := range leads {
		out[i] = l.ID
	}
	return out
}

func TestBoard_Create(t *testing.T) {
	b := testBoard(t, DefaultPipeline())

	lead, err := b.Create(alice())
	require.NoError(t, err)

	assert.Equal(t, "1", lead.ID)
	assert.Equal(t, "Alice", lead.Name)
	assert.Equal(t, "Computer Science", lead.Course)
	require.Len(t, lead.StatusHistory, 1)
	assert.Equal(t, Stage("new_leads"), lead.StatusHistory[0].Status)
	assert.Equal(t, lead.LastModified, lead.StatusHistory[0].Date)
	assert.Empty(t, lead.Comments)
	assert.NotNil(t, lead.Comments)

	snap := b.Snapshot()
	assert.Equal(t, []string{"1"}, ids(snap["new_leads"]))
	assert.Len(t, snap, 16)
}

func TestBoard_CreateAppendsToInitialStage(t *testing.T) {
	b := testBoard(t, DefaultPipeline())

	_, err := b.Create(alice())
	require.NoError(t, err)
	_, err = b.Create(NewLead{Name: "Bob Smith", Email: "bob@example.com", Phone: "(555) 234-5678"})
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, ids(b.Snapshot()["new_leads"]))
}

func TestBoard_CreateRejectsDuplicates(t *testing.T) {
	tests := []struct {
		name      string
		candidate NewLead
	}{
		{"name differs only in case and spacing", NewLead{Name: "ALICE ", Email: "someone@else.com", Phone: "000-000-0000"}},
		{"same email", NewLead{Name: "Alicia", Email: " Alice@Example.com", Phone: "000-000-0000"}},
		{"same phone digits", NewLead{Name: "Alicia", Email: "someone@else.com", Phone: "555.123.4567"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBoard(t, DefaultPipeline())
			_, err := b.Create(alice())
			require.NoError(t, err)

			// Move the lead away from the initial stage; detection spans stages.
			_, err = b.Transition("1", "pending")
			require.NoError(t, err)
			before := b.Snapshot()

			_, err = b.Create(tt.candidate)
			assert.ErrorIs(t, err, ErrDuplicateLead)
			assert.Equal(t, before, b.Snapshot())
			assert.Equal(t, 1, b.Snapshot().Count())
		})
	}
}

func TestBoard_Transition(t *testing.T) {
	b := testBoard(t, contactedPipeline(t))
	_, err := b.Create(alice())
	require.NoError(t, err)

	lead, err := b.Transition("1", "contacted")
	require.NoError(t, err)

	require.Len(t, lead.StatusHistory, 2)
	last := lead.StatusHistory[1]
	assert.Equal(t, Stage("contacted"), last.Status)
	assert.Equal(t, lead.LastModified, last.Date)
	assert.Equal(t, Stage("contacted"), lead.Stage())

	snap := b.Snapshot()
	assert.Empty(t, snap["new_leads"])
	assert.Equal(t, []string{"1"}, ids(snap["contacted"]))
}

func TestBoard_TransitionAppendsToDestination(t *testing.T) {
	b := testBoard(t, contactedPipeline(t))
	for _, nl := range []NewLead{
		alice(),
		{Name: "Bob", Email: "bob@example.com", Phone: "1"},
		{Name: "Carol", Email: "carol@example.com", Phone: "2"},
	} {
		_, err := b.Create(nl)
		require.NoError(t, err)
	}

	_, err := b.Transition("3", "contacted")
	require.NoError(t, err)
	_, err = b.Transition("1", "contacted")
	require.NoError(t, err)

	snap := b.Snapshot()
	assert.Equal(t, []string{"2"}, ids(snap["new_leads"]))
	assert.Equal(t, []string{"3", "1"}, ids(snap["contacted"]))
}

func TestBoard_TransitionToSameStage(t *testing.T) {
	b := testBoard(t, contactedPipeline(t))
	_, err := b.Create(alice())
	require.NoError(t, err)
	_, err = b.Create(NewLead{Name: "Bob", Email: "bob@example.com", Phone: "1"})
	require.NoError(t, err)

	first, err := b.Find("1")
	require.NoError(t, err)

	lead, err := b.Transition("1", "new_leads")
	require.NoError(t, err)

	assert.Len(t, lead.StatusHistory, 2)
	assert.True(t, lead.LastModified.After(first.LastModified))
	assert.Equal(t, []string{"2", "1"}, ids(b.Snapshot()["new_leads"]))
}

func TestBoard_TransitionFailures(t *testing.T) {
	b := testBoard(t, contactedPipeline(t))
	_, err := b.Create(alice())
	require.NoError(t, err)
	before := b.Snapshot()

	_, err = b.Transition("nope", "contacted")
	assert.ErrorIs(t, err, ErrLeadNotFound)

	_, err = b.Transition("1", "graduated")
	assert.ErrorIs(t, err, ErrUnknownStage)

	assert.Equal(t, before, b.Snapshot())
}

func TestBoard_CommentRoundTrip(t *testing.T) {
	b := testBoard(t, DefaultPipeline())
	_, err := b.Create(alice())
	require.NoError(t, err)

	lead, err := b.AddComment("1", "x")
	require.NoError(t, err)
	require.Len(t, lead.Comments, 1)
	assert.Equal(t, "x", lead.Comments[0].Text)

	_, err = b.AddComment("1", "second")
	require.NoError(t, err)

	lead, err = b.EditComment("1", 0, "y")
	require.NoError(t, err)
	assert.Equal(t, "y", lead.Comments[0].Text)
	assert.Equal(t, "second", lead.Comments[1].Text)

	lead, err = b.DeleteComment("1", 0)
	require.NoError(t, err)
	require.Len(t, lead.Comments, 1)
	assert.Equal(t, "second", lead.Comments[0].Text)
}

func TestBoard_CommentsBumpLastModified(t *testing.T) {
	b := testBoard(t, DefaultPipeline())
	created, err := b.Create(alice())
	require.NoError(t, err)

	added, err := b.AddComment("1", "called, no answer")
	require.NoError(t, err)
	assert.True(t, added.LastModified.After(created.LastModified))

	edited, err := b.EditComment("1", 0, "called twice")
	require.NoError(t, err)
	assert.True(t, edited.LastModified.After(added.LastModified))
	assert.Equal(t, added.Comments[0].CreatedAt, edited.Comments[0].CreatedAt)
	assert.Equal(t, edited.LastModified, edited.Comments[0].UpdatedAt)

	deleted, err := b.DeleteComment("1", 0)
	require.NoError(t, err)
	assert.True(t, deleted.LastModified.After(edited.LastModified))
	// History only tracks stages.
	assert.Len(t, deleted.StatusHistory, 1)
}

func TestBoard_CommentFailures(t *testing.T) {
	b := testBoard(t, DefaultPipeline())
	_, err := b.Create(alice())
	require.NoError(t, err)
	_, err = b.AddComment("1", "only")
	require.NoError(t, err)
	before := b.Snapshot()

	tests := []struct {
		name string
		op   func() error
		want error
	}{
		{"add to unknown lead", func() error { _, err := b.AddComment("9", "x"); return err }, ErrLeadNotFound},
		{"edit unknown lead", func() error { _, err := b.EditComment("9", 0, "x"); return err }, ErrLeadNotFound},
		{"edit past end", func() error { _, err := b.EditComment("1", 1, "x"); return err }, ErrCommentNotFound},
		{"edit negative", func() error { _, err := b.EditComment("1", -1, "x"); return err }, ErrCommentNotFound},
		{"delete unknown lead", func() error { _, err := b.DeleteComment("9", 0); return err }, ErrLeadNotFound},
		{"delete past end", func() error { _, err := b.DeleteComment("1", 1); return err }, ErrCommentNotFound},
		{"edit unknown id", func() error { _, err := b.EditCommentByID("1", "nope", "x"); return err }, ErrCommentNotFound},
		{"delete unknown id", func() error { _, err := b.DeleteCommentByID("1", "nope"); return err }, ErrCommentNotFound},
		{"delete id on unknown lead", func() error { _, err := b.DeleteCommentByID("9", "nope"); return err }, ErrLeadNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
			assert.Equal(t, before, b.Snapshot())
		})
	}
}

func TestBoard_CommentIDsSurviveDeletes(t *testing.T) {
	b := testBoard(t, DefaultPipeline())
	_, err := b.Create(alice())
	require.NoError(t, err)

	for _, text := range []string{"a", "b", "c"} {
		_, err := b.AddComment("1", text)
		require.NoError(t, err)
	}
	lead, err := b.Find("1")
	require.NoError(t, err)
	cID := lead.Comments[2].ID

	_, err = b.DeleteComment("1", 0)
	require.NoError(t, err)

	lead, err = b.EditCommentByID("1", cID, "c2")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c2"}, []string{lead.Comments[0].Text, lead.Comments[1].Text})

	lead, err = b.DeleteCommentByID("1", cID)
	require.NoError(t, err)
	require.Len(t, lead.Comments, 1)
	assert.Equal(t, "b", lead.Comments[0].Text)
}

func TestBoard_CommentsFollowLeadAcrossStages(t *testing.T) {
	b := testBoard(t, contactedPipeline(t))
	_, err := b.Create(alice())
	require.NoError(t, err)
	_, err = b.AddComment("1", "before move")
	require.NoError(t, err)

	_, err = b.Transition("1", "enrolled")
	require.NoError(t, err)

	lead, err := b.AddComment("1", "after move")
	require.NoError(t, err)
	assert.Equal(t, Stage("enrolled"), lead.Stage())
	assert.Len(t, lead.Comments, 2)
}

func TestBoard_SnapshotIsACopy(t *testing.T) {
	b := testBoard(t, DefaultPipeline())
	_, err := b.Create(alice())
	require.NoError(t, err)
	_, err = b.AddComment("1", "x")
	require.NoError(t, err)

	snap := b.Snapshot()
	snap["new_leads"][0].Name = "Mallory"
	snap["new_leads"][0].Comments[0].Text = "changed"

	lead, err := b.Find("1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", lead.Name)
	assert.Equal(t, "x", lead.Comments[0].Text)
}

func TestLoadBoard(t *testing.T) {
	p := contactedPipeline(t)
	src := testBoard(t, p)
	_, err := src.Create(alice())
	require.NoError(t, err)
	_, err = src.Transition("1", "contacted")
	require.NoError(t, err)

	loaded, err := LoadBoard(p, src.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, src.Snapshot(), loaded.Snapshot())

	_, err = loaded.Transition("1", "enrolled")
	require.NoError(t, err)
}

func TestLoadBoard_RejectsInconsistentSnapshots(t *testing.T) {
	p := contactedPipeline(t)
	now := time.Date(2023, 5, 15, 0, 0, 0, 0, time.UTC)
	lead := Lead{ID: "1", StatusHistory: []StatusEntry{{Status: "new_leads", Date: now}}}

	tests := []struct {
		name string
		snap Snapshot
	}{
		{"unknown stage", Snapshot{"archived": {lead}}},
		{"bucket disagrees with history", Snapshot{"contacted": {lead}}},
		{"empty history", Snapshot{"new_leads": {{ID: "2"}}}},
		{"listed twice", Snapshot{"new_leads": {lead, lead}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBoard(p, tt.snap)
			assert.Error(t, err)
		})
	}
}
