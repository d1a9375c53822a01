package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crimewatch.org/internal/audit"
)

func TestLedgerAppendAndPaging(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s := New()

	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, audit.Entry{
			ActorID:   "actor-1",
			Action:    "report.create",
			Outcome:   audit.OutcomeSuccess,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := s.Append(ctx, audit.Entry{
		ActorID: "actor-2",
		Action:  "report.delete",
		Outcome: audit.OutcomeSuccess,
	})
	require.NoError(t, err)

	_, err = s.Append(ctx, audit.Entry{})
	require.ErrorIs(t, err, audit.ErrInvalidInput)

	all, total, err := s.ListAll(ctx, audit.Filter{}, audit.Page{Limit: 4})
	require.NoError(t, err)
	require.Equal(t, 6, total)
	require.Len(t, all, 4)

	rest, total, err := s.ListAll(ctx, audit.Filter{}, audit.Page{Limit: 4, Offset: 4})
	require.NoError(t, err)
	require.Equal(t, 6, total)
	require.Len(t, rest, 2)

	// Offsets that are not limit multiples apply exactly.
	odd, total, err := s.ListAll(ctx, audit.Filter{}, audit.Page{Limit: 4, Offset: 3})
	require.NoError(t, err)
	require.Equal(t, 6, total)
	require.Len(t, odd, 3)
	require.Equal(t, rest[0].ID, odd[1].ID)

	// Newest first.
	first, _, err := s.ListAll(ctx, audit.Filter{ActorID: "actor-1"}, audit.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, first, 5)
	require.True(t, first[0].CreatedAt.After(first[4].CreatedAt))

	scoped, total, err := s.ListForActor(ctx, "actor-2", audit.Filter{}, audit.Page{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "report.delete", scoped[0].Action)

	filtered, _, err := s.ListAll(ctx, audit.Filter{
		Action: "report.create",
		From:   base.Add(2 * time.Minute),
	}, audit.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, filtered, 3)
}
