package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/spyglass/api/schemas"
	"go.uber.org/zap"
)

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert an interaction row", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		in := schemas.Interaction{
			ID:         uuid.NewString(),
			SessionKey: "default",
			Kind:       schemas.ActionClick,
			URL:        "https://example.com",
			X:          120,
			Y:          240,
			Duration:   85,
			OccurredAt: time.Now(),
		}

		mockPool.ExpectExec(regexp.QuoteMeta(insertInteractionSQL)).
			WithArgs(in.ID, in.SessionKey, string(in.Kind), in.URL,
				in.X, in.Y, in.DeltaY, in.TextLen, in.Duration, in.OccurredAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.Record(ctx, in))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should assign an id when missing", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		in := schemas.Interaction{SessionKey: "default", Kind: schemas.ActionRender, OccurredAt: time.Now()}

		mockPool.ExpectExec(regexp.QuoteMeta(insertInteractionSQL)).
			WithArgs(pgxmock.AnyArg(), in.SessionKey, string(in.Kind), in.URL,
				in.X, in.Y, in.DeltaY, in.TextLen, in.Duration, in.OccurredAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.Record(ctx, in))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate exec failure", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		execErr := errors.New("connection reset")
		mockPool.ExpectExec(regexp.QuoteMeta(insertInteractionSQL)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(execErr)

		err = store.Record(ctx, schemas.Interaction{SessionKey: "default", Kind: schemas.ActionScroll})
		require.Error(t, err)
		assert.ErrorIs(t, err, execErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRecent(t *testing.T) {
	ctx := context.Background()

	t.Run("should retrieve interactions newest first", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		now := time.Now()
		columns := []string{"id", "session_key", "kind", "url", "x", "y", "delta_y", "text_len", "duration_ms", "occurred_at"}
		rows := pgxmock.NewRows(columns).
			AddRow("int-2", "default", "click", "https://example.com", 10, 20, 0, 0, int64(120), now).
			AddRow("int-1", "default", "render", "https://example.com", 0, 0, 0, 0, int64(900), now.Add(-time.Minute))

		mockPool.ExpectQuery(`SELECT id, session_key, kind, url`).
			WithArgs("default", 50).
			WillReturnRows(rows)

		interactions, err := store.Recent(ctx, "default", 0)
		require.NoError(t, err)
		require.Len(t, interactions, 2)

		assert.Equal(t, "int-2", interactions[0].ID)
		assert.Equal(t, schemas.ActionClick, interactions[0].Kind)
		assert.Equal(t, schemas.ActionRender, interactions[1].Kind)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate query failure", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		queryErr := errors.New("relation does not exist")
		mockPool.ExpectQuery(`SELECT id, session_key, kind, url`).
			WithArgs("default", 10).
			WillReturnError(queryErr)

		_, err = store.Recent(ctx, "default", 10)
		require.Error(t, err)
		assert.ErrorIs(t, err, queryErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
