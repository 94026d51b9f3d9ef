package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/herrors"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	client := NewClientFromDB(sqlx.NewDb(db, "sqlmock"))
	return NewPostgresStore(client), mock
}

func TestPostgresStore_InsertKnowledgeItem_ReturnsNewID(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO knowledge_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("item-1"))

	id, err := s.InsertKnowledgeItem(context.Background(), &domain.KnowledgeItem{
		OrgID: "acme", Content: "x", ContentHash: "h1",
	})
	require.NoError(t, err)
	assert.Equal(t, "item-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertKnowledgeItem_UniqueViolationMapsToErrDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO knowledge_items").
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	_, err := s.InsertKnowledgeItem(context.Background(), &domain.KnowledgeItem{
		OrgID: "acme", Content: "x", ContentHash: "h1",
	})
	require.ErrorIs(t, err, herrors.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetKnowledgeItem_NotFoundScopedToOrg(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM knowledge_items").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetKnowledgeItem(context.Background(), "acme", "missing")
	require.ErrorIs(t, err, herrors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordOutcome_FirstCallIncrementsCounterAndCommits(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO quality_signals").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE knowledge_items SET helpful_count").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	recorded, err := s.RecordOutcome(context.Background(), "item-1", "agent-1", "run-1", domain.SignalOutcomeSolved)
	require.NoError(t, err)
	assert.True(t, recorded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordOutcome_DuplicateRunIDSkipsCounterIncrement(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO quality_signals").
		WillReturnResult(sqlmock.NewResult(0, 0)) // ON CONFLICT DO NOTHING: no row inserted
	mock.ExpectRollback()

	recorded, err := s.RecordOutcome(context.Background(), "item-1", "agent-1", "run-1", domain.SignalOutcomeSolved)
	require.NoError(t, err)
	assert.False(t, recorded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordOutcome_NotHelpfulUpdatesNotHelpfulColumn(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO quality_signals").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE knowledge_items SET not_helpful_count").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	recorded, err := s.RecordOutcome(context.Background(), "item-1", "agent-1", "run-2", domain.SignalOutcomeNotHelpful)
	require.NoError(t, err)
	assert.True(t, recorded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExpireKnowledgeItem_ExecutesUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE knowledge_items SET expired_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.ExpireKnowledgeItem(context.Background(), "acme", "item-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
