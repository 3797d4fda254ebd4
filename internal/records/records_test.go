package records

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"skin-api/internal/cache"
	"skin-api/internal/database"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	db   *sql.DB
	mock sqlmock.Sqlmock
	mr   *miniredis.Miniredis
	rec  *Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	log := zap.NewNop().Sugar()
	return &fixture{
		db:   db,
		mock: mock,
		mr:   mr,
		rec:  NewRecorder(db, cache.NewAnalysisCache(client, log), log),
	}
}

var columns = []string{
	"request_id", "object_name", "image_url", "audit_name", "question", "findings",
	"reasoning", "answer", "reasoning_status", "status", "failed_stage", "error_kind",
	"error_message", "created_at",
}

func TestRecordSavesAndCaches(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectExec("INSERT INTO analysis").WillReturnResult(sqlmock.NewResult(0, 1))

	<-f.rec.Record(&database.AnalysisRecord{RequestID: "req_1", Status: database.StatusCompleted})
	assert.NoError(t, f.mock.ExpectationsWereMet())
	assert.True(t, f.mr.Exists(cache.Key("req_1")))

	got, err := f.rec.Get(context.Background(), "req_1")
	require.NoError(t, err)
	assert.Equal(t, database.StatusCompleted, got.Status)
}

func TestRecordRetries(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectExec("INSERT INTO analysis").WillReturnError(errors.New("deadlock"))
	f.mock.ExpectExec("INSERT INTO analysis").WillReturnResult(sqlmock.NewResult(0, 1))

	<-f.rec.Record(&database.AnalysisRecord{RequestID: "req_1"})
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetReadsThrough(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT (.+) FROM analysis").
		WithArgs("req_9").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"req_9", "uploads/a.jpg", "https://bucket.example/uploads/a.jpg", "", "q", `{}`,
			"r", "a", "completed", database.StatusCompleted, "", "", "", time.Now(),
		))

	got, err := f.rec.Get(context.Background(), "req_9")
	require.NoError(t, err)
	assert.Equal(t, "uploads/a.jpg", got.ObjectName)

	require.Eventually(t, func() bool { return f.mr.Exists(cache.Key("req_9")) }, time.Second, 10*time.Millisecond)
	got, err = f.rec.Get(context.Background(), "req_9")
	require.NoError(t, err)
	assert.Equal(t, "uploads/a.jpg", got.ObjectName)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT (.+) FROM analysis").WithArgs("nope").WillReturnError(sql.ErrNoRows)
	_, err := f.rec.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestWithoutDatabase(t *testing.T) {
	r := NewRecorder(nil, nil, zap.NewNop().Sugar())
	<-r.Record(&database.AnalysisRecord{RequestID: "req_1"})
	_, err := r.Get(context.Background(), "req_1")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestShutdownRejectsNewRecords(t *testing.T) {
	f := newFixture(t)
	f.rec.Shutdown()
	<-f.rec.Record(&database.AnalysisRecord{RequestID: "req_1"})
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
