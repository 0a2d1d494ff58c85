package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/yashrajoria/reservation-service/models"
	"github.com/yashrajoria/reservation-service/repository"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	assert.NoError(t, err)
	return gormDB, mock
}

func TestRecord_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormReconciliationRepository(gormDB)

	entry := &models.ReconciliationEntry{
		Kind:              models.ReconcileUnverified,
		ExternalOrderID:   "ord-1",
		ExternalPaymentID: "pay-1",
		Source:            models.SourceClient,
		Detail:            "payment signature verification failed",
		Amount:            2500,
		Currency:          "INR",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "reconciliation_entries"`)).
		WillReturnRows(sqlmock.NewRows([]string{"resolved", "id"}).AddRow(false, 7))
	mock.ExpectCommit()

	err := repo.Record(context.Background(), entry)
	assert.NoError(t, err)
	assert.Equal(t, uint(7), entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_DuplicateIsIgnored(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormReconciliationRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "reconciliation_entries" .* ON CONFLICT DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"resolved", "id"}))
	mock.ExpectCommit()

	err := repo.Record(context.Background(), &models.ReconciliationEntry{
		Kind:            models.ReconcileOutOfStock,
		ExternalOrderID: "ord-1",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOpen_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormReconciliationRepository(gormDB)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "kind", "external_order_id", "resolved", "created_at", "updated_at"}).
		AddRow(2, models.ReconcileOutOfStock, "ord-2", false, now, now).
		AddRow(1, models.ReconcileUnverified, "ord-1", false, now.Add(-time.Minute), now)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "reconciliation_entries"`)).
		WillReturnRows(rows)

	entries, err := repo.ListOpen(context.Background(), 10)
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "ord-2", entries[0].ExternalOrderID)
	assert.Equal(t, models.ReconcileUnverified, entries[1].Kind)
}

func TestResolve_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormReconciliationRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "reconciliation_entries"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Resolve(context.Background(), 3)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormReconciliationRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "reconciliation_entries"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.Resolve(context.Background(), 99)
	assert.ErrorIs(t, err, repository.ErrEntryNotFound)
}
