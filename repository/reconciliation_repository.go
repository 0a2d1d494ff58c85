package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yashrajoria/reservation-service/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrEntryNotFound = errors.New("reconciliation entry not found or already resolved")

// ReconciliationRepository is the operator ledger of captured payments that
// did not become a fulfillable order. Record is idempotent per kind and
// external order id.
type ReconciliationRepository interface {
	Record(ctx context.Context, entry *models.ReconciliationEntry) error
	ListOpen(ctx context.Context, limit int) ([]models.ReconciliationEntry, error)
	Resolve(ctx context.Context, id uint) error
}

type GormReconciliationRepository struct {
	db *gorm.DB
}

func NewGormReconciliationRepository(db *gorm.DB) ReconciliationRepository {
	return &GormReconciliationRepository{db: db}
}

func (r *GormReconciliationRepository) Record(ctx context.Context, entry *models.ReconciliationEntry) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry).Error
}

func (r *GormReconciliationRepository) ListOpen(ctx context.Context, limit int) ([]models.ReconciliationEntry, error) {
	var entries []models.ReconciliationEntry
	if err := r.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *GormReconciliationRepository) Resolve(ctx context.Context, id uint) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.ReconciliationEntry{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{"resolved": true, "resolved_at": &now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// reconciliationDoc is the Mongo shape of a ReconciliationEntry.
type reconciliationDoc struct {
	ID                uint       `bson:"_id"`
	Kind              string     `bson:"kind"`
	ExternalOrderID   string     `bson:"external_order_id"`
	ExternalPaymentID string     `bson:"external_payment_id"`
	Source            string     `bson:"source"`
	Detail            string     `bson:"detail"`
	Amount            int64      `bson:"amount"`
	Currency          string     `bson:"currency"`
	Resolved          bool       `bson:"resolved"`
	ResolvedAt        *time.Time `bson:"resolved_at,omitempty"`
	CreatedAt         time.Time  `bson:"created_at"`
	UpdatedAt         time.Time  `bson:"updated_at"`
}

func (d reconciliationDoc) entry() models.ReconciliationEntry {
	return models.ReconciliationEntry{
		ID:                d.ID,
		Kind:              d.Kind,
		ExternalOrderID:   d.ExternalOrderID,
		ExternalPaymentID: d.ExternalPaymentID,
		Source:            d.Source,
		Detail:            d.Detail,
		Amount:            d.Amount,
		Currency:          d.Currency,
		Resolved:          d.Resolved,
		ResolvedAt:        d.ResolvedAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// MongoReconciliationRepository keeps the ledger in the service's own
// database when no Postgres DSN is configured. Numeric ids come from a
// counter document so both ledgers expose the same API.
type MongoReconciliationRepository struct {
	entries  *mongo.Collection
	counters *mongo.Collection
	now      func() time.Time
}

const reconciliationCounter = "reconciliation_entries"

func NewMongoReconciliationRepository(db *mongo.Database) *MongoReconciliationRepository {
	return &MongoReconciliationRepository{
		entries:  db.Collection("reconciliation"),
		counters: db.Collection("counters"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MongoReconciliationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.entries.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "external_order_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_reconcile_kind_order"),
		},
		{
			Keys:    bson.D{{Key: "resolved", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("open_entries"),
		},
	})
	if err != nil {
		return fmt.Errorf("create reconciliation indexes: %w", err)
	}
	return nil
}

func (r *MongoReconciliationRepository) nextID(ctx context.Context) (uint, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": reconciliationCounter},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next reconciliation id: %w", err)
	}
	return uint(counter.Seq), nil
}

func (r *MongoReconciliationRepository) Record(ctx context.Context, entry *models.ReconciliationEntry) error {
	id, err := r.nextID(ctx)
	if err != nil {
		return err
	}
	now := r.now()
	doc := reconciliationDoc{
		ID:                id,
		Kind:              entry.Kind,
		ExternalOrderID:   entry.ExternalOrderID,
		ExternalPaymentID: entry.ExternalPaymentID,
		Source:            entry.Source,
		Detail:            entry.Detail,
		Amount:            entry.Amount,
		Currency:          entry.Currency,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := r.entries.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Already recorded; the spent id is simply skipped.
			return nil
		}
		return fmt.Errorf("insert reconciliation entry: %w", err)
	}
	entry.ID = id
	entry.CreatedAt = now
	entry.UpdatedAt = now
	return nil
}

func (r *MongoReconciliationRepository) ListOpen(ctx context.Context, limit int) ([]models.ReconciliationEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.entries.Find(ctx, bson.M{"resolved": false}, opts)
	if err != nil {
		return nil, fmt.Errorf("find open reconciliation entries: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []reconciliationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode reconciliation entries: %w", err)
	}
	entries := make([]models.ReconciliationEntry, len(docs))
	for i, d := range docs {
		entries[i] = d.entry()
	}
	return entries, nil
}

func (r *MongoReconciliationRepository) Resolve(ctx context.Context, id uint) error {
	now := r.now()
	res, err := r.entries.UpdateOne(ctx,
		bson.M{"_id": id, "resolved": false},
		bson.M{"$set": bson.M{"resolved": true, "resolved_at": now, "updated_at": now}},
	)
	if err != nil {
		return fmt.Errorf("resolve reconciliation entry: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrEntryNotFound
	}
	return nil
}
