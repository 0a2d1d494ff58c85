package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yashrajoria/reservation-service/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound      = errors.New("stock record not found")
	ErrAlreadyExists = errors.New("stock record already exists")
	// ErrOutOfStock covers insufficient quantity as well as unknown or deleted SKUs.
	ErrOutOfStock = errors.New("out of stock")
	// ErrLockNotHeld means the hold is gone or does not cover the quantity.
	ErrLockNotHeld = errors.New("lock not held")
)

// StockRepository is the only write path to stock counters. Every mutation
// is a single conditional update; nothing reads a quantity and writes it back.
type StockRepository interface {
	Create(ctx context.Context, rec *models.StockRecord) error
	Get(ctx context.Context, ref models.SkuRef) (*models.StockRecord, error)
	Restock(ctx context.Context, ref models.SkuRef, quantity int) (*models.StockRecord, error)
	SoftDelete(ctx context.Context, ref models.SkuRef) error

	Reserve(ctx context.Context, ref models.SkuRef, quantity int) (*models.ReservationReceipt, error)
	// Lock adds a hold with its own expiry. The receipt carries the hold id.
	Lock(ctx context.Context, ref models.SkuRef, quantity int, expiresAt time.Time) (*models.ReservationReceipt, error)
	// CommitLock turns the hold into a permanent deduction. The hold must
	// cover exactly quantity units.
	CommitLock(ctx context.Context, ref models.SkuRef, holdID string, quantity int) (*models.ReservationReceipt, error)
	ReleaseLock(ctx context.Context, ref models.SkuRef, holdID string) (*models.ReservationReceipt, error)

	FindExpiredLocks(ctx context.Context, now time.Time, limit int) ([]models.StockRecord, error)
	// UnlockExpired releases every hold on the record that expired at or
	// before now and returns their total quantity. Live holds are untouched.
	UnlockExpired(ctx context.Context, id string, now time.Time) (int, error)
}

// MongoStockRepository implements StockRepository on the stock_records collection.
type MongoStockRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoStockRepository(db *mongo.Database) *MongoStockRepository {
	return &MongoStockRepository{
		collection: db.Collection("stock_records"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes creates the unique SKU index and the sweeper index.
func (r *MongoStockRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sku_kind", Value: 1}, {Key: "sku_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_sku"),
		},
		{
			Keys: bson.D{{Key: "lock_expires_at", Value: 1}},
			Options: options.Index().SetName("lock_expiry").
				SetPartialFilterExpression(bson.M{"locked_quantity": bson.M{"$gt": 0}}),
		},
	})
	if err != nil {
		return fmt.Errorf("create stock indexes: %w", err)
	}
	return nil
}

func skuFilter(ref models.SkuRef) bson.M {
	return bson.M{"sku_kind": ref.Kind, "sku_id": ref.ID, "deleted_at": nil}
}

// availabilityStage recomputes is_available and sold_out_at from the
// available_quantity produced by the preceding pipeline stage.
func availabilityStage(now time.Time) bson.D {
	positive := bson.M{"$gt": bson.A{"$available_quantity", 0}}
	return bson.D{{Key: "$set", Value: bson.M{
		"is_available": positive,
		"sold_out_at": bson.M{"$cond": bson.A{
			positive,
			nil,
			bson.M{"$ifNull": bson.A{"$sold_out_at", now}},
		}},
		"updated_at": now,
	}}}
}

func holdsOrEmpty() bson.M {
	return bson.M{"$ifNull": bson.A{"$holds", bson.A{}}}
}

// dropHoldsStage removes the holds matching cond and subtracts their quantity
// from locked_quantity. With release the units go back to available stock.
func dropHoldsStage(cond bson.M, release bool) bson.D {
	dropped := bson.M{"$sum": bson.M{"$map": bson.M{
		"input": bson.M{"$filter": bson.M{"input": holdsOrEmpty(), "cond": cond}},
		"in":    "$$this.quantity",
	}}}
	set := bson.M{
		"holds":           bson.M{"$filter": bson.M{"input": holdsOrEmpty(), "cond": bson.M{"$not": bson.A{cond}}}},
		"locked_quantity": bson.M{"$subtract": bson.A{"$locked_quantity", dropped}},
	}
	if release {
		set["available_quantity"] = bson.M{"$add": bson.A{"$available_quantity", dropped}}
	}
	return bson.D{{Key: "$set", Value: set}}
}

// lockExpiryStage sets lock_expires_at to the earliest remaining hold
// expiry, or null when nothing is held.
func lockExpiryStage() bson.D {
	return bson.D{{Key: "$set", Value: bson.M{
		"lock_expires_at": bson.M{"$min": "$holds.expires_at"},
	}}}
}

func holdIs(holdID string) bson.M {
	return bson.M{"$eq": bson.A{"$$this.id", holdID}}
}

func (r *MongoStockRepository) Create(ctx context.Context, rec *models.StockRecord) error {
	now := r.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.IsAvailable = rec.AvailableQuantity > 0
	if !rec.IsAvailable {
		rec.SoldOutAt = &now
	}
	if rec.Holds == nil {
		rec.Holds = []models.StockHold{}
	}
	if _, err := r.collection.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert stock record: %w", err)
	}
	return nil
}

func (r *MongoStockRepository) Get(ctx context.Context, ref models.SkuRef) (*models.StockRecord, error) {
	var rec models.StockRecord
	err := r.collection.FindOne(ctx, skuFilter(ref)).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find stock record: %w", err)
	}
	return &rec, nil
}

func (r *MongoStockRepository) Restock(ctx context.Context, ref models.SkuRef, quantity int) (*models.StockRecord, error) {
	now := r.now()
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"available_quantity": bson.M{"$add": bson.A{"$available_quantity", quantity}}}}},
		availabilityStage(now),
	}
	rec, err := r.apply(ctx, skuFilter(ref), update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("restock failed: %w", err)
	}
	return rec, nil
}

func (r *MongoStockRepository) SoftDelete(ctx context.Context, ref models.SkuRef) error {
	now := r.now()
	res, err := r.collection.UpdateOne(ctx, skuFilter(ref), bson.M{"$set": bson.M{"deleted_at": now, "updated_at": now}})
	if err != nil {
		return fmt.Errorf("soft delete failed: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Reserve decrements available_quantity only if it covers quantity.
func (r *MongoStockRepository) Reserve(ctx context.Context, ref models.SkuRef, quantity int) (*models.ReservationReceipt, error) {
	filter := skuFilter(ref)
	filter["available_quantity"] = bson.M{"$gte": quantity}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"available_quantity": bson.M{"$subtract": bson.A{"$available_quantity", quantity}}}}},
		availabilityStage(r.now()),
	}
	rec, err := r.apply(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrOutOfStock
	}
	if err != nil {
		return nil, fmt.Errorf("reserve failed: %w", err)
	}
	return receipt(rec, quantity), nil
}

// Lock moves quantity from available to a new hold. The record's
// lock_expires_at is the earliest hold expiry, so a later hold never delays
// the sweep of an earlier one.
func (r *MongoStockRepository) Lock(ctx context.Context, ref models.SkuRef, quantity int, expiresAt time.Time) (*models.ReservationReceipt, error) {
	filter := skuFilter(ref)
	filter["available_quantity"] = bson.M{"$gte": quantity}

	hold := bson.M{"id": uuid.NewString(), "quantity": quantity, "expires_at": expiresAt}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"available_quantity": bson.M{"$subtract": bson.A{"$available_quantity", quantity}},
			"locked_quantity":    bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$locked_quantity", 0}}, quantity}},
			"holds":              bson.M{"$concatArrays": bson.A{holdsOrEmpty(), bson.A{hold}}},
		}}},
		lockExpiryStage(),
		availabilityStage(r.now()),
	}
	rec, err := r.apply(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrOutOfStock
	}
	if err != nil {
		return nil, fmt.Errorf("lock failed: %w", err)
	}
	rcpt := receipt(rec, quantity)
	rcpt.HoldID = hold["id"].(string)
	rcpt.LockExpiresAt = &expiresAt
	return rcpt, nil
}

// CommitLock turns a hold into a permanent deduction. Available stock is
// not touched; it was taken when the hold was placed.
func (r *MongoStockRepository) CommitLock(ctx context.Context, ref models.SkuRef, holdID string, quantity int) (*models.ReservationReceipt, error) {
	filter := skuFilter(ref)
	filter["holds"] = bson.M{"$elemMatch": bson.M{"id": holdID, "quantity": quantity}}

	update := mongo.Pipeline{
		dropHoldsStage(holdIs(holdID), false),
		lockExpiryStage(),
		availabilityStage(r.now()),
	}
	rec, err := r.apply(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrLockNotHeld
	}
	if err != nil {
		return nil, fmt.Errorf("commit lock failed: %w", err)
	}
	return receipt(rec, quantity), nil
}

// ReleaseLock returns a hold to available stock.
func (r *MongoStockRepository) ReleaseLock(ctx context.Context, ref models.SkuRef, holdID string) (*models.ReservationReceipt, error) {
	filter := skuFilter(ref)
	filter["holds.id"] = holdID

	update := mongo.Pipeline{
		dropHoldsStage(holdIs(holdID), true),
		lockExpiryStage(),
		availabilityStage(r.now()),
	}
	var before models.StockRecord
	err := r.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrLockNotHeld
	}
	if err != nil {
		return nil, fmt.Errorf("release lock failed: %w", err)
	}

	released := 0
	for _, h := range before.Holds {
		if h.ID == holdID {
			released += h.Quantity
		}
	}
	remaining := before.AvailableQuantity + released
	return &models.ReservationReceipt{
		Sku:            before.Ref(),
		Quantity:       released,
		RemainingStock: remaining,
		SoldOut:        remaining <= 0,
		HoldID:         holdID,
	}, nil
}

func (r *MongoStockRepository) FindExpiredLocks(ctx context.Context, now time.Time, limit int) ([]models.StockRecord, error) {
	filter := bson.M{
		"locked_quantity": bson.M{"$gt": 0},
		"lock_expires_at": bson.M{"$lte": now},
	}
	opts := options.Find().SetSort(bson.D{{Key: "lock_expires_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find expired locks: %w", err)
	}
	defer cursor.Close(ctx)

	var recs []models.StockRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("decode expired locks: %w", err)
	}
	return recs, nil
}

func (r *MongoStockRepository) UnlockExpired(ctx context.Context, id string, now time.Time) (int, error) {
	filter := bson.M{
		"_id":              id,
		"holds.expires_at": bson.M{"$lte": now},
	}
	update := mongo.Pipeline{
		dropHoldsStage(bson.M{"$lte": bson.A{"$$this.expires_at", now}}, true),
		lockExpiryStage(),
		availabilityStage(now),
	}

	var before models.StockRecord
	err := r.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("unlock %s failed: %w", id, err)
	}
	return expiredQuantity(before.Holds, now), nil
}

func expiredQuantity(holds []models.StockHold, now time.Time) int {
	n := 0
	for _, h := range holds {
		if !h.ExpiresAt.After(now) {
			n += h.Quantity
		}
	}
	return n
}

func (r *MongoStockRepository) apply(ctx context.Context, filter bson.M, update mongo.Pipeline) (*models.StockRecord, error) {
	var rec models.StockRecord
	err := r.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&rec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func receipt(rec *models.StockRecord, quantity int) *models.ReservationReceipt {
	return &models.ReservationReceipt{
		Sku:            rec.Ref(),
		Quantity:       quantity,
		RemainingStock: rec.AvailableQuantity,
		SoldOut:        !rec.IsAvailable,
		LockExpiresAt:  rec.LockExpiresAt,
	}
}
