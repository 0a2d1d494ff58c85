// Command migrate-ddb-inventory copies the legacy DynamoDB Inventory table
// into product-level stock records in MongoDB. Records that already exist
// are left alone, so the tool can be re-run.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/yashrajoria/reservation-service/database"
	"github.com/yashrajoria/reservation-service/models"
	ddb "github.com/yashrajoria/reservation-service/pkg/dynamodb"
	"github.com/yashrajoria/reservation-service/repository"
	"go.uber.org/zap"
)

// legacyInventory is the item shape of the old Inventory table.
type legacyInventory struct {
	ProductID string    `dynamodbav:"product_id"`
	Available int       `dynamodbav:"available"`
	Reserved  int       `dynamodbav:"reserved"`
	Threshold int       `dynamodbav:"threshold"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

type stats struct {
	migrated, skipped, failed int
}

func main() {
	var mongoURI, dbName, table string
	var includeReserved, dryRun bool
	flag.StringVar(&mongoURI, "mongo", os.Getenv("MONGO_DB_URL"), "MongoDB URI")
	flag.StringVar(&dbName, "db", os.Getenv("MONGO_DB_NAME"), "MongoDB database name")
	flag.StringVar(&table, "table", os.Getenv("DDB_TABLE_INVENTORY"), "DynamoDB inventory table")
	flag.BoolVar(&includeReserved, "include-reserved", false, "add legacy reserved units back to available")
	flag.BoolVar(&dryRun, "dry-run", false, "decode and convert without writing")
	flag.Parse()

	log, _ := zap.NewDevelopment()
	defer log.Sync()

	if mongoURI == "" || dbName == "" {
		log.Fatal("MONGO_DB_URL and MONGO_DB_NAME must be set or provided via flags")
	}
	if table == "" {
		table = "Inventory"
	}

	ctx := context.Background()
	client, db, err := database.ConnectMongo(mongoURI, dbName, log)
	if err != nil {
		log.Fatal("mongo connect", zap.Error(err))
	}
	defer database.DisconnectMongo(client)

	repo := repository.NewMongoStockRepository(db)
	if err := repo.EnsureIndexes(ctx); err != nil {
		log.Fatal("ensure indexes", zap.Error(err))
	}

	ddbClient, err := ddb.NewClient(ctx)
	if err != nil {
		log.Fatal("dynamodb client", zap.Error(err))
	}

	var st stats
	seen, err := ddb.ScanAll(ctx, ddbClient, table, 100, func(item map[string]types.AttributeValue) error {
		rec, reserved, err := convert(item, includeReserved)
		if err != nil {
			st.failed++
			log.Warn("skipping undecodable item", zap.Error(err))
			return nil
		}
		if reserved > 0 && !includeReserved {
			log.Warn("legacy reserved units not migrated",
				zap.String("product_id", rec.ProductID),
				zap.Int("reserved", reserved),
			)
		}
		if dryRun {
			st.migrated++
			return nil
		}

		switch err := repo.Create(ctx, rec); {
		case errors.Is(err, repository.ErrAlreadyExists):
			st.skipped++
		case err != nil:
			st.failed++
			log.Warn("failed to write stock record", zap.String("product_id", rec.ProductID), zap.Error(err))
		default:
			st.migrated++
		}
		if st.migrated > 0 && st.migrated%100 == 0 {
			log.Info("progress", zap.Int("migrated", st.migrated))
		}
		return nil
	})
	if err != nil {
		log.Fatal("scan failed", zap.Int("seen", seen), zap.Error(err))
	}

	log.Info("Migration complete",
		zap.Int("seen", seen),
		zap.Int("migrated", st.migrated),
		zap.Int("skipped_existing", st.skipped),
		zap.Int("failed", st.failed),
		zap.Bool("dry_run", dryRun),
	)
}

// convert maps one legacy item onto a product-level stock record and also
// returns the legacy reserved count. The legacy table had no variants and
// no locks.
func convert(item map[string]types.AttributeValue, includeReserved bool) (*models.StockRecord, int, error) {
	var inv legacyInventory
	if err := attributevalue.UnmarshalMap(item, &inv); err != nil {
		return nil, 0, err
	}
	if inv.ProductID == "" {
		return nil, 0, errors.New("item has no product_id")
	}

	available := inv.Available
	if includeReserved && inv.Reserved > 0 {
		available += inv.Reserved
	}
	if available < 0 {
		available = 0
	}

	ref := models.NewProductRef(inv.ProductID)
	return &models.StockRecord{
		ID:                uuid.NewString(),
		SkuKind:           ref.Kind,
		SkuID:             ref.ID,
		ProductID:         inv.ProductID,
		AvailableQuantity: available,
	}, inv.Reserved, nil
}
