package migrations

import (
	"context"
	"testing"

	"github.com/memegrave/gravepool/pkg/config"
	"github.com/memegrave/gravepool/pkg/pgutil"
	"github.com/uptrace/bun"
)

// Sample DAO with the shape our ledger tables use.
type sampleTokenDao struct {
	bun.BaseModel `bun:"table:sample_tokens"`
	ID            int64  `bun:",pk,autoincrement"`
	TokenAddress  string `bun:",notnull,type:varchar(42)"`
	Balance       string `bun:",nullzero,type:numeric(78,0)"`
}

func TestConnectDB_Success(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()

	if err := db.Ping(); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}
}

func TestConnectDB_InvalidHost(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:     "invalid-host-that-does-not-exist",
		Port:     5432,
		User:     "test",
		Password: "test",
		Database: "test",
		SSLMode:  "disable",
	}

	db, err := pgutil.ConnectDB(cfg)
	if err == nil {
		db.Close()
		t.Error("ConnectDB() should fail with invalid host")
	}
}

func TestCreateSchema(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	err := CreateSchema(ctx, db, &sampleTokenDao{})
	if err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}

	pgutil.AssertTableExists(t, db, "sample_tokens")

	// Idempotency
	err = CreateSchema(ctx, db, &sampleTokenDao{})
	if err != nil {
		t.Errorf("CreateSchema() second call failed: %v", err)
	}
}

func TestDropTables(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	err := CreateSchema(ctx, db, &sampleTokenDao{})
	if err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}
	pgutil.AssertTableExists(t, db, "sample_tokens")

	err = DropTables(ctx, db, &sampleTokenDao{})
	if err != nil {
		t.Fatalf("DropTables() failed: %v", err)
	}

	pgutil.AssertTableNotExists(t, db, "sample_tokens")

	// Idempotency
	err = DropTables(ctx, db, &sampleTokenDao{})
	if err != nil {
		t.Errorf("DropTables() second call failed: %v", err)
	}
}

func TestCreateModelIndexes(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	err := CreateSchema(ctx, db, &sampleTokenDao{})
	if err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}

	err = CreateModelIndexes(ctx, db, &sampleTokenDao{}, "token_address")
	if err != nil {
		t.Fatalf("CreateModelIndexes() failed: %v", err)
	}

	pgutil.AssertIndexExists(t, db, "idx_sample_tokens_token_address")
}

func TestCreateModelUniqueIndexes(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	err := CreateSchema(ctx, db, &sampleTokenDao{})
	if err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}

	err = CreateModelUniqueIndexes(ctx, db, &sampleTokenDao{}, "token_address")
	if err != nil {
		t.Fatalf("CreateModelUniqueIndexes() failed: %v", err)
	}

	pgutil.AssertIndexExists(t, db, "idx_sample_tokens_token_address")

	// Verify uniqueness by inserting a duplicate address
	err = InsertEntry(ctx, db, &sampleTokenDao{TokenAddress: "0xabc", Balance: "1"})
	if err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	err = InsertEntry(ctx, db, &sampleTokenDao{TokenAddress: "0xabc", Balance: "2"})
	if err == nil {
		t.Error("Expected duplicate insert to fail, but it succeeded")
	}
}

func TestDropModelIndexes(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	err := CreateSchema(ctx, db, &sampleTokenDao{})
	if err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}

	err = CreateModelIndexes(ctx, db, &sampleTokenDao{}, "token_address")
	if err != nil {
		t.Fatalf("CreateModelIndexes() failed: %v", err)
	}
	pgutil.AssertIndexExists(t, db, "idx_sample_tokens_token_address")

	err = DropModelIndexes(ctx, db, &sampleTokenDao{}, "token_address")
	if err != nil {
		t.Fatalf("DropModelIndexes() failed: %v", err)
	}

	var exists bool
	query := `SELECT EXISTS (SELECT FROM pg_indexes WHERE schemaname = 'public' AND indexname = ?)`
	err = db.NewRaw(query, "idx_sample_tokens_token_address").Scan(ctx, &exists)
	if err != nil {
		t.Fatalf("failed to check index: %v", err)
	}
	if exists {
		t.Error("idx_sample_tokens_token_address should be dropped")
	}
}

func TestTruncateTables(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	err := CreateSchema(ctx, db, &sampleTokenDao{})
	if err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}

	err = InsertEntry(ctx, db,
		&sampleTokenDao{TokenAddress: "0xaaa", Balance: "10"},
		&sampleTokenDao{TokenAddress: "0xbbb", Balance: "20"},
	)
	if err != nil {
		t.Fatalf("InsertEntry() failed: %v", err)
	}
	pgutil.AssertRowCount(t, db, "sample_tokens", 2)

	err = TruncateTables(ctx, db, &sampleTokenDao{})
	if err != nil {
		t.Fatalf("TruncateTables() failed: %v", err)
	}

	pgutil.AssertRowCount(t, db, "sample_tokens", 0)
	pgutil.AssertTableExists(t, db, "sample_tokens")
}
