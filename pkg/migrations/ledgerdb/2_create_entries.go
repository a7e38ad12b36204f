package ledgerdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/memegrave/gravepool/pkg/ledgerstore"
	mghelper "github.com/memegrave/gravepool/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating entries table...")
		if err := mghelper.CreateSchema(ctx, db, &ledgerstore.EntryDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &ledgerstore.EntryDao{}, "token_address", "user_wallet", "deposit_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping entries table...")
		return mghelper.DropTables(ctx, db, &ledgerstore.EntryDao{})
	})
}
