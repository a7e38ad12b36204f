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
		log.Println("creating draws table...")
		if err := mghelper.CreateSchema(ctx, db, &ledgerstore.DrawDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &ledgerstore.DrawDao{}, "token_address", "winner_wallet")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping draws table...")
		return mghelper.DropTables(ctx, db, &ledgerstore.DrawDao{})
	})
}
