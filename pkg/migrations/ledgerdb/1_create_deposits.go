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
		log.Println("creating deposits table...")
		if err := mghelper.CreateSchema(ctx, db, &ledgerstore.DepositDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &ledgerstore.DepositDao{}, "token_address", "user_wallet")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping deposits table...")
		return mghelper.DropTables(ctx, db, &ledgerstore.DepositDao{})
	})
}
