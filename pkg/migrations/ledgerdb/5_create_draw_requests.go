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
		log.Println("creating draw_requests table...")
		return mghelper.CreateSchema(ctx, db, &ledgerstore.DrawRequestDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping draw_requests table...")
		return mghelper.DropTables(ctx, db, &ledgerstore.DrawRequestDao{})
	})
}
