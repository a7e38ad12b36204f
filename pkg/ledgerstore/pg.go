// Package ledgerstore persists deposits, entries, pool balances and draws
// in PostgreSQL. All multi-row updates run in a single transaction and
// deposit recording is idempotent on the transaction hash, so either
// delivery channel can replay the same deposit safely.
package ledgerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/uptrace/bun"

	apperrors "github.com/memegrave/gravepool/pkg/app/errors"
	"github.com/memegrave/gravepool/pkg/ledger"
	"github.com/memegrave/gravepool/pkg/pool"
)

var (
	ErrDrawRequestNotFound = errors.New("draw request not found")
	ErrDrawNotFound        = errors.New("draw not found")
)

type Store struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the ledger store
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// RecordDeposit writes a deposit, its lottery entry and the pool increments
// in one transaction. A duplicate tx hash leaves the ledger untouched and
// reports the already-recorded deposit id.
func (s *Store) RecordDeposit(ctx context.Context, in *ledger.DepositInput) (ledger.DepositResult, error) {
	if in.TokenAmount == nil || in.TokenAmount.Sign() <= 0 {
		return ledger.DepositResult{}, apperrors.BadRequestError(nil, "deposit amount must be positive")
	}

	var res ledger.DepositResult

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		dao := toDepositDao(in)
		r, err := tx.NewInsert().
			Model(dao).
			On("CONFLICT (tx_hash) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert deposit: %w", err)
		}

		inserted, err := r.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read insert result: %w", err)
		}
		if inserted == 0 {
			existing := new(DepositDao)
			err := tx.NewSelect().
				Model(existing).
				Where("tx_hash = ?", in.TxHash).
				Scan(ctx)
			if err != nil {
				return fmt.Errorf("failed to load existing deposit: %w", err)
			}
			res = ledger.DepositResult{Created: false, DepositID: existing.ID}
			return nil
		}

		entry := &EntryDao{
			DepositID:    dao.ID,
			UserWallet:   in.UserWallet,
			TokenAddress: in.TokenAddress,
			Weight:       bigString(in.TokenAmount),
		}
		if _, err := tx.NewInsert().Model(entry).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}

		alloc := pool.Split(in.TokenAmount)
		poolDao := &PoolDao{
			TokenAddress: in.TokenAddress,
			Prize:        bigString(alloc.Prize),
			Ecosystem:    bigString(alloc.Ecosystem),
			Developer:    bigString(alloc.Developer),
			Revival:      bigString(alloc.Revival),
		}
		_, err = tx.NewInsert().
			Model(poolDao).
			On("CONFLICT (token_address) DO UPDATE").
			Set("prize = p.prize + EXCLUDED.prize").
			Set("ecosystem = p.ecosystem + EXCLUDED.ecosystem").
			Set("developer = p.developer + EXCLUDED.developer").
			Set("revival = p.revival + EXCLUDED.revival").
			Set("updated_at = now()").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert pool balances: %w", err)
		}

		res = ledger.DepositResult{Created: true, DepositID: dao.ID, EntryID: entry.ID}
		return nil
	})
	if err != nil {
		return ledger.DepositResult{}, err
	}
	return res, nil
}

// SnapshotForDraw returns the token's entries in id order together with the
// current prize pool.
func (s *Store) SnapshotForDraw(ctx context.Context, token string) (*ledger.Snapshot, error) {
	return s.SnapshotAt(ctx, token, 0)
}

// SnapshotAt is SnapshotForDraw bounded by a maximum entry id. A zero bound
// means unbounded. Fulfillment uses the bound stored in the draw request so
// entries created after the request do not join the running draw.
func (s *Store) SnapshotAt(ctx context.Context, token string, maxEntryID int64) (*ledger.Snapshot, error) {
	var daos []EntryDao
	query := s.db.NewSelect().
		Model(&daos).
		Where("token_address = ?", token).
		Order("id ASC")
	if maxEntryID > 0 {
		query = query.Where("id <= ?", maxEntryID)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	entries := make([]ledger.Entry, len(daos))
	for i := range daos {
		e, err := toEntry(&daos[i])
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}

	prize, err := s.prizeBalance(ctx, s.db, token)
	if err != nil {
		return nil, err
	}

	return &ledger.Snapshot{TokenAddress: token, Entries: entries, PrizePool: prize}, nil
}

func (s *Store) prizeBalance(ctx context.Context, db bun.IDB, token string) (*big.Int, error) {
	dao := new(PoolDao)
	err := db.NewSelect().
		Model(dao).
		Where("token_address = ?", token).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("failed to load pool balances: %w", err)
	}
	return parseBig(dao.Prize)
}

// CreateDrawRequest persists the pending-draw marker. The unique constraint
// on token_address rejects a second concurrent request for the same token.
func (s *Store) CreateDrawRequest(ctx context.Context, req *ledger.DrawRequest) error {
	_, err := s.db.NewInsert().
		Model(toDrawRequestDao(req)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create draw request: %w", err)
	}
	return nil
}

func (s *Store) GetDrawRequest(ctx context.Context, requestID string) (*ledger.DrawRequest, error) {
	dao := new(DrawRequestDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("request_id = ?", requestID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDrawRequestNotFound
		}
		return nil, fmt.Errorf("failed to get draw request: %w", err)
	}
	return toDrawRequest(dao)
}

func (s *Store) ListDrawRequests(ctx context.Context) ([]*ledger.DrawRequest, error) {
	var daos []DrawRequestDao
	err := s.db.NewSelect().
		Model(&daos).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list draw requests: %w", err)
	}
	reqs := make([]*ledger.DrawRequest, len(daos))
	for i := range daos {
		req, err := toDrawRequest(&daos[i])
		if err != nil {
			return nil, err
		}
		reqs[i] = req
	}
	return reqs, nil
}

func (s *Store) DeleteDrawRequest(ctx context.Context, requestID string) error {
	_, err := s.db.NewDelete().
		Model((*DrawRequestDao)(nil)).
		Where("request_id = ?", requestID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete draw request: %w", err)
	}
	return nil
}

// PayoutParams identifies the winning entry of a fulfilled draw.
type PayoutParams struct {
	RequestID        string
	TokenAddress     string
	WinnerWallet     string
	WinnerEntryIndex int64
	RandomSeed       *big.Int
	SourceTxHash     string
}

// Payout finalizes a draw: it records the draw, pays out the full prize
// balance, removes the token's entries and clears the request marker, all
// in one transaction. A repeated request id returns the recorded draw
// without changing anything.
func (s *Store) Payout(ctx context.Context, p PayoutParams) (*ledger.Draw, error) {
	var out ledger.Draw

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		existing := new(DrawDao)
		err := tx.NewSelect().
			Model(existing).
			Where("request_id = ?", p.RequestID).
			Scan(ctx)
		if err == nil {
			out, err = toDraw(existing)
			return err
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check existing draw: %w", err)
		}

		poolDao := new(PoolDao)
		err = tx.NewSelect().
			Model(poolDao).
			Where("token_address = ?", p.TokenAddress).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				poolDao = &PoolDao{TokenAddress: p.TokenAddress, Prize: "0"}
			} else {
				return fmt.Errorf("failed to lock pool row: %w", err)
			}
		}

		dao := &DrawDao{
			TokenAddress:     p.TokenAddress,
			RequestID:        &p.RequestID,
			WinnerWallet:     p.WinnerWallet,
			WinnerEntryIndex: p.WinnerEntryIndex,
			PrizeAmountPaid:  poolDao.Prize,
		}
		if p.RandomSeed != nil {
			seed := p.RandomSeed.String()
			dao.RandomSeed = &seed
		}
		if p.SourceTxHash != "" {
			dao.SourceTxHash = &p.SourceTxHash
		}
		r, err := tx.NewInsert().
			Model(dao).
			On("CONFLICT (request_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert draw: %w", err)
		}
		inserted, err := r.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read insert result: %w", err)
		}
		if inserted == 0 {
			// Lost the race to a concurrent fulfillment of the same request.
			err := tx.NewSelect().
				Model(existing).
				Where("request_id = ?", p.RequestID).
				Scan(ctx)
			if err != nil {
				return fmt.Errorf("failed to load concurrent draw: %w", err)
			}
			out, err = toDraw(existing)
			return err
		}

		_, err = tx.NewUpdate().
			Model((*PoolDao)(nil)).
			Set("prize = ?", "0").
			Set("updated_at = now()").
			Where("token_address = ?", p.TokenAddress).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to reset prize pool: %w", err)
		}

		_, err = tx.NewDelete().
			Model((*EntryDao)(nil)).
			Where("token_address = ?", p.TokenAddress).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear entries: %w", err)
		}

		_, err = tx.NewDelete().
			Model((*DrawRequestDao)(nil)).
			Where("request_id = ?", p.RequestID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete draw request: %w", err)
		}

		out, err = toDraw(dao)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDrawByRequestID loads the recorded draw for a request id, used to
// resolve replayed fulfillments to their existing result.
func (s *Store) GetDrawByRequestID(ctx context.Context, requestID string) (*ledger.Draw, error) {
	dao := new(DrawDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("request_id = ?", requestID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDrawNotFound
		}
		return nil, fmt.Errorf("failed to get draw: %w", err)
	}
	d, err := toDraw(dao)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RecordExternalDraw mirrors a WinnerPicked event that matched no pending
// draw request of this ledger. Only the draw row is written, keyed by the
// event's transaction hash so watcher replays collapse; pools and entries
// stay untouched because the event carries no token binding.
func (s *Store) RecordExternalDraw(ctx context.Context, winner string, entryIndex int64, txHash string) error {
	dao := &DrawDao{
		WinnerWallet:     winner,
		WinnerEntryIndex: entryIndex,
		PrizeAmountPaid:  "0",
		SourceTxHash:     &txHash,
	}
	_, err := s.db.NewInsert().
		Model(dao).
		On("CONFLICT (source_tx_hash) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert external draw: %w", err)
	}
	return nil
}

// ListEntries returns entries newest first.
func (s *Store) ListEntries(ctx context.Context, limit, offset int) ([]ledger.Entry, error) {
	var daos []EntryDao
	err := s.db.NewSelect().
		Model(&daos).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	entries := make([]ledger.Entry, len(daos))
	for i := range daos {
		e, err := toEntry(&daos[i])
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return entries, nil
}

// ListDraws returns completed draws newest first.
func (s *Store) ListDraws(ctx context.Context, limit int) ([]ledger.Draw, error) {
	var daos []DrawDao
	err := s.db.NewSelect().
		Model(&daos).
		Order("id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list draws: %w", err)
	}
	draws := make([]ledger.Draw, len(daos))
	for i := range daos {
		d, err := toDraw(&daos[i])
		if err != nil {
			return nil, err
		}
		draws[i] = d
	}
	return draws, nil
}

// Stats aggregates the ledger for the public stats endpoint.
func (s *Store) Stats(ctx context.Context) (*ledger.Stats, error) {
	totalEntries, err := s.db.NewSelect().
		Model((*EntryDao)(nil)).
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	var usdSum string
	err = s.db.NewSelect().
		Model((*DepositDao)(nil)).
		ColumnExpr("COALESCE(SUM(usd_scaled), 0)::text").
		Scan(ctx, &usdSum)
	if err != nil {
		return nil, fmt.Errorf("failed to sum usd: %w", err)
	}
	usdScaled, err := parseBig(usdSum)
	if err != nil {
		return nil, err
	}

	var poolDaos []PoolDao
	if err := s.db.NewSelect().Model(&poolDaos).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}

	stats := &ledger.Stats{
		TotalEntries: totalEntries,
		TotalUSD:     usdFromScaled(usdScaled),
		Pools:        make(map[string]ledger.PoolBalances, len(poolDaos)),
	}
	for i := range poolDaos {
		pb, err := toPoolBalances(&poolDaos[i])
		if err != nil {
			return nil, err
		}
		stats.Pools[pb.TokenAddress] = pb
	}
	return stats, nil
}

// PoolBalances returns the balances for one token, zeroes when unknown.
func (s *Store) PoolBalances(ctx context.Context, token string) (*ledger.PoolBalances, error) {
	dao := new(PoolDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("token_address = ?", token).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &ledger.PoolBalances{
				TokenAddress: token,
				Prize:        new(big.Int),
				Ecosystem:    new(big.Int),
				Developer:    new(big.Int),
				Revival:      new(big.Int),
			}, nil
		}
		return nil, fmt.Errorf("failed to get pool balances: %w", err)
	}
	pb, err := toPoolBalances(dao)
	if err != nil {
		return nil, err
	}
	return &pb, nil
}
