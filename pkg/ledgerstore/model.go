package ledgerstore

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/memegrave/gravepool/pkg/ledger"
)

// DepositDao is a data access object that maps directly to the 'deposits' table in PostgreSQL.
type DepositDao struct {
	bun.BaseModel `bun:"table:deposits,alias:d"`
	ID            int64     `bun:"id,pk,autoincrement"`
	TxHash        string    `bun:"tx_hash,unique,notnull,type:varchar(66)"`
	BlockNumber   *int64    `bun:"block_number"`
	UserWallet    string    `bun:"user_wallet,notnull,type:varchar(42)"`
	TokenAddress  string    `bun:"token_address,notnull,type:varchar(42)"`
	TokenAmount   string    `bun:"token_amount,notnull,type:numeric(78,0)"`
	USDScaled     *string   `bun:"usd_scaled,type:numeric(78,0)"`
	Source        string    `bun:"source,notnull,type:varchar(16)"`
	CreatedAt     time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

// EntryDao is a data access object that maps directly to the 'entries' table in PostgreSQL.
type EntryDao struct {
	bun.BaseModel `bun:"table:entries,alias:e"`
	ID            int64     `bun:"id,pk,autoincrement"`
	DepositID     int64     `bun:"deposit_id,notnull"`
	UserWallet    string    `bun:"user_wallet,notnull,type:varchar(42)"`
	TokenAddress  string    `bun:"token_address,notnull,type:varchar(42)"`
	Weight        string    `bun:"weight,notnull,type:numeric(78,0)"`
	CreatedAt     time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

// PoolDao is a data access object that maps directly to the 'pools' table in PostgreSQL.
type PoolDao struct {
	bun.BaseModel `bun:"table:pools,alias:p"`
	TokenAddress  string    `bun:"token_address,pk,type:varchar(42)"`
	Prize         string    `bun:"prize,notnull,type:numeric(78,0)"`
	Ecosystem     string    `bun:"ecosystem,notnull,type:numeric(78,0)"`
	Developer     string    `bun:"developer,notnull,type:numeric(78,0)"`
	Revival       string    `bun:"revival,notnull,type:numeric(78,0)"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,default:current_timestamp"`
}

// DrawDao is a data access object that maps directly to the 'draws' table in PostgreSQL.
// RequestID is null and TokenAddress empty for draws observed on chain
// that matched no pending request of this ledger.
type DrawDao struct {
	bun.BaseModel    `bun:"table:draws,alias:dr"`
	ID               int64     `bun:"id,pk,autoincrement"`
	TokenAddress     string    `bun:"token_address,notnull,type:varchar(42)"`
	RequestID        *string   `bun:"request_id,unique,type:varchar(78)"`
	WinnerWallet     string    `bun:"winner_wallet,notnull,type:varchar(42)"`
	WinnerEntryIndex int64     `bun:"winner_entry_index,notnull"`
	PrizeAmountPaid  string    `bun:"prize_amount_paid,notnull,type:numeric(78,0)"`
	RandomSeed       *string   `bun:"random_seed,type:numeric(78,0)"`
	SourceTxHash     *string   `bun:"source_tx_hash,unique,type:varchar(66)"`
	CreatedAt        time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

// DrawRequestDao is a data access object that maps directly to the 'draw_requests' table in PostgreSQL.
type DrawRequestDao struct {
	bun.BaseModel `bun:"table:draw_requests,alias:drq"`
	RequestID     string    `bun:"request_id,pk,type:varchar(78)"`
	TokenAddress  string    `bun:"token_address,unique,notnull,type:varchar(42)"`
	PrizeSnapshot string    `bun:"prize_snapshot,notnull,type:numeric(78,0)"`
	MaxEntryID    int64     `bun:"max_entry_id,notnull"`
	EntryCount    int       `bun:"entry_count,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}

func usdFromScaled(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -ledger.USDScale)
}

func toDepositDao(in *ledger.DepositInput) *DepositDao {
	dao := &DepositDao{
		TxHash:       in.TxHash,
		BlockNumber:  in.BlockNumber,
		UserWallet:   in.UserWallet,
		TokenAddress: in.TokenAddress,
		TokenAmount:  bigString(in.TokenAmount),
		Source:       string(in.Source),
	}
	if in.USDScaled != nil {
		usd := in.USDScaled.String()
		dao.USDScaled = &usd
	}
	return dao
}

func toEntry(dao *EntryDao) (ledger.Entry, error) {
	weight, err := parseBig(dao.Weight)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("entry %d: %w", dao.ID, err)
	}
	return ledger.Entry{
		ID:           dao.ID,
		DepositID:    dao.DepositID,
		UserWallet:   dao.UserWallet,
		TokenAddress: dao.TokenAddress,
		Weight:       weight,
		CreatedAt:    dao.CreatedAt,
	}, nil
}

func toPoolBalances(dao *PoolDao) (ledger.PoolBalances, error) {
	prize, err := parseBig(dao.Prize)
	if err != nil {
		return ledger.PoolBalances{}, err
	}
	eco, err := parseBig(dao.Ecosystem)
	if err != nil {
		return ledger.PoolBalances{}, err
	}
	dev, err := parseBig(dao.Developer)
	if err != nil {
		return ledger.PoolBalances{}, err
	}
	rev, err := parseBig(dao.Revival)
	if err != nil {
		return ledger.PoolBalances{}, err
	}
	return ledger.PoolBalances{
		TokenAddress: dao.TokenAddress,
		Prize:        prize,
		Ecosystem:    eco,
		Developer:    dev,
		Revival:      rev,
		UpdatedAt:    dao.UpdatedAt,
	}, nil
}

func toDraw(dao *DrawDao) (ledger.Draw, error) {
	paid, err := parseBig(dao.PrizeAmountPaid)
	if err != nil {
		return ledger.Draw{}, fmt.Errorf("draw %d: %w", dao.ID, err)
	}
	d := ledger.Draw{
		ID:               dao.ID,
		TokenAddress:     dao.TokenAddress,
		WinnerWallet:     dao.WinnerWallet,
		WinnerEntryIndex: dao.WinnerEntryIndex,
		PrizeAmountPaid:  paid,
		CreatedAt:        dao.CreatedAt,
	}
	if dao.RequestID != nil {
		d.RequestID = *dao.RequestID
	}
	if dao.SourceTxHash != nil {
		d.SourceTxHash = *dao.SourceTxHash
	}
	if dao.RandomSeed != nil {
		seed, err := parseBig(*dao.RandomSeed)
		if err != nil {
			return ledger.Draw{}, fmt.Errorf("draw %d: %w", dao.ID, err)
		}
		d.RandomSeed = seed
	}
	return d, nil
}

func toDrawRequest(dao *DrawRequestDao) (*ledger.DrawRequest, error) {
	snapshot, err := parseBig(dao.PrizeSnapshot)
	if err != nil {
		return nil, fmt.Errorf("draw request %s: %w", dao.RequestID, err)
	}
	return &ledger.DrawRequest{
		RequestID:     dao.RequestID,
		TokenAddress:  dao.TokenAddress,
		PrizeSnapshot: snapshot,
		MaxEntryID:    dao.MaxEntryID,
		EntryCount:    dao.EntryCount,
		CreatedAt:     dao.CreatedAt,
	}, nil
}

func toDrawRequestDao(req *ledger.DrawRequest) *DrawRequestDao {
	return &DrawRequestDao{
		RequestID:     req.RequestID,
		TokenAddress:  req.TokenAddress,
		PrizeSnapshot: bigString(req.PrizeSnapshot),
		MaxEntryID:    req.MaxEntryID,
		EntryCount:    req.EntryCount,
		CreatedAt:     req.CreatedAt,
	}
}
