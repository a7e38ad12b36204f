// Package ledger defines the domain model of the grave pool ledger:
// deposits, lottery entries, the four per-token pools and draw records.
package ledger

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// DepositSource identifies which delivery channel produced a deposit record.
type DepositSource string

const (
	SourceWebhook DepositSource = "webhook"
	SourceChain   DepositSource = "chain"
)

// Deposit is a durably recorded token deposit. TxHash is the idempotency
// key: the same underlying on-chain deposit may be delivered by both the
// webhook and the chain subscription, and collapses to a single row.
type Deposit struct {
	ID           int64
	TxHash       string
	BlockNumber  *int64
	UserWallet   string
	TokenAddress string
	TokenAmount  *big.Int
	USDScaled    *big.Int
	CreatedAt    time.Time
}

// Entry is one lottery ticket, created together with its deposit.
// Weight equals the deposited token amount and is immutable.
type Entry struct {
	ID           int64
	DepositID    int64
	UserWallet   string
	TokenAddress string
	Weight       *big.Int
	CreatedAt    time.Time
}

// PoolBalances holds the four per-token accumulators.
type PoolBalances struct {
	TokenAddress string
	Prize        *big.Int
	Ecosystem    *big.Int
	Developer    *big.Int
	Revival      *big.Int
	UpdatedAt    time.Time
}

// Draw is the immutable record of one completed draw cycle.
type Draw struct {
	ID               int64
	TokenAddress     string
	RequestID        string
	WinnerWallet     string
	WinnerEntryIndex int64
	PrizeAmountPaid  *big.Int
	RandomSeed       *big.Int
	SourceTxHash     string
	CreatedAt        time.Time
}

// DrawRequest is the durable marker of a pending draw. MaxEntryID bounds
// the entry population frozen at request time: entries created afterwards
// do not participate in this draw.
type DrawRequest struct {
	RequestID     string
	TokenAddress  string
	PrizeSnapshot *big.Int
	MaxEntryID    int64
	EntryCount    int
	CreatedAt     time.Time
}

// Snapshot fixes the entry population and prize amount a draw acts on.
// Entries are ordered by id ascending; the ordering is stable because
// entries are append-only until the payout deletes them.
type Snapshot struct {
	TokenAddress string
	Entries      []Entry
	PrizePool    *big.Int
}

// MaxEntryID returns the highest entry id in the snapshot, or 0 when empty.
func (s *Snapshot) MaxEntryID() int64 {
	if len(s.Entries) == 0 {
		return 0
	}
	return s.Entries[len(s.Entries)-1].ID
}

// DepositInput is the canonical shape both ingestion channels normalize to.
type DepositInput struct {
	TxHash       string
	BlockNumber  *int64
	UserWallet   string
	TokenAddress string
	TokenAmount  *big.Int
	USDScaled    *big.Int
	Source       DepositSource
}

// DepositResult reports the outcome of recording a deposit. Created is
// false when the tx hash was already known and nothing was written.
type DepositResult struct {
	Created   bool
	DepositID int64
	EntryID   int64
}

// USDScale is the fixed-point exponent of USDScaled amounts:
// a stored value of 1e8 equals one dollar.
const USDScale = 8

// Stats is the read projection served by the query API.
type Stats struct {
	TotalEntries int
	TotalUSD     decimal.Decimal
	Pools        map[string]PoolBalances
}
