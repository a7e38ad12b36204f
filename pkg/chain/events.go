package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// PoolABIJSON is the event and admin surface of the grave pool contract.
// The contract keys its events by the depositing user; draw events carry
// no token parameter, the ledger resolves them through its own pending
// draw-request markers.
const PoolABIJSON = `[
  {"type":"event","name":"Deposited","inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"usdScaled","type":"uint256","indexed":false}]},
  {"type":"event","name":"DrawRequested","inputs":[
    {"name":"requestId","type":"uint256","indexed":true}]},
  {"type":"event","name":"WinnerPicked","inputs":[
    {"name":"winner","type":"address","indexed":true},
    {"name":"entryIndex","type":"uint256","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"function","name":"requestDraw","stateMutability":"nonpayable","inputs":[
    {"name":"token","type":"address"}],"outputs":[
    {"name":"requestId","type":"uint256"}]}
]`

// VRFCoordinatorABIJSON covers the fulfillment event of the Chainlink-style
// randomness coordinator.
const VRFCoordinatorABIJSON = `[
  {"type":"event","name":"RandomWordsFulfilled","inputs":[
    {"name":"requestId","type":"uint256","indexed":true},
    {"name":"outputSeed","type":"uint256","indexed":false},
    {"name":"payment","type":"uint96","indexed":false},
    {"name":"success","type":"bool","indexed":false}]}
]`

// DepositedEvent is a decoded Deposited log.
type DepositedEvent struct {
	User        common.Address
	Token       common.Address
	Amount      *big.Int
	USDScaled   *big.Int
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

// DrawRequestedEvent is a decoded DrawRequested log.
type DrawRequestedEvent struct {
	RequestID   *big.Int
	TxHash      common.Hash
	BlockNumber uint64
}

// WinnerPickedEvent is a decoded WinnerPicked log. EntryIndex is the
// position of the winning entry in the draw's frozen entry population.
type WinnerPickedEvent struct {
	Winner      common.Address
	EntryIndex  *big.Int
	Timestamp   *big.Int
	TxHash      common.Hash
	BlockNumber uint64
}

// RandomnessEvent is a decoded RandomWordsFulfilled log from the coordinator.
type RandomnessEvent struct {
	RequestID   *big.Int
	OutputSeed  *big.Int
	Success     bool
	TxHash      common.Hash
	BlockNumber uint64
}

// raw unpack targets matching the ABI field layout
type depositedRaw struct {
	User      common.Address
	Token     common.Address
	Amount    *big.Int
	UsdScaled *big.Int
}

type drawRequestedRaw struct {
	RequestId *big.Int
}

type winnerPickedRaw struct {
	Winner     common.Address
	EntryIndex *big.Int
	Timestamp  *big.Int
}

type randomWordsFulfilledRaw struct {
	RequestId  *big.Int
	OutputSeed *big.Int
	Payment    *big.Int
	Success    bool
}

func mustParseABI(jsonStr string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(jsonStr))
	if err != nil {
		panic(err)
	}
	return parsed
}
