package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrReceiptTimeout    = errors.New("timed out waiting for a transaction receipt")
	ErrRPCFailed         = errors.New("ledger rpc call failed")
)

// berylPerCoin is the number of base units in one coin. Amounts cross
// the wire as decimals in coins and are settled in integral beryl.
const berylPerCoin = 8

// ToBeryl converts a coin amount to base units, truncating anything
// below one beryl.
func ToBeryl(coins decimal.Decimal) uint64 {
	beryl := coins.Shift(berylPerCoin).Floor()
	if beryl.Sign() <= 0 {
		return 0
	}

	return uint64(beryl.IntPart())
}

// ToCoin converts base units back to a coin amount.
func ToCoin(beryl uint64) decimal.Decimal {
	return decimal.NewFromUint64(beryl).Shift(-berylPerCoin)
}

// Receipt is the confirmation record of a settled transaction.
type Receipt struct {
	TxID        string
	BlockNumber uint64
}

// Client is the contract the game core requires from the external
// ledger. Submitting a transfer yields a transaction id, which proves
// acceptance, not settlement; settlement is only proven by a receipt.
// A receipt timeout does not prove the transfer failed.
type Client interface {
	// Transfer submits amount from the signer's account to the given
	// address, with fee as the ledger-side commission payment.
	Transfer(ctx context.Context, signer, to string, amount, fee uint64) (string, error)

	// AwaitReceipt polls for the receipt of a submitted transaction
	// until it appears or the timeout elapses (ErrReceiptTimeout).
	AwaitReceipt(ctx context.Context, txid string, timeout time.Duration) (*Receipt, error)

	Balance(ctx context.Context, address string) (uint64, error)
	Nonce(ctx context.Context, address string) (uint64, error)
}
