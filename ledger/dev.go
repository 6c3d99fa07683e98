package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

var ErrUnknownSigner = errors.New("unknown signer key")

type account struct {
	balance uint64
	nonce   uint64
}

// DevLedger is an in-process ledger for local runs and tests. It
// settles transfers instantly unless receipts are held, which lets
// tests exercise the submitted-but-unconfirmed window.
type DevLedger struct {
	mu sync.Mutex

	accounts map[string]*account // by address
	keys     map[string]string   // signer key -> address

	receipts map[string]*Receipt
	pending  []*Receipt
	holding  bool

	height uint64

	// pollInterval is how often AwaitReceipt re-checks. Short by
	// default so tests stay fast.
	pollInterval time.Duration
}

func NewDevLedger() *DevLedger {
	return &DevLedger{
		accounts:     make(map[string]*account),
		keys:         make(map[string]string),
		receipts:     make(map[string]*Receipt),
		pollInterval: 50 * time.Millisecond,
	}
}

// Fund creates or tops up an account and binds its signer key.
func (d *DevLedger) Fund(key, address string, amount uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.keys[key] = address
	d.account(address).balance += amount
}

// HoldReceipts makes subsequent transfers settle only when
// ReleaseReceipts is called.
func (d *DevLedger) HoldReceipts() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.holding = true
}

// ReleaseReceipts confirms every held transfer.
func (d *DevLedger) ReleaseReceipts() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.holding = false
	for _, receipt := range d.pending {
		d.receipts[receipt.TxID] = receipt
	}
	d.pending = nil
}

// account must be called with the lock held.
func (d *DevLedger) account(address string) *account {
	acc, ok := d.accounts[address]
	if !ok {
		acc = &account{}
		d.accounts[address] = acc
	}

	return acc
}

func (d *DevLedger) Transfer(ctx context.Context, signer, to string, amount, fee uint64) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	from, ok := d.keys[signer]
	if !ok {
		return "", ErrUnknownSigner
	}

	sender := d.account(from)
	if sender.balance < amount+fee {
		return "", ErrInsufficientFunds
	}

	sender.balance -= amount + fee
	sender.nonce++
	d.account(to).balance += amount

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	txid := "0x" + hex.EncodeToString(raw)

	d.height++
	receipt := &Receipt{TxID: txid, BlockNumber: d.height}

	if d.holding {
		d.pending = append(d.pending, receipt)
	} else {
		d.receipts[txid] = receipt
	}

	return txid, nil
}

func (d *DevLedger) AwaitReceipt(ctx context.Context, txid string, timeout time.Duration) (*Receipt, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		d.mu.Lock()
		receipt, ok := d.receipts[txid]
		d.mu.Unlock()

		if ok {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrReceiptTimeout
		case <-ticker.C:
		}
	}
}

func (d *DevLedger) Balance(ctx context.Context, address string) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.account(address).balance, nil
}

func (d *DevLedger) Nonce(ctx context.Context, address string) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.account(address).nonce, nil
}

var _ Client = (*DevLedger)(nil)
