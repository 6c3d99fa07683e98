package game

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/luma/arcade/ledger"
)

// Economy implements the stateful economic actions: shop purchases
// and the peer-to-peer market. There is no persisted workflow state;
// every action derives its state from the presence or absence of
// records, which is why the happens-before rules below matter. The
// byte-store gives at most last-writer-wins per key and no cross-key
// transactions.
type Economy struct {
	db     *GameDB
	ledger ledger.Client
	wallet *ledger.Wallet

	shopAddress    string
	commissionRate decimal.Decimal
	receiptTimeout time.Duration

	log *zap.Logger
}

func NewEconomy(
	db *GameDB,
	client ledger.Client,
	wallet *ledger.Wallet,
	shopAddress string,
	commissionRate decimal.Decimal,
	receiptTimeout time.Duration,
	log *zap.Logger,
) *Economy {
	return &Economy{
		db:             db,
		ledger:         client,
		wallet:         wallet,
		shopAddress:    shopAddress,
		commissionRate: commissionRate,
		receiptTimeout: receiptTimeout,
		log:            log,
	}
}

// SplitPayment divides a price in base units into the seller's
// payment and the market commission:
// commission = floor(price * rate), payment = price - commission.
func (e *Economy) SplitPayment(price uint64) (payment, commission uint64) {
	floored := decimal.NewFromUint64(price).Mul(e.commissionRate).Floor()
	commission = uint64(floored.IntPart())
	return price - commission, commission
}

// ShopBuy settles a catalog purchase: the buyer pays the shop address
// the item price, then the item is appended to the buyer's inventory.
// If the inventory write fails after the transfer succeeded there is
// no compensating refund; the ledger call is at-least-once by design
// of the source system, and the gap is accepted here too.
func (e *Economy) ShopBuy(ctx context.Context, uid, itemcode string) (*Item, error) {
	item, err := e.db.Items.Select(ctx, itemcode)
	if err != nil {
		return nil, err
	}

	txid, err := e.ledger.Transfer(ctx, e.wallet.UserKey(uid), e.shopAddress, ledger.ToBeryl(item.Price), 0)
	if err != nil || txid == "" {
		e.log.Warn("Shop transfer yielded no txid", zap.String("uid", uid), zap.Error(err))
		return nil, ErrTxNotFound
	}

	inventory, err := e.db.Inventories.Select(ctx, uid)
	if err != nil {
		return nil, err
	}

	inventory.Add(item.Code)
	if err := e.db.Inventories.Update(ctx, uid, inventory); err != nil {
		return nil, err
	}

	e.log.Info("Shop purchase settled",
		zap.String("uid", uid),
		zap.String("item", item.Code),
		zap.String("txid", txid))

	return item, nil
}

// Register puts one owned item up for sale. The item leaves the
// seller's inventory before the listing exists, so a crash in between
// loses the listing, never duplicates the item.
func (e *Economy) Register(ctx context.Context, uid, itemcode string, price decimal.Decimal) (string, error) {
	item, err := e.db.Items.Select(ctx, itemcode)
	if err != nil {
		return "", err
	}

	inventory, err := e.db.Inventories.Select(ctx, uid)
	if err != nil {
		return "", err
	}

	if !inventory.Remove(itemcode) {
		return "", ErrNotOwned
	}

	if err := e.db.Inventories.Update(ctx, uid, inventory); err != nil {
		return "", err
	}

	listing := NewListing(uid, item.Code, item.Name, price)
	if err := e.db.Market.Insert(ctx, listing); err != nil {
		return "", err
	}

	e.log.Info("Listing registered",
		zap.String("uid", uid),
		zap.String("order", listing.Order),
		zap.String("item", item.Code))

	return listing.Order, nil
}

// Unregister takes a seller's own listing down and returns the item
// to their inventory. Deletion happens before the inventory credit so
// a duplicate unregister cannot credit twice.
func (e *Economy) Unregister(ctx context.Context, uid, order string) (*Listing, error) {
	listing, err := e.db.Market.Select(ctx, order)
	if err != nil {
		return nil, err
	}

	if listing.Seller != uid {
		return nil, ErrNotOwner
	}

	if err := e.db.Market.Delete(ctx, order); err != nil {
		return nil, ErrNotCancellable
	}

	inventory, err := e.db.Inventories.Select(ctx, uid)
	if err != nil {
		return nil, err
	}

	inventory.Add(listing.ItemCode)
	if err := e.db.Inventories.Update(ctx, uid, inventory); err != nil {
		return nil, err
	}

	return listing, nil
}

// Buy settles a market purchase. The buyer pays the seller the price
// minus commission, with the commission riding along as the ledger
// fee. The listing is deleted and the buyer credited only after the
// transfer's receipt is observed: a submitted-but-unconfirmed or
// failed transfer leaves the listing intact and the buyer uncredited.
//
// A receipt timeout does not prove the transfer failed. The
// settlement is not retried here, because a silent retry risks double
// payment; the ambiguity is surfaced to the buyer as a timeout.
func (e *Economy) Buy(ctx context.Context, uid, order string) (*Listing, error) {
	listing, err := e.db.Market.Select(ctx, order)
	if err != nil {
		return nil, err
	}

	price := ledger.ToBeryl(listing.Price)
	payment, commission := e.SplitPayment(price)

	e.log.Debug("Settling market buy",
		zap.String("order", order),
		zap.Uint64("price", price),
		zap.Uint64("payment", payment),
		zap.Uint64("commission", commission))

	signer := e.wallet.UserKey(uid)
	seller := e.wallet.UserAddress(listing.Seller)

	txid, err := e.ledger.Transfer(ctx, signer, seller, payment, commission)
	if err != nil || txid == "" {
		e.log.Warn("Market transfer failed",
			zap.String("order", order),
			zap.String("uid", uid),
			zap.Error(err))
		return nil, ErrTxFailed
	}

	receipt, err := e.ledger.AwaitReceipt(ctx, txid, e.receiptTimeout)
	if err != nil || receipt == nil {
		e.log.Warn("No receipt before timeout, leaving listing untouched",
			zap.String("order", order),
			zap.String("txid", txid),
			zap.Error(err))
		return nil, ErrSettlementTimeout
	}

	// Confirmed. Local mutations are ordered strictly after this
	// point.
	if err := e.db.Market.Delete(ctx, order); err != nil {
		e.log.Warn("Listing vanished after settlement",
			zap.String("order", order),
			zap.Error(err))
	}

	inventory, err := e.db.Inventories.Select(ctx, uid)
	if err != nil {
		return nil, err
	}

	inventory.Add(listing.ItemCode)
	if err := e.db.Inventories.Update(ctx, uid, inventory); err != nil {
		return nil, err
	}

	e.log.Info("Market purchase settled",
		zap.String("order", order),
		zap.String("buyer", uid),
		zap.String("txid", txid),
		zap.Uint64("block", receipt.BlockNumber))

	return listing, nil
}
