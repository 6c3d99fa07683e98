package game

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/luma/arcade/protocol"
	"github.com/luma/arcade/storage"
)

// Listing is one seller's active market offer for a single inventory
// item. It exists from market.register until unregister or a
// successful, confirmed buy.
type Listing struct {
	Order    string
	Seller   string
	ItemCode string
	ItemName string
	Price    decimal.Decimal
}

// NewListing creates a listing with a fresh order id: 160 bits of
// randomness, hex.
func NewListing(seller, itemcode, itemname string, price decimal.Decimal) *Listing {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		panic(err)
	}

	return &Listing{
		Order:    hex.EncodeToString(raw),
		Seller:   seller,
		ItemCode: itemcode,
		ItemName: itemname,
		Price:    price,
	}
}

func (l *Listing) encode() []byte {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "order", l.Order)
	out, _ = sjson.SetBytes(out, "seller", l.Seller)
	out, _ = sjson.SetBytes(out, "itemcode", l.ItemCode)
	out, _ = sjson.SetBytes(out, "itemname", l.ItemName)
	out, _ = sjson.SetRawBytes(out, "price", []byte(l.Price.String()))
	return out
}

// Envelope renders the listing as a nested message field.
func (l *Listing) Envelope() *protocol.Message {
	return protocol.NewMap().
		With("order", l.Order).
		With("seller", l.Seller).
		With("itemcode", l.ItemCode).
		With("itemname", l.ItemName).
		With("price", l.Price)
}

func parseListing(data []byte) (*Listing, error) {
	record := gjson.ParseBytes(data)
	if !record.IsObject() || record.Get("order").String() == "" {
		return nil, ErrUnknownOrder
	}

	price, err := decimal.NewFromString(record.Get("price").Raw)
	if err != nil {
		return nil, ErrUnknownOrder
	}

	return &Listing{
		Order:    record.Get("order").String(),
		Seller:   record.Get("seller").String(),
		ItemCode: record.Get("itemcode").String(),
		ItemName: record.Get("itemname").String(),
		Price:    price,
	}, nil
}

// listingKey orders the market index by price, cheapest first, with
// the order id as the tie breaker.
type listingKey struct {
	price decimal.Decimal
	order string
}

// MarketDB stores listings in the byte-store keyed by order id and
// keeps a price-ordered index over them so market.list comes back
// cheapest first.
type MarketDB struct {
	store storage.Store

	mu    sync.Mutex
	index *skiplist.SkipList
}

func NewMarketDB(ctx context.Context, store storage.Store) (*MarketDB, error) {
	db := &MarketDB{
		store: store,
		index: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs interface{}) int {
			k1, _ := lhs.(listingKey)
			k2, _ := rhs.(listingKey)

			if k1.price.GreaterThan(k2.price) {
				return 1
			} else if k1.price.LessThan(k2.price) {
				return -1
			}

			if k1.order > k2.order {
				return 1
			} else if k1.order < k2.order {
				return -1
			}

			return 0
		})),
	}

	// Rebuild the index from whatever the store already holds.
	entries, err := store.Entries(ctx)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		listing, err := parseListing(entry.Value)
		if err != nil {
			return nil, err
		}
		db.index.Set(listingKey{price: listing.Price, order: listing.Order}, listing.Order)
	}

	return db, nil
}

func (db *MarketDB) Insert(ctx context.Context, listing *Listing) error {
	if err := db.store.Put(ctx, listing.Order, listing.encode()); err != nil {
		return err
	}

	db.mu.Lock()
	db.index.Set(listingKey{price: listing.Price, order: listing.Order}, listing.Order)
	db.mu.Unlock()

	return nil
}

func (db *MarketDB) Select(ctx context.Context, order string) (*Listing, error) {
	data, err := db.store.Get(ctx, order)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, ErrUnknownOrder
		}
		return nil, err
	}

	return parseListing(data)
}

func (db *MarketDB) Delete(ctx context.Context, order string) error {
	listing, err := db.Select(ctx, order)
	if err != nil {
		return err
	}

	if err := db.store.Delete(ctx, order); err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return ErrUnknownOrder
		}
		return err
	}

	db.mu.Lock()
	db.index.Remove(listingKey{price: listing.Price, order: listing.Order})
	db.mu.Unlock()

	return nil
}

// All returns the live listings in price order, cheapest first.
func (db *MarketDB) All(ctx context.Context) ([]*Listing, error) {
	db.mu.Lock()
	orders := make([]string, 0, db.index.Len())
	for el := db.index.Front(); el != nil; el = el.Next() {
		order, _ := el.Value.(string)
		orders = append(orders, order)
	}
	db.mu.Unlock()

	listings := make([]*Listing, 0, len(orders))
	for _, order := range orders {
		listing, err := db.Select(ctx, order)
		if err != nil {
			// Deleted between the index snapshot and the read.
			continue
		}
		listings = append(listings, listing)
	}

	return listings, nil
}
