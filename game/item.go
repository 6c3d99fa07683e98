package game

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"lukechampine.com/blake3"

	"github.com/luma/arcade/protocol"
	"github.com/luma/arcade/storage"
)

// ItemCode derives the catalog key for an item name. The derivation
// is deterministic so the same name always maps to the same code.
func ItemCode(name string) string {
	sum := blake3.Sum256([]byte(name))
	return hex.EncodeToString(sum[:10])
}

type Item struct {
	Code  string
	Name  string
	Price decimal.Decimal
}

func (i *Item) encode() []byte {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "code", i.Code)
	out, _ = sjson.SetBytes(out, "name", i.Name)
	out, _ = sjson.SetRawBytes(out, "price", []byte(i.Price.String()))
	return out
}

// Envelope renders the item as a nested message field for responses.
func (i *Item) Envelope() *protocol.Message {
	return protocol.NewMap().
		With("code", i.Code).
		With("name", i.Name).
		With("price", i.Price)
}

func parseItem(data []byte) (*Item, error) {
	record := gjson.ParseBytes(data)
	if !record.IsObject() || record.Get("code").String() == "" {
		return nil, ErrUnknownItem
	}

	price, err := decimal.NewFromString(record.Get("price").Raw)
	if err != nil {
		return nil, ErrUnknownItem
	}

	return &Item{
		Code:  record.Get("code").String(),
		Name:  record.Get("name").String(),
		Price: price,
	}, nil
}

// ItemDB is the shop catalog, keyed by item code. Prices may be
// updated after creation; code and name may not.
type ItemDB struct {
	store storage.Store
}

func NewItemDB(store storage.Store) *ItemDB {
	return &ItemDB{store: store}
}

// Insert registers a new catalog entry and returns it, with the code
// derived from the name.
func (db *ItemDB) Insert(ctx context.Context, name string, price decimal.Decimal) (*Item, error) {
	item := &Item{Code: ItemCode(name), Name: name, Price: price}

	if _, err := db.store.Get(ctx, item.Code); err == nil {
		return nil, ErrItemExists
	}

	if err := db.store.Put(ctx, item.Code, item.encode()); err != nil {
		return nil, err
	}

	return item, nil
}

func (db *ItemDB) Select(ctx context.Context, code string) (*Item, error) {
	data, err := db.store.Get(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, ErrUnknownItem
		}
		return nil, err
	}

	return parseItem(data)
}

func (db *ItemDB) SelectByName(ctx context.Context, name string) (*Item, error) {
	return db.Select(ctx, ItemCode(name))
}

func (db *ItemDB) All(ctx context.Context) ([]*Item, error) {
	entries, err := db.store.Entries(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]*Item, 0, len(entries))
	for _, entry := range entries {
		item, err := parseItem(entry.Value)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}

func (db *ItemDB) UpdatePrice(ctx context.Context, code string, price decimal.Decimal) error {
	item, err := db.Select(ctx, code)
	if err != nil {
		return err
	}

	item.Price = price
	return db.store.Put(ctx, item.Code, item.encode())
}

func (db *ItemDB) Delete(ctx context.Context, code string) error {
	if err := db.store.Delete(ctx, code); err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return ErrUnknownItem
		}
		return err
	}

	return nil
}
