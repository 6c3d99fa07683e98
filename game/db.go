package game

import (
	"context"

	"go.uber.org/multierr"

	"github.com/luma/arcade/storage"
)

// GameDB bundles the four entity databases. Each one sits on its own
// byte-store so keys never collide across entity kinds.
type GameDB struct {
	Users       *UserDB
	Items       *ItemDB
	Inventories *InventoryDB
	Market      *MarketDB

	stores []storage.Store
}

func NewGameDB(ctx context.Context, users, items, inventories, market storage.Store) (*GameDB, error) {
	marketDB, err := NewMarketDB(ctx, market)
	if err != nil {
		return nil, err
	}

	return &GameDB{
		Users:       NewUserDB(users),
		Items:       NewItemDB(items),
		Inventories: NewInventoryDB(inventories),
		Market:      marketDB,
		stores:      []storage.Store{users, items, inventories, market},
	}, nil
}

func (db *GameDB) Close() (err error) {
	for _, store := range db.stores {
		err = multierr.Append(err, store.Close())
	}

	return err
}
