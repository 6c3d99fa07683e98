package game

import (
	"context"
	"errors"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/luma/arcade/storage"
)

// Inventory is the list of item codes a user owns. The same code may
// appear any number of times.
type Inventory []string

func (v Inventory) Contains(code string) bool {
	for _, owned := range v {
		if owned == code {
			return true
		}
	}

	return false
}

func (v *Inventory) Add(code string) {
	*v = append(*v, code)
}

// Remove deletes exactly one occurrence of code, reporting whether
// one was found.
func (v *Inventory) Remove(code string) bool {
	for i, owned := range *v {
		if owned == code {
			*v = append((*v)[:i], (*v)[i+1:]...)
			return true
		}
	}

	return false
}

func (v Inventory) encode() []byte {
	out, _ := sjson.SetBytes([]byte(`{}`), "items", []string(v))
	return out
}

func parseInventory(data []byte) Inventory {
	items := gjson.GetBytes(data, "items").Array()

	inventory := make(Inventory, 0, len(items))
	for _, item := range items {
		inventory = append(inventory, item.String())
	}

	return inventory
}

// InventoryDB stores one inventory per uid. A missing record reads as
// an empty inventory.
type InventoryDB struct {
	store storage.Store
}

func NewInventoryDB(store storage.Store) *InventoryDB {
	return &InventoryDB{store: store}
}

func (db *InventoryDB) Select(ctx context.Context, uid string) (Inventory, error) {
	data, err := db.store.Get(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return Inventory{}, nil
		}
		return nil, err
	}

	return parseInventory(data), nil
}

func (db *InventoryDB) Update(ctx context.Context, uid string, inventory Inventory) error {
	return db.store.Put(ctx, uid, inventory.encode())
}
