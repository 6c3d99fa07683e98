package game

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luma/arcade/storage"
)

func TestItemCode(t *testing.T) {
	code := ItemCode("sword")

	// Codes are stable, hex and derived from the name alone.
	assert.Equal(t, code, ItemCode("sword"))
	assert.Len(t, code, 20)
	assert.NotEqual(t, code, ItemCode("shield"))
}

func TestItemDB(t *testing.T) {
	ctx := context.Background()
	db := NewItemDB(storage.NewInmemoryStore())

	item, err := db.Insert(ctx, "sword", decimal.RequireFromString("2.5"))
	require.NoError(t, err)
	assert.Equal(t, ItemCode("sword"), item.Code)

	// The catalog keys by derived code, a duplicate name collides.
	_, err = db.Insert(ctx, "sword", decimal.NewFromInt(9))
	assert.ErrorIs(t, err, ErrItemExists)

	got, err := db.Select(ctx, item.Code)
	require.NoError(t, err)
	assert.Equal(t, "sword", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("2.5")))

	byName, err := db.SelectByName(ctx, "sword")
	require.NoError(t, err)
	assert.Equal(t, item.Code, byName.Code)

	require.NoError(t, db.UpdatePrice(ctx, item.Code, decimal.NewFromInt(4)))
	got, err = db.Select(ctx, item.Code)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(4)))

	require.NoError(t, db.Delete(ctx, item.Code))
	_, err = db.Select(ctx, item.Code)
	assert.ErrorIs(t, err, ErrUnknownItem)
}

func TestUserDB(t *testing.T) {
	ctx := context.Background()
	db := NewUserDB(storage.NewInmemoryStore())

	hash := HashPasscode("hunter2")

	user, err := db.Insert(ctx, "alice", hash)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.UID)
	assert.NotEmpty(t, user.RegisterDate)

	_, err = db.Insert(ctx, "alice", hash)
	assert.ErrorIs(t, err, ErrUserExists)

	got, err := db.Authenticate(ctx, "alice", hash)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UID)

	// Wrong passcode and unknown uid fail identically.
	_, err = db.Authenticate(ctx, "alice", HashPasscode("wrong"))
	assert.ErrorIs(t, err, ErrUnknownUser)
	_, err = db.Authenticate(ctx, "bob", hash)
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestInventory(t *testing.T) {
	var inv Inventory

	assert.False(t, inv.Contains("a"))

	inv.Add("a")
	inv.Add("a")
	assert.True(t, inv.Contains("a"))
	assert.Len(t, inv, 2)

	// Remove takes exactly one occurrence.
	assert.True(t, inv.Remove("a"))
	assert.True(t, inv.Contains("a"))
	assert.True(t, inv.Remove("a"))
	assert.False(t, inv.Contains("a"))
	assert.False(t, inv.Remove("a"))
}

func TestInventoryDB(t *testing.T) {
	ctx := context.Background()
	db := NewInventoryDB(storage.NewInmemoryStore())

	// A user without a record has an empty inventory, not an error.
	inv, err := db.Select(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, inv)

	inv.Add("item-1")
	inv.Add("item-2")
	require.NoError(t, db.Update(ctx, "alice", inv))

	got, err := db.Select(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Inventory{"item-1", "item-2"}, got)
}

func TestMarketDBOrdering(t *testing.T) {
	ctx := context.Background()
	db, err := NewMarketDB(ctx, storage.NewInmemoryStore())
	require.NoError(t, err)

	cheap := NewListing("s1", "code-a", "a", decimal.NewFromInt(1))
	mid := NewListing("s2", "code-b", "b", decimal.RequireFromString("2.5"))
	dear := NewListing("s3", "code-c", "c", decimal.NewFromInt(10))

	// Insertion order deliberately does not match price order.
	require.NoError(t, db.Insert(ctx, dear))
	require.NoError(t, db.Insert(ctx, cheap))
	require.NoError(t, db.Insert(ctx, mid))

	listings, err := db.All(ctx)
	require.NoError(t, err)
	require.Len(t, listings, 3)
	assert.Equal(t, cheap.Order, listings[0].Order)
	assert.Equal(t, mid.Order, listings[1].Order)
	assert.Equal(t, dear.Order, listings[2].Order)

	require.NoError(t, db.Delete(ctx, mid.Order))

	listings, err = db.All(ctx)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, cheap.Order, listings[0].Order)
	assert.Equal(t, dear.Order, listings[1].Order)

	assert.ErrorIs(t, db.Delete(ctx, mid.Order), ErrUnknownOrder)
}

func TestMarketDBRebuildsIndex(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInmemoryStore()

	db, err := NewMarketDB(ctx, store)
	require.NoError(t, err)

	cheap := NewListing("s1", "code-a", "a", decimal.NewFromInt(1))
	dear := NewListing("s2", "code-b", "b", decimal.NewFromInt(10))
	require.NoError(t, db.Insert(ctx, dear))
	require.NoError(t, db.Insert(ctx, cheap))

	// A fresh MarketDB over the same store rebuilds the price index.
	reopened, err := NewMarketDB(ctx, store)
	require.NoError(t, err)

	listings, err := reopened.All(ctx)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, cheap.Order, listings[0].Order)
	assert.Equal(t, dear.Order, listings[1].Order)
}
