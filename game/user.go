package game

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"lukechampine.com/blake3"

	"github.com/luma/arcade/storage"
)

// HashPasscode is the credential hash applied to passwords before
// they are stored or compared. Clients send the hash, never the raw
// password.
func HashPasscode(passcode string) string {
	sum := blake3.Sum256([]byte(passcode))
	return hex.EncodeToString(sum[:])
}

type User struct {
	UID          string
	PassHash     string
	RegisterDate string
}

func (u *User) encode() []byte {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "uid", u.UID)
	out, _ = sjson.SetBytes(out, "passhash", u.PassHash)
	out, _ = sjson.SetBytes(out, "rdate", u.RegisterDate)
	return out
}

func parseUser(data []byte) (*User, error) {
	record := gjson.ParseBytes(data)
	if !record.IsObject() || record.Get("uid").String() == "" {
		return nil, ErrUserNotFound
	}

	return &User{
		UID:          record.Get("uid").String(),
		PassHash:     record.Get("passhash").String(),
		RegisterDate: record.Get("rdate").String(),
	}, nil
}

// UserDB stores user accounts in the byte-store, keyed by uid.
type UserDB struct {
	store storage.Store
}

func NewUserDB(store storage.Store) *UserDB {
	return &UserDB{store: store}
}

// Insert registers a new account. The passcode arrives pre-hashed.
func (db *UserDB) Insert(ctx context.Context, uid, passhash string) (*User, error) {
	if _, err := db.store.Get(ctx, uid); err == nil {
		return nil, ErrUserExists
	}

	user := &User{
		UID:          uid,
		PassHash:     passhash,
		RegisterDate: time.Now().UTC().Format(time.RFC3339),
	}

	if err := db.store.Put(ctx, uid, user.encode()); err != nil {
		return nil, err
	}

	return user, nil
}

func (db *UserDB) Select(ctx context.Context, uid string) (*User, error) {
	data, err := db.store.Get(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return parseUser(data)
}

// Authenticate looks a user up and verifies the presented passcode
// hash. Unknown uid and wrong passcode are indistinguishable to the
// caller.
func (db *UserDB) Authenticate(ctx context.Context, uid, passhash string) (*User, error) {
	user, err := db.Select(ctx, uid)
	if err != nil || user.PassHash != passhash {
		return nil, ErrUnknownUser
	}

	return user, nil
}

func (db *UserDB) All(ctx context.Context) ([]*User, error) {
	entries, err := db.store.Entries(ctx)
	if err != nil {
		return nil, err
	}

	users := make([]*User, 0, len(entries))
	for _, entry := range entries {
		user, err := parseUser(entry.Value)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, nil
}

func (db *UserDB) Delete(ctx context.Context, uid string) error {
	if err := db.store.Delete(ctx, uid); err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	return nil
}
