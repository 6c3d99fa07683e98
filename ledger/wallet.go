package ledger

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Wallet derives per-user ledger identities from the game's master
// seed. Real key derivation and keystore handling live outside this
// core; the wallet only needs to hand stable signer handles and
// addresses to the ledger client.
type Wallet struct {
	seed []byte
}

func NewWallet(seed string) *Wallet {
	return &Wallet{seed: []byte(seed)}
}

// UserKey is the signing handle for a user, passed to Client.Transfer.
func (w *Wallet) UserKey(uid string) string {
	sum := blake3.Sum256(append(w.seed, []byte("key:"+uid)...))
	return hex.EncodeToString(sum[:])
}

// UserAddress is the ledger address funds for a user live at.
func (w *Wallet) UserAddress(uid string) string {
	sum := blake3.Sum256(append(w.seed, []byte("addr:"+uid)...))
	return "0x" + hex.EncodeToString(sum[:20])
}
