package game

import "errors"

// Domain errors. Their text is exactly what goes back to the peer in
// the error message's "message" field.
var (
	ErrUnknownUser       = errors.New("unknown uid or password mismatch")
	ErrUserExists        = errors.New("uid already exists")
	ErrUserNotFound      = errors.New("user data not found")
	ErrUnknownItem       = errors.New("unknown item code")
	ErrItemExists        = errors.New("item already exists")
	ErrNotOwned          = errors.New("not owned item")
	ErrUnknownOrder      = errors.New("unknown order")
	ErrNotOwner          = errors.New("not owner")
	ErrNotCancellable    = errors.New("not cancellable")
	ErrTxNotFound        = errors.New("txid not found")
	ErrTxFailed          = errors.New("tx failed")
	ErrSettlementTimeout = errors.New("timeout")
	ErrUnknownSession    = errors.New("unknown session key")
)

var domainErrors = []error{
	ErrUnknownUser,
	ErrUserExists,
	ErrUserNotFound,
	ErrUnknownItem,
	ErrItemExists,
	ErrNotOwned,
	ErrUnknownOrder,
	ErrNotOwner,
	ErrNotCancellable,
	ErrTxNotFound,
	ErrTxFailed,
	ErrSettlementTimeout,
	ErrUnknownSession,
}

// errorText maps an error to the user-visible message text. Anything
// that is not a known domain error stays opaque to the peer.
func errorText(err error) string {
	for _, sentinel := range domainErrors {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}

	return "internal error"
}
