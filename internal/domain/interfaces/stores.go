package interfaces

import (
	"context"

	domaintypes "promptctl/internal/domain/types"
)

// Storage is the durable slot store the key collection lives in. A missing
// slot is reported with ok=false and a nil error.
type Storage interface {
	GetItem(ctx context.Context, name string) (value []byte, ok bool, err error)
	SetItem(ctx context.Context, name string, value []byte) error
	RemoveItem(ctx context.Context, name string) error
}

// Cookies holds small named values that select state across runs, such as the
// active public key. Expired cookies read as absent.
type Cookies interface {
	GetCookie(name string) (string, bool, error)
	SetCookie(cookie domaintypes.Cookie) error
	ClearCookie(name string) error
}
