// Package memzero wipes sensitive byte slices such as decoded private keys
// and derived storage keys.
package memzero

import (
	"crypto/subtle"
	"runtime"
)

// Zero overwrites b with zeros. Best effort: copies made earlier by the
// runtime or by callers are not reached.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
	runtime.KeepAlive(b)
}
