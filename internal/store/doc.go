// Package store provides the durable state behind promptctl's ports.
//
// It contains concrete implementations of domain.Storage and domain.Cookies:
//   - FileStorage keeps one JSON file per slot under the configured home,
//     optionally sealed with a passphrase (scrypt + ChaCha20-Poly1305).
//   - SQLStorage keeps slots in a sqlite table through gorm.
//   - CookieFileStore keeps named cookies with expiry in cookies.json.
//
// Writes to disk go through a temp file and an atomic rename. All types are
// safe for concurrent use.
package store
