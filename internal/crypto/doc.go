// Package crypto exposes the key primitives promptctl needs.
//
// Contents
//
//   - Ed25519 key generation plus base64 raw/PKCS#8 codecs (GenerateKeyRecord,
//     EncodePublicKey, DecodePrivateKey, ...)
//   - Public key hashing, the routing token shared with the server (HashPublicKey)
//   - Challenge signing and verification (SignChallenge, VerifyChallenge)
//   - Import of OpenSSH, PEM PKCS#8 and bare base64 private keys (ImportKey)
//   - OpenSSH export and display fingerprints (ExportOpenSSH, AuthorizedKey,
//     Fingerprint)
//
// # Notes
//
// Key material crosses package boundaries as base64 text, the same encoding
// the browser client keeps in localStorage, so records written by either
// client are interchangeable. Decoded private keys are wiped after use.
package crypto
