// Package session resolves the active key, authenticates it against the
// prompt service and keeps an inbox of prompts in sync over the push
// channel.
//
// A Bootstrap turns the publicKey cookie into a running Session. Starting a
// session strictly orders its steps: the key store is loaded, a challenge is
// fetched for the key's hash, the challenge is signed, and only then is the
// push channel opened. A single timer refreshes the proof before it expires;
// a refresh that would overlap one already in flight is skipped.
//
// A Session owns a cancellation context covering its channel, timer and
// event loop. Close tears all three down together; Switch closes the current
// session before starting the next one.
package session
