// Package promptapi provides an HTTP implementation of the domain.PromptAPI
// interface used by promptctl.
//
// The prompt service routes prompts to the holder of an Ed25519 key. This
// package offers a concrete HTTP client for:
//   - Fetching a sign-in challenge for a key hash.
//   - Listing the prompts addressed to a key.
//   - Submitting a response to a prompt.
//   - Asking a question of a key and waiting for its answer.
//
// Authenticated requests carry the signed challenge as bearer headers and,
// unless disabled, as the cookies the reference server reads. Every request
// accepts a context, carries an X-Request-ID and is logged at debug level.
// Non-2xx statuses are returned as *domain.NetworkError with the method, full
// URL and status; a body of the wrong shape is a *domain.ProtocolError.
package promptapi
