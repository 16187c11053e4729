// Package push implements the prompt service's push channel as a
// Server-Sent Events stream.
//
// A Dialer opens GET /api/sse/{hash} with the current proof and keeps it
// open: when the stream drops it reconnects with exponential backoff,
// fetching a fresh proof for every attempt. Each successful (re)connect
// yields a "connected" event, so consumers re-sync after a gap.
// Authorization failures (401, 403, 404, or a redirect to the sign-in page)
// stop the channel instead of being retried.
package push
