// Package main runs an in-memory prompt service for local development. It
// serves the same routes and event stream as the real service, so promptctl
// can be exercised end to end without a deployment.
//
// HTTP API
//
//	GET /api/auth/{hash}
//	    Issue a challenge for the key whose X-Public-Key hashes to {hash}.
//
//	GET /api/prompts/{hash}
//	    List prompts for {hash}. Requires a signed challenge.
//
//	POST /api/prompts/{id}
//	    Answer prompt {id} with the raw request body.
//
//	POST /api/prompts {"public_key", "message"}
//	    Ask a question and block until it is answered.
//
//	GET /api/sse/{hash}
//	    Event stream for {hash}: connected, heartbeat and JSON frames.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - An access log records method, path, remote, status, bytes and duration
//     for each request.
//   - The default listen address is 127.0.0.1:8080.
package main
