// Package commands defines the promptctl CLI and wires dependencies for subcommands.
//
// Commands
//
//   - keys generate   Create a new Ed25519 key and store it
//   - keys import     Import a private key (OpenSSH, PKCS#8 PEM or base64)
//   - keys list       List stored keys, marking the active one
//   - keys show       Print one key's public details
//   - keys export     Write a key as an OpenSSH private key
//   - keys remove     Delete a key
//   - keys use        Make a key the active one
//   - keys switch     Clear the active key
//   - inbox           Watch prompts for the active key and answer them
//   - prompts         List prompts once
//   - respond         Answer one prompt
//   - ask             Ask a key holder a question and wait for the answer
//   - version         Print the build version
//
// # Implementation
//
// The root command loads configuration and builds the dependency graph
// (storage, key store, API client, push dialer, session bootstrap) before any
// subcommand runs, so handlers share one app context.
package commands
