// Package app wires application dependencies for the CLI.
//
// It loads Config from defaults, a .env file, <home>/config.yaml, PROMPTCTL_*
// environment variables and finally command-line flags. From Config it builds
// the logger, the storage backend, the key store, the prompt API client, the
// push dialer and the session bootstrap, exposing them via the Wire struct
// for commands to use.
package app
