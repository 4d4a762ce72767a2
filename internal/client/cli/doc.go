// Package cli provides the interactive donorsync command-line client.
//
// It wires configuration, the token store, the HTTP executor, the session
// manager and the domain cache, then runs a REPL over them. Every command
// that shows a screen is checked by the route guard first, so protected
// screens need a signed-in session and the sign-in screens are skipped once
// signed in. A background watcher pings the server and switches the prompt
// between online and offline.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
