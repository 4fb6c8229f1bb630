/*
main.go - Application entry point

PURPOSE:
  Command-line front end of the credit registry. Starts the HTTP invoke
  server or runs a single contract function against the configured ledger.

COMMANDS:
  serve                      Start the HTTP server
  invoke FUNCTION [ARGS...]  Run a function and commit its writes
  query FUNCTION [ARGS...]   Run a read-only function
  functions                  List dispatchable functions

GLOBAL FLAGS:
  --config   TOML config file (see config/config.go for the layout)
  --driver   Ledger store: memory, sqlite or postgres
  --dsn      SQLite path or PostgreSQL connection string
  --log-level debug, info, warn, error

  Flags override values from the config file.

EXAMPLES:
  # Run with a file database
  registry serve --driver sqlite --dsn ./data/registry.db

  # Issue a credit from the shell
  registry invoke IssueCredit CC-1 --dsn ./data/registry.db

  # Inspect history
  registry query GetCreditHistory CC-1 --dsn ./data/registry.db

SEE ALSO:
  - serve.go: HTTP server and graceful shutdown
  - app.go: Store, logger and registry wiring
*/
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
