// Command keeper is the CLI entrypoint for the schema migration engine:
// migrate, validate, repair, erase, and info over one or more schemas.
package main

import (
	"fmt"
	"os"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sqlkeeper/keeper/pkg/logging"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Route the mysql driver's own diagnostic logging (connection
	// retries, deprecated DSN options, ...) through the same zerolog
	// sink everything else in this process writes to.
	if err := mysql.SetLogger(logging.NewZeroLogAdapter(log.Logger, zerolog.WarnLevel)); err != nil {
		log.Warn().Err(err).Msg("failed to install mysql driver logger")
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
