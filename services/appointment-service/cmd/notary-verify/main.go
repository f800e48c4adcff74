// Command notary-verify checks that notarized appointments still match
// the digest anchored on the ledger.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/md-rashed-zaman/pestledger/libs/config"
	"github.com/md-rashed-zaman/pestledger/libs/db"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/ledger"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/notary"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/storage"
)

type options struct {
	databaseURL string
	rpcURL      string
	ids         []string
	asJSON      bool
	timeout     time.Duration
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("notary-verify", pflag.ContinueOnError)
	fs.StringVar(&o.databaseURL, "database-url", config.String("DATABASE_URL", ""), "postgres url of the appointment store")
	fs.StringVar(&o.rpcURL, "rpc-url", config.String("LEDGER_RPC_URL", ""), "ethereum json-rpc endpoint")
	fs.StringSliceVar(&o.ids, "id", nil, "appointment id to verify (repeatable)")
	fs.BoolVar(&o.asJSON, "json", false, "print one json object per appointment")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.ids = append(o.ids, fs.Args()...)
	switch {
	case strings.TrimSpace(o.databaseURL) == "":
		return o, fmt.Errorf("--database-url or DATABASE_URL is required")
	case strings.TrimSpace(o.rpcURL) == "":
		return o, fmt.Errorf("--rpc-url or LEDGER_RPC_URL is required")
	case len(o.ids) == 0:
		return o, fmt.Errorf("at least one --id is required")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fatal(err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	pool, err := db.Open(ctx, opts.databaseURL, db.Options{MaxConns: 2})
	if err != nil {
		fatal(err.Error())
	}
	defer pool.Close()

	eth, closeEth, err := ledger.DialEthereum(ctx, ledger.EthereumConfig{RPCURL: opts.rpcURL})
	if err != nil {
		fatal(err.Error())
	}
	defer closeEth()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	conn := notary.New(storage.NewPostgres(pool), eth, notary.Config{}, nil, logger)

	if failed := run(ctx, conn, opts, os.Stdout); failed > 0 {
		os.Exit(1)
	}
}

type verifier interface {
	Verify(ctx context.Context, appointmentID string) (notary.Verification, error)
}

// run verifies every id and returns how many failed or mismatched.
func run(ctx context.Context, v verifier, opts options, out io.Writer) int {
	failed := 0
	enc := json.NewEncoder(out)
	for _, id := range opts.ids {
		res, err := v.Verify(ctx, id)
		if err != nil {
			failed++
			if opts.asJSON {
				_ = enc.Encode(map[string]any{"appointment_id": id, "error": err.Error()})
			} else {
				fmt.Fprintf(out, "%s\terror\t%v\n", id, err)
			}
			continue
		}
		if !res.Match {
			failed++
		}
		if opts.asJSON {
			_ = enc.Encode(res)
			continue
		}
		state := "ok"
		if !res.Match {
			state = "MISMATCH"
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", id, state, res.TxReference)
	}
	return failed
}

func fatal(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
