package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bluecarbon/registry/contract"
	"github.com/bluecarbon/registry/credit"
	"github.com/bluecarbon/registry/ledger/store"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "registry",
		Short:        "Blue carbon credit registry",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "TOML config file")
	root.PersistentFlags().String("driver", "", "ledger store: memory, sqlite or postgres")
	root.PersistentFlags().String("dsn", "", "SQLite path or PostgreSQL connection string")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newServeCmd(), newCallCmd("invoke"), newCallCmd("query"), newFunctionsCmd())
	return root
}

// newCallCmd builds "invoke" and "query". Both print the JSON result.
func newCallCmd(mode string) *cobra.Command {
	short := "Run a contract function and commit its writes"
	if mode == "query" {
		short = "Run a read-only contract function"
	}
	return &cobra.Command{
		Use:   mode + " FUNCTION [ARGS...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			run := a.contract.Invoke
			if mode == "query" {
				run = a.contract.Query
			}
			result, err := run(commandContext(cmd), args[0], args[1:])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}

func newFunctionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "functions",
		Short: "List dispatchable contract functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := contract.New(credit.NewRegistry(store.NewMemory()))

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FUNCTION\tMODE\tPARAMS")
			for _, fn := range c.Functions() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", fn.Name, fn.Mode, strings.Join(fn.Params, " "))
			}
			return w.Flush()
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
