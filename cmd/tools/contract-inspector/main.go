// cmd/tools/contract-inspector/main.go
//
// contract-inspector checks company agent documents offline: it compiles the
// booking contract, grades runtime truth and validates documents against the
// schema. Exit status is non-zero when a check fails, for use in CI.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "contract-inspector",
		Short:        "Inspect company agent documents",
		SilenceUsage: true,
	}
	root.AddCommand(newCompileCmd(), newReportCmd(), newValidateCmd())
	return root
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
