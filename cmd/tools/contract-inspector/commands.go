// cmd/tools/contract-inspector/commands.go
package main

import (
	"fmt"
	"sort"
	"strings"

	"agent-engine/internal/agent/booking"
	"agent-engine/internal/agent/companyconfig"
	"agent-engine/internal/agent/runtimetruth"
	"agent-engine/internal/models"
	"agent-engine/pkg/registry"

	"github.com/spf13/cobra"
)

// =============================================================================
// COMPILE
// =============================================================================

func newCompileCmd() *cobra.Command {
	var flags []string
	var strict bool

	cmd := &cobra.Command{
		Use:   "compile <document>",
		Short: "Compile the booking contract for a set of branch flags",
		Long: `Compiles the slot library and slot groups of one document and prints the
preview. Flags are given as --flag residential or --flag afterHours=false.
With --strict the command fails unless the preview is clean.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := registry.LoadDocument(args[0])
			if err != nil {
				return err
			}
			set, err := parseFlags(flags)
			if err != nil {
				return err
			}

			preview := booking.CompileConfig(cfg, set)
			source, fallback := booking.SelectSource(cfg, preview)
			out := struct {
				CompanyID     string                 `json:"companyId"`
				Flags         map[string]bool        `json:"flags"`
				RelevantFlags []string               `json:"relevantFlags"`
				BookingSource models.BookingSource   `json:"bookingSource"`
				Fallback      string                 `json:"fallbackReason,omitempty"`
				Preview       models.CompiledPreview `json:"preview"`
			}{
				CompanyID:     cfg.CompanyID,
				Flags:         set,
				RelevantFlags: booking.RelevantFlags(cfg),
				BookingSource: source,
				Fallback:      fallback,
				Preview:       preview,
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if strict && !preview.Clean() {
				return fmt.Errorf("booking contract is %s (missing refs: %s)",
					preview.Status, strings.Join(preview.MissingSlotRefs, ","))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&flags, "flag", nil, "branch flag, name or name=true|false (repeatable)")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail unless the preview is clean")
	return cmd
}

func parseFlags(raw []string) (map[string]bool, error) {
	set := make(map[string]bool, len(raw))
	for _, f := range raw {
		name, value, hasValue := strings.Cut(f, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty flag name in %q", f)
		}
		if !hasValue {
			set[name] = true
			continue
		}
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes":
			set[name] = true
		case "false", "0", "no":
			set[name] = false
		default:
			return nil, fmt.Errorf("flag %s: %q is not a boolean", name, value)
		}
	}
	return set, nil
}

// =============================================================================
// REPORT
// =============================================================================

func newReportCmd() *cobra.Command {
	var failOn string

	cmd := &cobra.Command{
		Use:   "report <document>",
		Short: "Grade a document the way the runtime truth endpoint would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := registry.LoadDocument(args[0])
			if err != nil {
				return err
			}
			health := runtimetruth.Evaluate(companyconfig.NewSnapshot(cfg, 0))
			if err := printJSON(cmd.OutOrStdout(), health); err != nil {
				return err
			}
			return checkGrade(health.Grade, failOn)
		},
	}
	cmd.Flags().StringVar(&failOn, "fail-on", "red", "lowest grade that fails the command: red, yellow or none")
	return cmd
}

func checkGrade(grade models.HealthGrade, failOn string) error {
	switch strings.ToLower(failOn) {
	case "none":
		return nil
	case "yellow":
		if grade != models.HealthGreen {
			return fmt.Errorf("runtime truth is %s", grade)
		}
	case "red":
		if grade == models.HealthRed {
			return fmt.Errorf("runtime truth is %s", grade)
		}
	default:
		return fmt.Errorf("unknown --fail-on value %q", failOn)
	}
	return nil
}

// =============================================================================
// VALIDATE
// =============================================================================

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <document>...",
		Short: "Validate documents against the company document schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var failed []string
			for _, path := range args {
				cfg, err := registry.LoadDocument(path)
				if err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					failed = append(failed, path)
					continue
				}
				fmt.Fprintf(out, "OK   %s (company %s, %d scenarios)\n", path, cfg.CompanyID, len(cfg.QAEntries))
			}
			if len(failed) > 0 {
				sort.Strings(failed)
				return fmt.Errorf("%d of %d documents invalid: %s", len(failed), len(args), strings.Join(failed, ", "))
			}
			return nil
		},
	}
}
