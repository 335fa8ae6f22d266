// Package sqlgatectl is the operator command line for the sqlgate API.
package sqlgatectl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type app struct {
	cfgFile string
	cfg     Config
	client  *Client
}

// Execute runs the command line and returns the process exit code: 0 on
// success, 1 on failure, 2 on usage errors.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			writeAPIError(stderr, apiErr)
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		var usage usageError
		if errors.As(err, &usage) || strings.HasPrefix(err.Error(), "unknown command") {
			return 2
		}
		return 1
	}
	return 0
}

func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "sqlgatectl",
		Short:         "Submit scripts to sqlgate and inspect their results",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := LoadConfig(a.cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return usageError{err}
			}
			a.cfg = cfg
			a.client = NewClient(cfg, nil)
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default ./"+DefaultConfigFile+")")
	flags.String("base-url", DefaultBaseURL, "sqlgate API base URL")
	flags.String("api-key", "", "API key for authenticated requests")
	flags.Duration("timeout", DefaultTimeout, "HTTP timeout")

	root.AddCommand(
		a.newJSONCommand("health", "Check API liveness", "/v1/health"),
		a.newJSONCommand("ready", "Check API readiness", "/v1/ready"),
		a.newSubmitCmd(),
		a.newRunsCmd(),
		newInspectCmd(),
	)
	return root
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func (a *app) newJSONCommand(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := a.client.GetJSON(cmd.Context(), path, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
}

func (a *app) newSubmitCmd() *cobra.Command {
	var caseNumber, scriptPath, outPath string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Run a script for a case and save the result archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(caseNumber) == "" {
				return usageError{errors.New("--case is required")}
			}
			runID, data, err := a.client.Submit(cmd.Context(), caseNumber, scriptPath)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = fmt.Sprintf("query_results_%s.zip", caseNumber)
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "run %s saved to %s\n", runID, outPath)
			summaries, _, err := Inspect(data)
			if err != nil {
				return err
			}
			return writeInspection(out, summaries)
		},
	}
	cmd.Flags().StringVar(&caseNumber, "case", "", "case number substituted into the script")
	cmd.Flags().StringVar(&scriptPath, "file", "", "script file (default: the server's default script)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "archive output path (default query_results_<case>.zip)")
	return cmd
}

func (a *app) newRunsCmd() *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Look up audited runs",
	}

	var caseNumber string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs of a case, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(caseNumber) == "" {
				return usageError{errors.New("--case is required")}
			}
			query := url.Values{"case_number": {caseNumber}}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			body, err := a.client.GetJSON(cmd.Context(), "/v1/runs", query)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	list.Flags().StringVar(&caseNumber, "case", "", "case number")
	list.Flags().IntVar(&limit, "limit", 0, "maximum number of runs")

	get := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one run with its statements and log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := a.client.GetJSON(cmd.Context(), "/v1/runs/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}

	var outPath string
	download := &cobra.Command{
		Use:   "archive <run-id>",
		Short: "Download the retained archive of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.client.DownloadArchive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			target := outPath
			if target == "" {
				target = "run-" + args[0] + ".zip"
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "archive saved to %s\n", target)
			return nil
		},
	}
	download.Flags().StringVarP(&outPath, "out", "o", "", "archive output path (default run-<id>.zip)")

	runs.AddCommand(list, get, download)
	return runs
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive.zip>",
		Short: "Summarize a local result archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read archive: %w", err)
			}
			summaries, log, err := Inspect(data)
			if err != nil {
				return err
			}
			if err := writeInspection(cmd.OutOrStdout(), summaries); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "\n%s", log)
			return err
		},
	}
}

func printJSON(w io.Writer, body []byte) error {
	if pretty, ok := prettyJSON(body); ok {
		_, err := fmt.Fprintln(w, pretty)
		return err
	}
	if len(body) > 0 {
		_, err := fmt.Fprintln(w, string(body))
		return err
	}
	return nil
}

func writeAPIError(w io.Writer, apiErr *APIError) {
	_, _ = fmt.Fprintf(w, "error: %v\n", apiErr)
	for _, entry := range apiErr.Log {
		_, _ = fmt.Fprintf(w, "  [%s] statement %d: %s\n", entry.Stage, entry.Statement, entry.Message)
	}
}
