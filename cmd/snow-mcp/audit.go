// ABOUTME: Reads the tool-call audit log and per-tool statistics from sqlite
// ABOUTME: Prints tabular output for `snow-mcp audit`

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/snow-mcp/internal/store"
)

type auditOptions struct {
	limit       int
	stats       bool
	tool        string
	subject     string
	failureOnly bool
	since       time.Duration
}

func parseAuditArgs(args []string) (auditOptions, error) {
	opts := auditOptions{limit: 20}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		next := func() (string, error) {
			if i+1 >= len(args) {
				return "", fmt.Errorf("%s requires a value", arg)
			}
			i++
			return args[i], nil
		}

		switch arg {
		case "--limit", "-n":
			v, err := next()
			if err != nil {
				return opts, err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return opts, fmt.Errorf("invalid limit: %q", v)
			}
			opts.limit = n
		case "--stats":
			opts.stats = true
		case "--tool":
			v, err := next()
			if err != nil {
				return opts, err
			}
			opts.tool = v
		case "--subject":
			v, err := next()
			if err != nil {
				return opts, err
			}
			opts.subject = v
		case "--failures":
			opts.failureOnly = true
		case "--since":
			v, err := next()
			if err != nil {
				return opts, err
			}
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return opts, fmt.Errorf("invalid duration for --since: %q", v)
			}
			opts.since = d
		default:
			return opts, fmt.Errorf("unknown flag: %s", arg)
		}
	}
	return opts, nil
}

func runAudit(ctx context.Context, args []string) error {
	opts, err := parseAuditArgs(args)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Path == "" {
		return errors.New("audit log needs a database (set database.path or SNOW_MCP_DB_PATH)")
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	if opts.stats {
		return printToolStats(ctx, s, opts, time.Now(), os.Stdout)
	}
	return printAuditLog(ctx, s, opts, time.Now(), os.Stdout)
}

func printAuditLog(ctx context.Context, s store.AuditStore, opts auditOptions, now time.Time, out io.Writer) error {
	filter := store.AuditFilter{Limit: opts.limit, FailureOnly: opts.failureOnly}
	if opts.tool != "" {
		filter.Tool = &opts.tool
	}
	if opts.subject != "" {
		filter.Subject = &opts.subject
	}
	if opts.since > 0 {
		since := now.Add(-opts.since)
		filter.Since = &since
	}

	entries, err := s.ListAuditLog(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing audit log: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "  No tool calls recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tTOOL\tSUBJECT\tRESULT\tDURATION\tERROR")
	fmt.Fprintln(w, "  ----\t----\t-------\t------\t--------\t-----")
	for _, e := range entries {
		result := color.GreenString("ok")
		if !e.Success {
			result = color.RedString("failed")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%dms\t%s\n",
			e.Timestamp.Local().Format("Jan 02 15:04:05"),
			e.Tool,
			valueOr(e.Subject, "-"),
			result,
			e.DurationMS,
			truncate(e.Error, 48),
		)
	}
	return w.Flush()
}

func printToolStats(ctx context.Context, s store.AuditStore, opts auditOptions, now time.Time, out io.Writer) error {
	var filter store.StatsFilter
	if opts.since > 0 {
		since := now.Add(-opts.since)
		filter.Since = &since
	}

	stats, err := s.GetToolStats(ctx, filter)
	if err != nil {
		return fmt.Errorf("computing tool stats: %w", err)
	}
	if len(stats) == 0 {
		fmt.Fprintln(out, "  No tool calls recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TOOL\tCALLS\tFAILURES\tAVG\tLAST CALL")
	fmt.Fprintln(w, "  ----\t-----\t--------\t---\t---------")
	for _, st := range stats {
		fmt.Fprintf(w, "  %s\t%d\t%d\t%.0fms\t%s\n",
			st.Tool,
			st.Calls,
			st.Failures,
			st.AvgDurationMS,
			st.LastCalledAt.Local().Format("Jan 02 15:04"),
		)
	}
	return w.Flush()
}

// truncate shortens s to maxLen characters with "..." suffix if needed.
func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
