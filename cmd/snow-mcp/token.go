// ABOUTME: Offline token administration: issue, validate, refresh, inspect, revoke
// ABOUTME: Uses the configured signing secret and ledger directly, no running server needed

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/snow-mcp/internal/auth"
	"github.com/2389/snow-mcp/internal/secrets"
	"github.com/2389/snow-mcp/internal/store"
)

const tokenUsage = "usage: token issue --user <name> [--instance <url>] | token validate|refresh|inspect|revoke <token> | token list [--user <name>] [--active] | token prune"

func runToken(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(tokenUsage)
	}
	subcmd, args := args[0], args[1:]

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.secretSource == secrets.SourceGenerated {
		return errors.New("no JWT secret configured: tokens signed with a throwaway secret are useless to the server (set auth.jwt_secret, auth.jwt_secret_ref or JWT_SECRET_KEY)")
	}

	return tokenCommand(ctx, a, subcmd, args, os.Stdout)
}

func tokenCommand(ctx context.Context, a *app, subcmd string, args []string, out io.Writer) error {
	switch subcmd {
	case "issue":
		return cmdTokenIssue(ctx, a, args, out)
	case "validate":
		return withTokenArg(args, func(token string) error { return cmdTokenValidate(ctx, a, token, out) })
	case "refresh":
		return withTokenArg(args, func(token string) error { return cmdTokenRefresh(ctx, a, token, out) })
	case "inspect":
		return withTokenArg(args, func(token string) error { return cmdTokenInspect(a, token, out) })
	case "revoke":
		return withTokenArg(args, func(token string) error { return cmdTokenRevoke(ctx, a, token, out) })
	case "list":
		return cmdTokenList(ctx, a, args, out)
	case "prune":
		return cmdTokenPrune(ctx, a, out)
	default:
		return errors.New(tokenUsage)
	}
}

func withTokenArg(args []string, fn func(string) error) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return errors.New(tokenUsage)
	}
	return fn(strings.TrimSpace(args[0]))
}

// cmdTokenIssue issues a new access/refresh pair
func cmdTokenIssue(ctx context.Context, a *app, args []string, out io.Writer) error {
	var user, instance string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--user" || arg == "-u":
			if i+1 >= len(args) {
				return fmt.Errorf("--user requires a value")
			}
			user = args[i+1]
			i++
		case strings.HasPrefix(arg, "--user="):
			user = strings.TrimPrefix(arg, "--user=")
		case arg == "--instance":
			if i+1 >= len(args) {
				return fmt.Errorf("--instance requires a value")
			}
			instance = args[i+1]
			i++
		case strings.HasPrefix(arg, "--instance="):
			instance = strings.TrimPrefix(arg, "--instance=")
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	user = strings.TrimSpace(user)
	if user == "" {
		return errors.New("--user flag is required")
	}
	if instance == "" {
		instance = a.cfg.ServiceNow.InstanceURL
	}
	if instance == "" {
		return errors.New("ServiceNow instance URL is required (--instance or servicenow.instance_url)")
	}

	pair, err := a.tokens.IssueInitial(ctx, auth.UserInfo{
		Username:    user,
		InstanceURL: strings.TrimRight(instance, "/"),
		ClientID:    a.cfg.ServiceNow.ClientID,
	})
	if err != nil {
		return fmt.Errorf("issuing tokens: %w", err)
	}

	printPair(out, "Tokens issued", pair, a.tokens)
	return nil
}

func cmdTokenValidate(ctx context.Context, a *app, token string, out io.Writer) error {
	claims, err := a.tokens.Validate(ctx, token)
	if err != nil {
		return fmt.Errorf("token is not valid: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintln(out, "  Token is valid")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Subject:   %s\n", claims.Subject)
	fmt.Fprintf(out, "  Type:      %s\n", claims.Type)
	fmt.Fprintf(out, "  Instance:  %s\n", claims.InstanceURL)
	fmt.Fprintf(out, "  Token ID:  %s\n", claims.ID)
	if claims.ExpiresAt != nil {
		fmt.Fprintf(out, "  Expires:   %s\n", claims.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func cmdTokenRefresh(ctx context.Context, a *app, token string, out io.Writer) error {
	pair, err := a.tokens.Refresh(ctx, token)
	if err != nil {
		return fmt.Errorf("refreshing token: %w", err)
	}
	printPair(out, "Tokens refreshed", pair, a.tokens)
	return nil
}

func cmdTokenInspect(a *app, token string, out io.Writer) error {
	info, err := a.tokens.Inspect(token)
	if err != nil {
		return fmt.Errorf("inspecting token: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func cmdTokenRevoke(ctx context.Context, a *app, token string, out io.Writer) error {
	if !a.tokens.HasLedger() {
		return errors.New("revocation needs a database (set database.path or SNOW_MCP_DB_PATH)")
	}
	jti, err := a.tokens.Revoke(ctx, token)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	color.New(color.FgGreen).Fprintf(out, "  Token %s revoked\n", jti)
	return nil
}

func cmdTokenList(ctx context.Context, a *app, args []string, out io.Writer) error {
	if a.store == nil {
		return errors.New("token ledger needs a database (set database.path or SNOW_MCP_DB_PATH)")
	}

	var filter store.TokenFilter
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--user", "-u":
			if i+1 >= len(args) {
				return fmt.Errorf("--user requires a value")
			}
			user := args[i+1]
			filter.Subject = &user
			i++
		case "--active":
			filter.ActiveOnly = true
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	tokens, err := a.store.ListTokens(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing tokens: %w", err)
	}
	if len(tokens) == 0 {
		fmt.Fprintln(out, "  No tokens issued")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tSUBJECT\tTYPE\tSTATUS\tISSUED\tEXPIRES")
	fmt.Fprintln(w, "  --\t-------\t----\t------\t------\t-------")
	for _, t := range tokens {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			truncate(t.JTI, 12),
			truncate(t.Subject, 24),
			t.TokenType,
			tokenStatus(&t, now),
			t.IssuedAt.Local().Format("Jan 02 15:04"),
			t.ExpiresAt.Local().Format("Jan 02 15:04"),
		)
	}
	return w.Flush()
}

func tokenStatus(t *store.IssuedToken, now time.Time) string {
	switch {
	case t.RevokedAt != nil:
		return "revoked"
	case t.ReplacedBy != "":
		return "rotated"
	case !now.Before(t.ExpiresAt):
		return "expired"
	default:
		return "active"
	}
}

func cmdTokenPrune(ctx context.Context, a *app, out io.Writer) error {
	if a.store == nil {
		return errors.New("token ledger needs a database (set database.path or SNOW_MCP_DB_PATH)")
	}
	n, err := a.store.DeleteExpiredTokens(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("pruning tokens: %w", err)
	}
	fmt.Fprintf(out, "  Removed %d expired token(s)\n", n)
	return nil
}

func printPair(out io.Writer, title string, pair *auth.TokenPair, m *auth.TokenManager) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	fmt.Fprintln(out)
	green.Fprintln(out, "  "+title)
	fmt.Fprintln(out)
	cyan.Fprintf(out, "  Access token (expires in %s):\n", m.AccessTTL())
	fmt.Fprintln(out, "  "+pair.AccessToken)
	fmt.Fprintln(out)
	cyan.Fprintf(out, "  Refresh token (expires in %s):\n", m.RefreshTTL())
	fmt.Fprintln(out, "  "+pair.RefreshToken)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Use as: Authorization: Bearer <access token>")
	fmt.Fprintln(out)
}
