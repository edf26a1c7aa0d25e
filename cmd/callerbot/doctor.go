package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"callerbot/internal/audit"
	"callerbot/internal/config"

	"github.com/nyaruka/phonenumbers"
	"github.com/spf13/cobra"
)

// checkResult is the outcome of one doctor check.
type checkResult int

const (
	checkPass checkResult = iota
	checkWarn
	checkFail
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your callerbot setup",
		Long: `Verifies that the configuration, credentials, audit database and
lookup endpoint are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := resolveConfigPath()
			fmt.Fprintf(out, "callerbot doctor v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var passed, warned, failed int
			tally := func(r checkResult) {
				switch r {
				case checkPass:
					passed++
				case checkWarn:
					warned++
				default:
					failed++
				}
			}

			// 1. Config file
			if _, err := os.Stat(cfgPath); err != nil {
				tally(report(out, checkWarn, "Config file", fmt.Sprintf("not found at %s, using environment only", cfgPath)))
			} else {
				tally(report(out, checkPass, "Config file", cfgPath))
			}

			// 2. Config loads and validates
			cfg, _, err := config.LoadOrEnv(cfgPath)
			if err != nil {
				tally(report(out, checkFail, "Config validation", err.Error()))
				fmt.Fprintf(out, "\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("config is invalid")
			}
			tally(report(out, checkPass, "Config validation", "valid"))

			// 3. Credentials
			if err := config.RequireCredentials(cfg, true); err != nil {
				tally(report(out, checkFail, "Credentials", err.Error()))
			} else {
				tally(report(out, checkPass, "Credentials", "BOT_TOKEN and IID set"))
			}

			// 4. Region hint
			if code := phonenumbers.GetCountryCodeForRegion(cfg.Lookup.Region); code == 0 {
				tally(report(out, checkFail, "Region", fmt.Sprintf("%s is not a known region", cfg.Lookup.Region)))
			} else {
				tally(report(out, checkPass, "Region", fmt.Sprintf("%s (+%d)", cfg.Lookup.Region, code)))
			}

			// 5. Lookup endpoint resolves
			if err := checkEndpoint(cmd.Context(), cfg.Lookup.Endpoint); err != nil {
				tally(report(out, checkWarn, "Lookup endpoint", err.Error()))
			} else {
				tally(report(out, checkPass, "Lookup endpoint", cfg.Lookup.Endpoint))
			}

			// 6. Audit database writable
			if cfg.Audit.Enabled {
				if err := checkDatabase(cfg.Audit.DBPath); err != nil {
					tally(report(out, checkFail, "Audit database", err.Error()))
				} else {
					tally(report(out, checkPass, "Audit database", cfg.Audit.DBPath))
				}
			}

			// 7. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					tally(report(out, checkWarn, "Metrics addr", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err)))
				} else {
					tally(report(out, checkPass, "Metrics addr", cfg.Metrics.Addr+" available"))
				}
			}

			// 8. Log file writable
			if cfg.Log.File != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
					tally(report(out, checkWarn, "Log file", fmt.Sprintf("cannot create log directory: %v", err)))
				} else {
					tally(report(out, checkPass, "Log file", cfg.Log.File))
				}
			}

			fmt.Fprintf(out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Fprintf(out, "\nPlease fix the failed checks before running callerbot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			fmt.Fprintf(out, "\nAll required checks passed.\n")
			return nil
		},
	}
}

func checkEndpoint(ctx context.Context, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("invalid endpoint %q", endpoint)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := net.DefaultResolver.LookupHost(ctx, u.Hostname()); err != nil {
		return fmt.Errorf("cannot resolve %s: %w", u.Hostname(), err)
	}
	return nil
}

func checkDatabase(dbPath string) error {
	store, err := audit.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := store.RecentFailures(ctx, 1); err != nil {
		return fmt.Errorf("not readable: %w", err)
	}
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

func report(w io.Writer, r checkResult, check, detail string) checkResult {
	label := map[checkResult]string{checkPass: "PASS", checkWarn: "WARN", checkFail: "FAIL"}[r]
	fmt.Fprintf(w, "  [%s] %-20s %s\n", label, check, detail)
	return r
}
