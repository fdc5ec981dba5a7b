package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"faqbot/internal/config"
	"faqbot/internal/conversation"
	"faqbot/internal/domain"
)

type doctorReport struct {
	w                      io.Writer
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.w, "  [PASS] %-20s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.w, "  [FAIL] %-20s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.w, "  [WARN] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your faqbot installation",
		Long: `Verifies that the configuration, FAQ dataset, conversation store and
web port are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "faqbot doctor v%s\n\n", version)
			r := &doctorReport{w: out}
			runDoctor(cmd.Context(), r, resolveConfigPath())

			fmt.Fprintf(out, "\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
}

func runDoctor(ctx context.Context, r *doctorReport, cfgPath string) {
	if ctx == nil {
		ctx = context.Background()
	}

	var cfg *config.Config
	if _, err := os.Stat(cfgPath); err != nil {
		r.warn("Config file", fmt.Sprintf("not found at %s, using defaults (run 'faqbot init')", cfgPath))
		cfg = config.Defaults()
	} else {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			r.fail("Config", err.Error())
			return
		}
		r.pass("Config", cfgPath)
		cfg = loaded
	}

	if holder, err := loadIndex(cfg.FAQ.DatasetPath, logger); err != nil {
		r.fail("FAQ dataset", err.Error())
	} else {
		idx := holder.Load()
		detail := fmt.Sprintf("%s: %d entries", datasetLabel(cfg.FAQ.DatasetPath), idx.Len())
		if idx.Dropped() > 0 {
			r.warn("FAQ dataset", fmt.Sprintf("%s, %d dropped (no content words)", detail, idx.Dropped()))
		} else {
			r.pass("FAQ dataset", detail)
		}
	}

	if err := checkStore(ctx, cfg); err != nil {
		r.fail("Conversation store", err.Error())
	} else {
		r.pass("Conversation store", cfg.Conversation.Driver)
	}

	if cfg.Channels.Web.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Channels.Web.Host, cfg.Channels.Web.Port)
		if err := checkPort(addr); err != nil {
			r.warn("Web port", fmt.Sprintf("%s may be in use: %v", addr, err))
		} else {
			r.pass("Web port", addr+" available")
		}
	}

	if cfg.Channels.Telegram.Enabled && len(cfg.Channels.Telegram.AllowFrom) == 0 {
		r.warn("Telegram", "enabled with an empty allowFrom list: anyone can chat")
	}

	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			r.pass("Log file", cfg.General.LogFile)
		}
	}
}

// checkStore round-trips a throwaway conversation through the configured
// driver.
func checkStore(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := storeOptions(cfg, logger)
	opts.PurgeInterval = -1
	store, err := conversation.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	id := "doctor-" + uuid.NewString()
	if err := store.Append(ctx, id, domain.RoleUser, "ping"); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	defer store.Delete(context.WithoutCancel(ctx), id)
	conv, err := store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if len(conv.Messages) != 1 {
		return fmt.Errorf("read back %d messages, want 1", len(conv.Messages))
	}
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
