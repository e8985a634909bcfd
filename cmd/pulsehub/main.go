// pulsehub receives signed activity batches from pulsemon instances,
// authenticates and rate-limits them, and fans the events out to
// WebSocket subscribers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/internal/archive"
	"github.com/pulsewatch/pulsewatch/internal/audit"
	"github.com/pulsewatch/pulsewatch/internal/broadcast"
	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/hubserver"
	"github.com/pulsewatch/pulsewatch/internal/keyreg"
	"github.com/pulsewatch/pulsewatch/internal/logging"
	"github.com/pulsewatch/pulsewatch/internal/ratelimit"
	"github.com/pulsewatch/pulsewatch/internal/sign"
	"github.com/pulsewatch/pulsewatch/internal/verify"
)

const version = "0.3.0"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "pulsehub",
	Short: "Activity telemetry hub",
	Long:  "Accepts signed event batches from pulsemon monitors and broadcasts them to filtered WebSocket subscribers.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub server",
	Long:  "Configuration comes from PULSEHUB_* environment variables. A sources file or URL and a subscriber token are required unless PULSEHUB_NO_AUTH is set.",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pulsehub %s\n", version)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Rejection log operations",
	Long:  "Commands for inspecting the hash-chained rejection log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of a rejection log",
	Long:  "Walks the JSONL rejection log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditVerify,
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(serveCmd, versionCmd, auditCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(args[0])
	if result.Valid {
		fmt.Printf("OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadHub()
	if err != nil {
		return err
	}

	log, err := logging.New(verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var verifier *verify.Verifier
	if cfg.NoAuth {
		log.Warn("AUTHENTICATION DISABLED: accepting unsigned submissions and unauthenticated subscribers; never run like this outside a closed network")
	} else {
		var loader keyreg.Loader
		if cfg.SourcesFile != "" {
			loader = keyreg.FileLoader{Path: cfg.SourcesFile}
		} else {
			loader = keyreg.HTTPLoader{URL: cfg.SourcesURL}
		}
		registry := keyreg.New(loader, cfg.RefreshInterval, log)
		if err := registry.Start(ctx); err != nil {
			return err
		}
		log.Info("key registry loaded", zap.Int("sources", registry.Len()))
		verifier = verify.New(registry, sign.Verify)
	}

	var store *archive.Archive
	if cfg.ArchivePath != "" {
		store, err = archive.Open(cfg.ArchivePath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	var rejects *audit.Log
	if cfg.AuditLogPath != "" {
		rejects, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			return err
		}
		defer rejects.Close()
	}

	engine := broadcast.New(log)
	limiter := ratelimit.New(cfg.SourceRate, cfg.GlobalRate)

	srv := hubserver.New(cfg, verifier, limiter, engine, store, rejects, log)
	return srv.Run(ctx)
}
