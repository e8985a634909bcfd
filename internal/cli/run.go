package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/logging"
	"github.com/pulsewatch/pulsewatch/internal/monitor"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch session logs and stream activity to the hub",
	Long:  "Configuration comes from PULSEMON_* environment variables; PULSEMON_HUB_URL is required. Run 'pulsemon init' first to create a signing key.",
	RunE:  runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadMonitor()
	if err != nil {
		return err
	}

	log, err := logging.New(verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	m, err := monitor.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := m.Run(ctx); err != nil {
		return err
	}
	log.Info("monitor stopped", zap.Int("undelivered", m.Queued()))
	return nil
}
