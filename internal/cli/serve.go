package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CodingButter/team-dashboard-sub004/internal/api"
	"github.com/CodingButter/team-dashboard-sub004/internal/bus"
	"github.com/CodingButter/team-dashboard-sub004/pkg/logging"
)

// serveCmd runs the bus until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		logConfig := logging.Config{
			Level:  logging.ParseLevel(busConfig.Logging.Level),
			Format: busConfig.Logging.Format,
			Output: os.Stdout,
		}
		logger, err := logging.NewZapLogger(logConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		service, err := bus.New(busConfig, logger)
		if err != nil {
			return fmt.Errorf("failed to assemble bus: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := service.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := service.Stop(); err != nil {
				logger.Error("shutdown error", logging.Err(err))
			}
		}()

		if busConfig.Monitoring.MetricsEnabled {
			metricsSrv := api.NewMetricsServer(service, busConfig.Monitoring.MetricsPort)
			go func() {
				<-ctx.Done()
				_ = metricsSrv.Shutdown(context.Background())
			}()
			go func() {
				logger.Info("metrics listening", logging.Int("port", busConfig.Monitoring.MetricsPort))
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server error", logging.Err(err))
				}
			}()
		}

		server := api.NewServer(service, logger)
		return server.Run(ctx, busConfig.API.ListenAddress)
	},
}

// configCmd prints the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := json.MarshalIndent(busConfig, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}
