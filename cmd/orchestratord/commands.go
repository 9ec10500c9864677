package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cfgfeatures "github.com/taskmesh/orchestrator/internal/config"
)

func newServeCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Start the HTTP front-end and run until interrupted",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd, *configPath)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			return runServe(s)
		},
	}
	addServeFlags(cmd)
	return cmd
}

func newConfigCommand(configPath *string) *cobra.Command {
	configCmd := &cobra.Command{Use: "config", Short: "Configuration utilities"}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd, *configPath)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			fmt.Printf("config ok: http=%s:%d inference=%s data_dir=%s\n", s.HTTPHost, s.HTTPPort, s.InferenceHost, s.DataDir)
			return nil
		},
	}
	addServeFlags(validate)
	configCmd.AddCommand(validate)
	return configCmd
}

func runServe(s *settings) error {
	a, err := buildApp(s)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("initialize: %w", err)}
	}
	defer a.shutdown()

	addr := fmt.Sprintf("%s:%d", s.HTTPHost, s.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("bind %s: %w", addr, err)}
	}

	httpServer := &http.Server{Handler: a.server.Mux()}

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfgfeatures.MetricsPort(9090))
		a.logger.Info("metrics server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, metricsMux); err != nil {
			a.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", addr))
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return &exitError{code: 1, err: err}
		}
	case <-ctx.Done():
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown failed", zap.Error(err))
		}
		return &exitError{code: 130, err: errors.New("interrupted")}
	}
	return nil
}
