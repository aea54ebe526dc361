package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/blacknred/mbroker/internal/brokererr"
	"github.com/blacknred/mbroker/internal/logging"
	"github.com/blacknred/mbroker/internal/tracing"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		httpAddr string
		topics   []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a topic registry behind the admin HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.SetLevelFromString(cfg.Observability.Logging.Level)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			ctx := context.Background()
			tc := cfg.Observability.Tracing
			if err := tracing.Init(ctx, tracing.Config{
				Enabled:     tc.Enabled,
				Exporter:    tc.Exporter,
				Endpoint:    tc.Endpoint,
				ServiceName: tc.ServiceName,
				SampleRate:  tc.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() { _ = tracing.Shutdown(context.Background()) }()

			reg, closeStore, err := newRegistry(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			defer reg.Close()

			for _, name := range topics {
				if _, err := reg.CreateTopic(name, cfg.DefaultTopic); err != nil {
					return fmt.Errorf("create topic %q: %w", name, err)
				}
				logging.Op().Info("topic created", "topic", name)
			}

			mux := newAdminMux(reg)
			srv := &http.Server{Addr: httpAddr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("admin API stopped", "error", err)
				}
			}()
			logging.Op().Info("mbroker admin API started", "addr", httpAddr)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "localhost:8089", "Admin API listen address")
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "Topic name to create at startup (repeatable)")
	return cmd
}

// writeErr maps a brokererr.Kind to an HTTP status and writes a JSON error
// body, mirroring the teacher's internal/api error-mapping helpers.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch brokererr.KindOf(err) {
	case brokererr.NotFound:
		status = http.StatusNotFound
	case brokererr.AlreadyExists:
		status = http.StatusConflict
	case brokererr.InvalidArgument, brokererr.ValidationFailure, brokererr.TypeMismatch:
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// pathSuffix strips prefix from r.URL.Path and reports whether it matched,
// used instead of pulling in a routing library for four small admin routes.
func pathSuffix(r *http.Request, prefix string) (string, bool) {
	p := r.URL.Path
	if !strings.HasPrefix(p, prefix) {
		return "", false
	}
	return strings.Trim(strings.TrimPrefix(p, prefix), "/"), true
}
