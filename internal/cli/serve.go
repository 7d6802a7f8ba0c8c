package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/working-memory/internal/telemetry"
	"github.com/rcliao/working-memory/internal/workingmem"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reclamation loop and expose metrics",
		Long:  "Run the periodic sweep until interrupted and serve /metrics, /healthz and /pressure over HTTP. On SIGINT or SIGTERM the loop stops after a final expiry sweep.",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default: config metrics.addr)")
	cmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Max time to wait for the final sweep")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	a, err := openApp()
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.mgr.Start(ctx); err != nil {
		exitErr("start scheduler", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newServeMux(a.mgr),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	if err := a.mgr.Shutdown(shutdownCtx); err != nil {
		exitErr("shutdown", err)
	}
}

func newServeMux(mgr *workingmem.Manager) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/pressure", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		stats, err := mgr.PressureStats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})
	return mux
}
