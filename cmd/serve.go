package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/attribution-cli/internal/attribution"
	"github.com/sells-group/attribution-cli/internal/store"
	"github.com/sells-group/attribution-cli/internal/views"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve runs and credits over a read-only HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if cfg.Monitoring.WebhookURL != "" {
			checker, _ := newChecker(st)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(st),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter wires the read-only API over st.
func buildRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		filter := store.RunFilter{
			Website: q.Get("website"),
			Status:  store.RunStatus(q.Get("status")),
		}
		var err error
		if filter.Date, err = queryDate(q.Get("date")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
			writeError(w, http.StatusBadRequest, "offset must be a positive integer")
			return
		}

		runs, err := st.ListRuns(req.Context(), filter)
		if err != nil {
			zap.L().Error("list runs failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		if runs == nil {
			runs = []store.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		run, err := st.GetRun(req.Context(), chi.URLParam(req, "id"))
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			zap.L().Error("get run failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "get run failed")
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	r.Get("/credits", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		filter := store.CreditFilter{
			Website:       q.Get("website"),
			TransactionID: q.Get("transaction_id"),
		}
		var err error
		if filter.Date, err = queryDate(q.Get("date")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}

		credits, err := st.ListCredits(req.Context(), filter)
		if err != nil {
			zap.L().Error("list credits failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list credits failed")
			return
		}
		if credits == nil {
			credits = []attribution.CreditRow{}
		}
		writeJSON(w, http.StatusOK, credits)
	})

	return r
}

func queryDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return views.ParseDate(raw)
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid integer %q", raw)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
