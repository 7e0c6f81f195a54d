package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mchmarny/defiscore/pkg/data"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

const (
	serverShutdownWaitSeconds = 5
	serverTimeoutSeconds      = 300
	serverMaxHeaderBytes      = 20
	serverPortDefault         = 8080
)

var (
	portFlag = &cli.IntFlag{
		Name:     "port",
		Usage:    "Port on which the server will listen",
		Value:    serverPortDefault,
		Required: false,
	}

	serverCmd = &cli.Command{
		Name:    "server",
		Aliases: []string{"serve"},
		Usage:   "Start local HTTP server exposing scores as JSON",
		Action:  cmdStartServer,
		Flags: []cli.Flag{
			portFlag,
			debugFlag,
		},
	}
)

func cmdStartServer(c *cli.Context) error {
	applyFlags(c)
	cfg := getConfig(c)
	port := c.Int(portFlag.Name)
	address := fmt.Sprintf("127.0.0.1:%d", port)

	setScoredWalletsGauge(cfg.DB)

	mux := makeRouter(cfg.DB)
	s := &http.Server{
		Addr:           address,
		Handler:        mux,
		ReadTimeout:    serverTimeoutSeconds * time.Second,
		WriteTimeout:   serverTimeoutSeconds * time.Second,
		MaxHeaderBytes: 1 << serverMaxHeaderBytes,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("error starting server", "error", err)
		}
	}()

	slog.Info("server started", "address", fmt.Sprintf("http://%s", address))

	<-done

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownWaitSeconds*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("error shutting down server", "error", err)
	}
	return nil
}

func setScoredWalletsGauge(db *sql.DB) {
	id, err := data.GetLatestRunID(db)
	if errors.Is(err, data.ErrRunNotFound) {
		return
	}
	if err != nil {
		slog.Warn("failed to resolve latest run for metrics", "error", err)
		return
	}
	run, err := data.GetRun(db, id)
	if err != nil {
		slog.Warn("failed to load latest run for metrics", "run", id, "error", err)
		return
	}
	scoredWallets.Set(float64(run.Wallets))
}

func makeRouter(db *sql.DB) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /runs", instrument("runs", runsHandler(db)))
	mux.HandleFunc("GET /runs/{id}/scores", instrument("run_scores", runScoresHandler(db)))
	mux.HandleFunc("GET /runs/{id}/distribution", instrument("run_distribution", runDistributionHandler(db)))
	mux.HandleFunc("GET /runs/{id}/tiers", instrument("run_tiers", runTiersHandler(db)))
	mux.HandleFunc("GET /wallets/{wallet}", instrument("wallet_score", walletScoreHandler(db)))

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseLimit(r *http.Request) int {
	limit := queryResultLimitDefault
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < queryResultLimitDefault {
			limit = n
		}
	}
	return limit
}

// resolveRunPathID maps the {id} path segment to a run ID; "latest" is an
// alias for the most recent run.
func resolveRunPathID(db *sql.DB, r *http.Request) (string, error) {
	id := r.PathValue("id")
	if id == "" || id == "latest" {
		return data.GetLatestRunID(db)
	}
	return id, nil
}

func runsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := data.GetRuns(db, parseLimit(r))
		if err != nil {
			slog.Error("failed to query runs", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to query runs")
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func runScoresHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := resolveRunPathID(db, r)
		if err != nil {
			writeRunError(w, err)
			return
		}
		scores, err := data.GetRunScores(db, id, parseLimit(r))
		if err != nil {
			slog.Error("failed to query scores", "run", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to query scores")
			return
		}
		writeJSON(w, http.StatusOK, scores)
	}
}

func runDistributionHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := resolveRunPathID(db, r)
		if err != nil {
			writeRunError(w, err)
			return
		}
		dist, err := data.GetScoreDistribution(db, id)
		if err != nil {
			slog.Error("failed to query distribution", "run", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to query distribution")
			return
		}
		writeJSON(w, http.StatusOK, dist)
	}
}

func runTiersHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := resolveRunPathID(db, r)
		if err != nil {
			writeRunError(w, err)
			return
		}
		tiers, err := data.GetTierDistribution(db, id)
		if err != nil {
			slog.Error("failed to query tiers", "run", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to query tiers")
			return
		}
		writeJSON(w, http.StatusOK, tiers)
	}
}

func walletScoreHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wallet := r.PathValue("wallet")
		score, err := data.GetWalletScore(db, wallet)
		if errors.Is(err, data.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("wallet %s has no score", wallet))
			return
		}
		if err != nil {
			slog.Error("failed to query wallet score", "wallet", wallet, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to query wallet score")
			return
		}
		writeJSON(w, http.StatusOK, score)
	}
}

func writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, data.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "score run not found")
		return
	}
	slog.Error("failed to resolve run", "error", err)
	writeError(w, http.StatusInternalServerError, "failed to resolve run")
}
