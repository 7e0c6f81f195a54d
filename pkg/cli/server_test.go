package cli

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mchmarny/defiscore/pkg/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServerTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, data.Init(dbPath))
	db, err := data.GetDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	run := &data.ScoreRun{
		ID:        "run-1",
		CreatedAt: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
		Wallets:   2,
	}
	rows := []data.ScoreRow{
		{RunID: "run-1", Wallet: "0xaaa", Raw: 700, Score: 950, Tier: "Excellent"},
		{RunID: "run-1", Wallet: "0xbbb", Raw: 300, Score: 150, Tier: "Unacceptable"},
	}
	require.NoError(t, data.SaveScoreRun(db, run, rows))

	return db
}

func doGet(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServer_Runs(t *testing.T) {
	mux := makeRouter(setupServerTestDB(t))

	w := doGet(t, mux, "/runs")
	require.Equal(t, http.StatusOK, w.Code)

	var runs []data.ScoreRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
}

func TestServer_RunScores(t *testing.T) {
	mux := makeRouter(setupServerTestDB(t))

	w := doGet(t, mux, "/runs/run-1/scores")
	require.Equal(t, http.StatusOK, w.Code)

	var scores []data.ScoreRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scores))
	require.Len(t, scores, 2)
	assert.Equal(t, "0xaaa", scores[0].Wallet)
}

func TestServer_RunScores_LatestAlias(t *testing.T) {
	mux := makeRouter(setupServerTestDB(t))

	w := doGet(t, mux, "/runs/latest/scores")
	require.Equal(t, http.StatusOK, w.Code)

	var scores []data.ScoreRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scores))
	assert.Len(t, scores, 2)
}

func TestServer_RunScores_Limit(t *testing.T) {
	mux := makeRouter(setupServerTestDB(t))

	w := doGet(t, mux, "/runs/run-1/scores?limit=1")
	require.Equal(t, http.StatusOK, w.Code)

	var scores []data.ScoreRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scores))
	assert.Len(t, scores, 1)
}

func TestServer_Distribution(t *testing.T) {
	mux := makeRouter(setupServerTestDB(t))

	w := doGet(t, mux, "/runs/run-1/distribution")
	require.Equal(t, http.StatusOK, w.Code)

	var dist []data.ScoreBucket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dist))
	require.Len(t, dist, 10)
	assert.Equal(t, 1, dist[1].Wallets)
	assert.Equal(t, 1, dist[9].Wallets)
}

func TestServer_Tiers(t *testing.T) {
	mux := makeRouter(setupServerTestDB(t))

	w := doGet(t, mux, "/runs/run-1/tiers")
	require.Equal(t, http.StatusOK, w.Code)

	var tiers []data.TierBucket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tiers))
	assert.Len(t, tiers, 2)
}

func TestServer_WalletScore(t *testing.T) {
	mux := makeRouter(setupServerTestDB(t))

	w := doGet(t, mux, "/wallets/0xaaa")
	require.Equal(t, http.StatusOK, w.Code)

	var score data.WalletScore
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &score))
	assert.Equal(t, 950.0, score.Score)
	assert.Equal(t, "Excellent", score.Tier)
}

func TestServer_WalletScore_NotFound(t *testing.T) {
	mux := makeRouter(setupServerTestDB(t))

	w := doGet(t, mux, "/wallets/0xmissing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	mux := makeRouter(setupServerTestDB(t))

	// drive a request so the counters exist
	doGet(t, mux, "/runs")

	w := doGet(t, mux, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "defiscore_http_requests_total")
}
