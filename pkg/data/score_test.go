package data

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTestRun(t *testing.T, db *sql.DB, id string, createdAt time.Time) {
	t.Helper()
	run := &ScoreRun{
		ID:        id,
		CreatedAt: createdAt,
		Wallets:   3,
		Config:    `{"seed":42}`,
	}
	rows := []ScoreRow{
		{RunID: id, Wallet: "0xaaa", Raw: 700, Score: 950, Tier: "Excellent"},
		{RunID: id, Wallet: "0xbbb", Raw: 500, Score: 500, Tier: "Poor"},
		{RunID: id, Wallet: "0xccc", Raw: 300, Score: 50, Tier: "Unacceptable"},
	}
	require.NoError(t, SaveScoreRun(db, run, rows))
}

func TestSaveScoreRun(t *testing.T) {
	db := setupTestDB(t)
	created := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	seedTestRun(t, db, "run-1", created)

	run, err := GetRun(db, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, 3, run.Wallets)
	assert.Equal(t, created, run.CreatedAt)
}

func TestSaveScoreRun_Validation(t *testing.T) {
	db := setupTestDB(t)

	err := SaveScoreRun(db, nil, []ScoreRow{{Wallet: "0xaaa"}})
	assert.Error(t, err)

	err = SaveScoreRun(db, &ScoreRun{ID: "run-x"}, nil)
	assert.Error(t, err)

	err = SaveScoreRun(nil, &ScoreRun{ID: "run-x"}, []ScoreRow{{Wallet: "0xaaa"}})
	assert.Error(t, err)
}

func TestSaveScoreRun_DuplicateID(t *testing.T) {
	db := setupTestDB(t)
	created := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	seedTestRun(t, db, "run-1", created)

	err := SaveScoreRun(db, &ScoreRun{ID: "run-1", CreatedAt: created, Wallets: 1},
		[]ScoreRow{{Wallet: "0xaaa", Score: 100, Tier: "Unacceptable"}})
	assert.Error(t, err)
}

func TestGetRuns_NewestFirst(t *testing.T) {
	db := setupTestDB(t)
	seedTestRun(t, db, "run-1", time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	seedTestRun(t, db, "run-2", time.Date(2025, 7, 2, 12, 0, 0, 0, time.UTC))

	runs, err := GetRuns(db, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)
}

func TestGetRun_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := GetRun(db, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestGetLatestRunID(t *testing.T) {
	db := setupTestDB(t)

	_, err := GetLatestRunID(db)
	assert.ErrorIs(t, err, ErrRunNotFound)

	seedTestRun(t, db, "run-1", time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	seedTestRun(t, db, "run-2", time.Date(2025, 7, 2, 12, 0, 0, 0, time.UTC))

	id, err := GetLatestRunID(db)
	require.NoError(t, err)
	assert.Equal(t, "run-2", id)
}

func TestGetRunScores_HighestFirst(t *testing.T) {
	db := setupTestDB(t)
	seedTestRun(t, db, "run-1", time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))

	scores, err := GetRunScores(db, "run-1", 10)
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Equal(t, "0xaaa", scores[0].Wallet)
	assert.Equal(t, "0xccc", scores[2].Wallet)
}

func TestGetRunScores_Limit(t *testing.T) {
	db := setupTestDB(t)
	seedTestRun(t, db, "run-1", time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))

	scores, err := GetRunScores(db, "run-1", 1)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, "0xaaa", scores[0].Wallet)
}

func TestGetWalletScore_LatestRun(t *testing.T) {
	db := setupTestDB(t)
	seedTestRun(t, db, "run-1", time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))

	run2 := &ScoreRun{ID: "run-2", CreatedAt: time.Date(2025, 7, 2, 12, 0, 0, 0, time.UTC), Wallets: 1}
	require.NoError(t, SaveScoreRun(db, run2, []ScoreRow{
		{RunID: "run-2", Wallet: "0xaaa", Raw: 600, Score: 800, Tier: "Very Good"},
	}))

	s, err := GetWalletScore(db, "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, "run-2", s.RunID)
	assert.Equal(t, 800.0, s.Score)
	assert.Equal(t, "Very Good", s.Tier)
	assert.Equal(t, run2.CreatedAt, s.ScoredAt)
}

func TestGetWalletScore_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := GetWalletScore(db, "0xmissing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestGetScoreDistribution(t *testing.T) {
	db := setupTestDB(t)
	seedTestRun(t, db, "run-1", time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))

	dist, err := GetScoreDistribution(db, "run-1")
	require.NoError(t, err)
	require.Len(t, dist, 10)

	assert.Equal(t, "0-99", dist[0].Range)
	assert.Equal(t, 1, dist[0].Wallets) // 50
	assert.Equal(t, 1, dist[5].Wallets) // 500
	assert.Equal(t, "900-999", dist[9].Range)
	assert.Equal(t, 1, dist[9].Wallets) // 950
	assert.Equal(t, 0, dist[3].Wallets)
}

func TestGetScoreDistribution_TopBucketIncludes1000(t *testing.T) {
	db := setupTestDB(t)
	run := &ScoreRun{ID: "run-max", CreatedAt: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC), Wallets: 1}
	require.NoError(t, SaveScoreRun(db, run, []ScoreRow{
		{RunID: "run-max", Wallet: "0xaaa", Raw: 900, Score: 1000, Tier: "Excellent"},
	}))

	dist, err := GetScoreDistribution(db, "run-max")
	require.NoError(t, err)
	assert.Equal(t, 1, dist[9].Wallets)
}

func TestGetTierDistribution(t *testing.T) {
	db := setupTestDB(t)
	seedTestRun(t, db, "run-1", time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))

	tiers, err := GetTierDistribution(db, "run-1")
	require.NoError(t, err)
	require.Len(t, tiers, 3)
	for _, tc := range tiers {
		assert.Equal(t, 1, tc.Wallets)
	}
}
