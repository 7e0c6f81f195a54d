package data

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const postgresURLEnvVar = "DEFISCORE_TEST_POSTGRES_URL"

func TestExportRun_Validation(t *testing.T) {
	db := setupTestDB(t)

	_, err := ExportRun(db, "", "run-1")
	assert.Error(t, err)

	_, err = ExportRun(nil, "postgres://localhost/test", "run-1")
	assert.Error(t, err)

	_, err = ExportRun(db, "postgres://localhost/test", "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestExportRun(t *testing.T) {
	connStr := os.Getenv(postgresURLEnvVar)
	if connStr == "" {
		t.Skipf("%s not set, skipping", postgresURLEnvVar)
	}

	db := setupTestDB(t)
	seedTestRun(t, db, "run-1", time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))

	res, err := ExportRun(db, connStr, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 3, res.Exported)

	// idempotent
	res, err = ExportRun(db, connStr, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Exported)
}
