package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRecordAndFinish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer j.Close()

	require.NotEmpty(t, j.RunID())

	j.Record("TVA 3", "000000123", 0, StatusDone, "")
	j.Record("TVA 3", "000000456", 1, StatusSkipped, "delegation entry not reached after 3 attempts")

	var count int
	err = j.DB.QueryRow(`SELECT COUNT(*) FROM entities WHERE run_id = ?`, j.RunID()).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	var status, detail string
	err = j.DB.QueryRow(
		`SELECT status, detail FROM entities WHERE run_id = ? AND siren = ?`,
		j.RunID(), "000000456").Scan(&status, &detail)
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, status)
	require.Contains(t, detail, "3 attempts")

	j.FinishRun("completed")
	var outcome string
	err = j.DB.QueryRow(`SELECT outcome FROM runs WHERE id = ?`, j.RunID()).Scan(&outcome)
	require.NoError(t, err)
	require.Equal(t, "completed", outcome)
}

func TestEachOpenIsANewRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	first := j1.RunID()
	require.NoError(t, j1.Close())

	j2, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer j2.Close()
	require.NotEqual(t, first, j2.RunID())

	var runs int
	err = j2.DB.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&runs)
	require.NoError(t, err)
	require.Equal(t, 2, runs)
}
