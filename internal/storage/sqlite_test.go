package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/stride/internal/models"
)

func testStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "stride.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunRoundTrip(t *testing.T) {
	s := testStorage(t)

	run := &models.Run{UID: "abc-123", Query: "average pace", Status: models.RunStatusRunning}
	id, err := s.CreateRun(run)
	require.NoError(t, err)
	run.ID = id

	run.Response = "Your average pace is 8.0 min/mi."
	run.ChartPath = "/tmp/chart.png"
	run.DurationMS = 1234
	now := time.Now()
	run.CompletedAt = &now
	run.Status = models.RunStatusComplete
	require.NoError(t, err)
	require.NoError(t, s.UpdateRun(run))

	got, err := s.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, "average pace", got.Query)
	assert.Equal(t, models.RunStatusComplete, got.Status)
	assert.Equal(t, run.Response, got.Response)
	assert.Equal(t, "/tmp/chart.png", got.ChartPath)
	assert.Equal(t, int64(1234), got.DurationMS)
	assert.NotNil(t, got.CompletedAt)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := testStorage(t)

	for _, q := range []string{"first", "second", "third"} {
		_, err := s.CreateRun(&models.Run{UID: q, Query: q, Status: models.RunStatusComplete})
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", runs[0].Query)
	assert.Equal(t, "second", runs[1].Query)
}

func TestAttemptsForRun(t *testing.T) {
	s := testStorage(t)

	runID, err := s.CreateRun(&models.Run{UID: "u", Query: "q", Status: models.RunStatusRunning})
	require.NoError(t, err)

	_, err = s.CreateAttempt(&models.Attempt{
		RunID: runID, Branch: models.BranchData, AttemptNum: 1,
		Code: "result(", Reason: "parse error: unexpected EOF",
	})
	require.NoError(t, err)
	_, err = s.CreateAttempt(&models.Attempt{
		RunID: runID, Branch: models.BranchData, AttemptNum: 2,
		Code: "result(8.0)", Accepted: true,
	})
	require.NoError(t, err)

	attempts, err := s.GetAttemptsForRun(runID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].Accepted)
	assert.Contains(t, attempts[0].Reason, "parse error")
	assert.True(t, attempts[1].Accepted)
}

func TestDeleteRunRemovesAttempts(t *testing.T) {
	s := testStorage(t)

	runID, err := s.CreateRun(&models.Run{UID: "u", Query: "q", Status: models.RunStatusComplete})
	require.NoError(t, err)
	_, err = s.CreateAttempt(&models.Attempt{RunID: runID, Branch: models.BranchChart, AttemptNum: 1, Code: "c"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRun(runID))

	_, err = s.GetRun(runID)
	assert.Error(t, err)

	attempts, err := s.GetAttemptsForRun(runID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}
