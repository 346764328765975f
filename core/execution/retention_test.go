package execution_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/odpf/datajobs/core/execution"
)

func TestSelectForRetention(t *testing.T) {
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	ttl := 14 * 24 * time.Hour

	finishedAt := func(id string, status execution.Status, end time.Time) *execution.Execution {
		return &execution.Execution{ID: id, JobName: "job", Status: status, EndTime: &end}
	}

	t.Run("keeps only the most recent executions over the count budget", func(t *testing.T) {
		var executions []*execution.Execution
		for i := 0; i < 150; i++ {
			end := now.Add(-time.Duration(150-i) * time.Minute)
			executions = append(executions, finishedAt(fmt.Sprintf("job-%03d", i), execution.StatusSucceeded, end))
		}
		// selection does not rely on the input order
		executions[0], executions[149] = executions[149], executions[0]

		ids := execution.SelectForRetention(executions, 100, ttl, now)

		assert.Len(t, ids, 50)
		for i := 0; i < 50; i++ {
			assert.Contains(t, ids, fmt.Sprintf("job-%03d", i))
		}
		assert.NotContains(t, ids, "job-050")
		assert.NotContains(t, ids, "job-149")
	})
	t.Run("removes executions older than ttl even within the count budget", func(t *testing.T) {
		executions := []*execution.Execution{
			finishedAt("job-old", execution.StatusUserError, now.Add(-ttl-time.Hour)),
			finishedAt("job-new", execution.StatusSucceeded, now.Add(-time.Hour)),
		}

		ids := execution.SelectForRetention(executions, 100, ttl, now)

		assert.Equal(t, []string{"job-old"}, ids)
	})
	t.Run("never selects active executions", func(t *testing.T) {
		start := now.Add(-60 * 24 * time.Hour)
		executions := []*execution.Execution{
			{ID: "job-running", Status: execution.StatusRunning, StartTime: &start},
			{ID: "job-submitted", Status: execution.StatusSubmitted, StartTime: &start},
			finishedAt("job-done", execution.StatusCancelled, now.Add(-ttl-time.Hour)),
		}

		ids := execution.SelectForRetention(executions, 0, ttl, now)

		assert.Equal(t, []string{"job-done"}, ids)
	})
	t.Run("returns nothing when within budget and ttl", func(t *testing.T) {
		executions := []*execution.Execution{
			finishedAt("job-1", execution.StatusSucceeded, now.Add(-time.Hour)),
		}

		assert.Empty(t, execution.SelectForRetention(executions, 100, ttl, now))
	})
}
