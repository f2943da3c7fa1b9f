package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFiles_SortedAndEmbedded(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"0001_jobs.sql",
		"0002_artifacts.sql",
		"0003_task_queue.sql",
		"0004_analytics_events.sql",
	}, files)
	assert.Equal(t, "0001_jobs", versionOf(files[0]))
}
