package doctor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/store"
)

func TestRunAllHealthy(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	runner := NewRunner(cfg, store.NewMemoryStore())

	diag := runner.RunAll(context.Background())
	assert.Equal(t, "healthy", diag.Status)
	assert.Empty(t, diag.Issues)

	names := make(map[string]string)
	for _, check := range diag.Checks {
		names[check.Name] = check.Status
	}
	assert.Equal(t, "pass", names["data_directory"])
	assert.Equal(t, "pass", names["store_write"])
	assert.Equal(t, "pass", names["store_read"])
	assert.Equal(t, "pass", names["store_delete"])
	assert.Equal(t, "pass", names["configuration"])
}

func TestRunAllReportsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.EpisodeThreshold = 0
	runner := NewRunner(cfg, store.NewMemoryStore())

	diag := runner.RunAll(context.Background())
	require.Equal(t, "issues_found", diag.Status)
	assert.NotEmpty(t, diag.Issues)
}
