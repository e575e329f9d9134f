package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealtrack/internal/config"
	"github.com/sells-group/dealtrack/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "deals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		AutoMerge:             true,
		MaxConcurrentMessages: 4,
		MaxConcurrentDeals:    4,
		RecordSubjects:        true,
	}
}
