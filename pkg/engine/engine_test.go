package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/tagdb/pkg/graph"
)

func testOptions(t *testing.T, backend string) Options {
	t.Helper()
	opts := DefaultOptions(t.TempDir())
	opts.Backend = backend
	opts.GCInterval = 0
	opts.AofRewritePercentage = 0
	return opts
}

func TestEngine_PersistsAcrossReopen(t *testing.T) {
	for _, backend := range []string{BackendBadger, BackendMemory} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			opts := testOptions(t, backend)

			// 1. Setup Engine and tag two items
			eng, err := Open(opts)
			require.NoError(t, err)
			require.NoError(t, eng.TagItem(ctx, "topic", "golang", "https://go.dev"))
			require.NoError(t, eng.TagItem(ctx, "topic", "golang", "www.golang.org"))
			require.NoError(t, eng.Close())
			require.NoError(t, eng.Close())

			// 2. Reopen and verify the graph survived
			eng, err = Open(opts)
			require.NoError(t, err)
			defer eng.Close()

			rows, err := eng.FindRelated(ctx, []string{"golang"})
			require.NoError(t, err)
			assert.ElementsMatch(t, []graph.Row{
				{Tag: "golang", Item: "https://go.dev", ItemType: graph.Http},
				{Tag: "golang", Item: "www.golang.org", ItemType: graph.Http},
			}, rows)

			// 3. Tagging again after reopen stays idempotent
			require.NoError(t, eng.TagItem(ctx, "topic", "golang", "https://go.dev"))
			n, err := eng.CountVertices(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestEngine_InMemory(t *testing.T) {
	for _, backend := range []string{BackendBadger, BackendMemory} {
		t.Run(backend, func(t *testing.T) {
			opts := DefaultOptions("")
			opts.Backend = backend
			opts.InMemory = true

			eng, err := Open(opts)
			require.NoError(t, err)
			defer eng.Close()

			id, err := eng.CreateTag(context.Background(), "", "x")
			require.NoError(t, err)
			ids, err := eng.FindTag(context.Background(), "x")
			require.NoError(t, err)
			assert.Contains(t, ids, id)
			assert.NoError(t, eng.Compact())
		})
	}
}

func TestEngine_CompactMemoryBackend(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t, BackendMemory)

	eng, err := Open(opts)
	require.NoError(t, err)
	defer eng.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, eng.TagItem(ctx, "", "t", "https://example.com"))
		_, err := eng.DeleteByProperty(ctx, graph.TagnameProperty, "t")
		require.NoError(t, err)
	}
	require.NoError(t, eng.TagItem(ctx, "", "t", "https://example.com"))

	path := filepath.Join(opts.DataDir, opts.AofFilename)
	before, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, eng.Compact())
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, after.Size(), before.Size())

	rows, err := eng.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(Options{Backend: BackendBadger})
	assert.Error(t, err)

	opts := DefaultOptions(t.TempDir())
	opts.Backend = "rocksdb"
	_, err = Open(opts)
	assert.ErrorContains(t, err, "unknown backend")

	opts.Backend = " Memory "
	eng, err := Open(opts)
	require.NoError(t, err)
	defer eng.Close()
	assert.Equal(t, BackendMemory, eng.Options().Backend)
}

func TestEngine_TraversalLimitsFromOptions(t *testing.T) {
	opts := testOptions(t, BackendMemory)
	opts.Traversal = graph.TraversalLimits{MaxHops: 2, MaxFrontier: 100}

	eng, err := Open(opts)
	require.NoError(t, err)
	defer eng.Close()

	require.NoError(t, eng.TagItem(context.Background(), "", "a", "https://a"))
	_, err = eng.NeighborsAtDepth(context.Background(), graph.Start{Type: graph.Tag, Property: graph.TagnameProperty, Value: "a"}, 3)
	assert.ErrorIs(t, err, graph.ErrTraversalLimit)
}
