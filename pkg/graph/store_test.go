package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/tagdb/pkg/kv"
	"github.com/sanonone/tagdb/pkg/kv/badgerkv"
	"github.com/sanonone/tagdb/pkg/kv/memkv"
)

type backendFactory func(t *testing.T) kv.Backend

var testBackends = map[string]backendFactory{
	"badger": func(t *testing.T) kv.Backend {
		b, err := badgerkv.Open(badgerkv.InMemoryConfig())
		require.NoError(t, err)
		return b
	},
	"memory": func(t *testing.T) kv.Backend {
		opts := memkv.DefaultOptions(t.TempDir())
		opts.AofRewritePercentage = 0
		b, err := memkv.Open(opts)
		require.NoError(t, err)
		return b
	},
}

// forEachBackend runs fn as a subtest against a fresh store on every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s *Store)) {
	t.Helper()
	forEachBackendWith(t, DefaultOptions(), fn)
}

func forEachBackendWith(t *testing.T, opts Options, fn func(t *testing.T, s *Store)) {
	t.Helper()
	for name, factory := range testBackends {
		t.Run(name, func(t *testing.T) {
			backend := factory(t)
			t.Cleanup(func() { backend.Close() })
			fn(t, NewStore(backend, opts))
		})
	}
}

func TestCreateVertex_FindByProperty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		id, err := s.CreateVertex(ctx, Tag, "tag_name", "tag1")
		require.NoError(t, err)

		ids, err := s.FindByProperty(ctx, "tag_name", "tag1")
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{id}, ids)

		scanned, err := s.ScanByProperty(ctx, "tag_name", "tag1")
		require.NoError(t, err)
		assert.Equal(t, ids, scanned)

		// Different value, and a prefix of the stored value, match nothing.
		for _, v := range []string{"tag2", "tag", ""} {
			ids, err := s.FindByProperty(ctx, "tag_name", v)
			require.NoError(t, err)
			assert.Empty(t, ids, v)
		}

		n, err := s.CountVertices(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestCreateVertex_RejectsBadInput(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		_, err := s.CreateVertex(ctx, Tag, "", "x")
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = s.CreateVertex(ctx, Tag, "a:b", "x")
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = s.CreateVertex(ctx, AnyType, "Tagname", "x")
		assert.ErrorIs(t, err, ErrInvalidArgument)

		var ge *Error
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, "CreateVertex", ge.Op)

		n, err := s.CountVertices(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestFindOrCreate_FixedPoint(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		created, err := s.CreateVertex(ctx, Tag, "tag_name", "tag1")
		require.NoError(t, err)

		found, err := s.FindOrCreate(ctx, Tag, "tag_name", "tag1")
		require.NoError(t, err)
		assert.Equal(t, created, found)

		again, err := s.FindOrCreate(ctx, Tag, "tag_name", "tag1")
		require.NoError(t, err)
		assert.Equal(t, found, again)

		n, err := s.CountVertices(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		// Same property under another type is a different vertex.
		other, err := s.FindOrCreate(ctx, Path, "tag_name", "tag1")
		require.NoError(t, err)
		assert.NotEqual(t, created, other)
	})
}

func TestFindOrCreate_Ambiguous(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		a, err := s.CreateVertex(ctx, Tag, "Tagname", "dup")
		require.NoError(t, err)
		b, err := s.CreateVertex(ctx, Tag, "Tagname", "dup")
		require.NoError(t, err)

		_, err = s.FindOrCreate(ctx, Tag, "Tagname", "dup")
		require.ErrorIs(t, err, ErrAmbiguousMatch)

		var ge *Error
		require.True(t, errors.As(err, &ge))
		assert.ElementsMatch(t, []uuid.UUID{a, b}, ge.IDs)
	})
}

func TestGetVertex(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		id, err := s.CreateTag(ctx, "dummy_type", "golang")
		require.NoError(t, err)

		v, err := s.GetVertex(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, Tag, v.Type)
		assert.Equal(t, "dummy_type", v.Label)
		assert.Equal(t, "golang", v.Value())

		props, err := s.GetProperties(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{TagnameProperty: "golang"}, props)

		_, err = s.GetVertex(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDeleteByProperty_Cascades(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		tag, err := s.CreateVertex(ctx, Tag, "prop1", "prop_val1")
		require.NoError(t, err)
		item, err := s.CreateVertex(ctx, Http, "Http", "https://go.dev")
		require.NoError(t, err)
		require.NoError(t, s.CreateEdge(ctx, tag, item, Tags))

		n, err := s.DeleteByProperty(ctx, "prop1", "prop_val1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ids, err := s.FindByProperty(ctx, "prop1", "prop_val1")
		require.NoError(t, err)
		assert.Empty(t, ids)

		in, err := s.CountEdges(ctx, item, AnyKind, Inbound)
		require.NoError(t, err)
		assert.Zero(t, in)

		count, err := s.CountVertices(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		// Deleting again is a no-op.
		n, err = s.DeleteByProperty(ctx, "prop1", "prop_val1")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestDeleteVertex(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		tag, err := s.CreateTag(ctx, "", "t")
		require.NoError(t, err)
		item, err := s.CreateVertex(ctx, Path, "Path", "/tmp/x")
		require.NoError(t, err)
		require.NoError(t, s.CreateEdge(ctx, tag, item, Tags))

		require.NoError(t, s.DeleteVertex(ctx, item))

		out, err := s.CountEdges(ctx, tag, Tags, Outbound)
		require.NoError(t, err)
		assert.Zero(t, out)

		err = s.DeleteVertex(ctx, item)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListVertices(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		_, err := s.CreateTag(ctx, "", "a")
		require.NoError(t, err)
		_, err = s.CreateTag(ctx, "", "b")
		require.NoError(t, err)
		_, err = s.CreateVertex(ctx, Http, "Http", "http://example.com")
		require.NoError(t, err)

		tags, err := s.ListVertices(ctx, Tag)
		require.NoError(t, err)
		assert.Len(t, tags, 2)

		all, err := s.ListVertices(ctx, AnyType)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestReindex_RepairsIndex(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		id, err := s.CreateTag(ctx, "", "indexed")
		require.NoError(t, err)

		// Simulate a lost index entry.
		require.NoError(t, s.backend.Update(ctx, func(txn kv.Txn) error {
			return txn.Delete(indexKey(TagnameProperty, "indexed", id))
		}))
		ids, err := s.FindTag(ctx, "indexed")
		require.NoError(t, err)
		assert.Empty(t, ids)

		n, err := s.Reindex(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ids, err = s.FindTag(ctx, "indexed")
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{id}, ids)
	})
}

func TestReindex_InBatches(t *testing.T) {
	opts := DefaultOptions()
	opts.ReindexBatchSize = 2
	forEachBackendWith(t, opts, func(t *testing.T, s *Store) {
		ctx := context.Background()

		names := []string{"t1", "t2", "t3", "t4", "t5"}
		ids := make(map[string]uuid.UUID)
		for _, name := range names {
			id, err := s.CreateTag(ctx, "", name)
			require.NoError(t, err)
			ids[name] = id
		}

		ghost := uuid.New()
		require.NoError(t, s.backend.Update(ctx, func(txn kv.Txn) error {
			if err := txn.Delete(indexKey(TagnameProperty, "t2", ids["t2"])); err != nil {
				return err
			}
			if err := txn.Delete(indexKey(TagnameProperty, "t4", ids["t4"])); err != nil {
				return err
			}
			// Entries pointing at a missing vertex and at a wrong value.
			if err := txn.Set(indexKey(TagnameProperty, "ghost", ghost), []byte(Tag.String())); err != nil {
				return err
			}
			return txn.Set(indexKey(TagnameProperty, "renamed", ids["t1"]), []byte(Tag.String()))
		}))

		n, err := s.Reindex(ctx)
		require.NoError(t, err)
		assert.Equal(t, len(names), n)

		for _, name := range names {
			found, err := s.FindTag(ctx, name)
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{ids[name]}, found, name)
		}

		var entries int
		require.NoError(t, s.backend.View(ctx, func(txn kv.Txn) error {
			return txn.Iterate([]byte(prefixIndex), func(_, _ []byte) error {
				entries++
				return nil
			})
		}))
		assert.Equal(t, len(names), entries)
	})
}

func TestOperations_HonourCancelledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.CreateTag(ctx, "", "x")
		assert.ErrorIs(t, err, context.Canceled)
		_, err = s.FindTag(ctx, "x")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// flakyBackend fails the first failures View calls with a transient error.
type flakyBackend struct {
	kv.Backend
	failures int
	calls    int
}

var errTransient = errors.New("transient")

func (f *flakyBackend) View(ctx context.Context, fn func(kv.Txn) error) error {
	f.calls++
	if f.calls <= f.failures {
		return errTransient
	}
	return f.Backend.View(ctx, fn)
}

func TestView_RetriesTransientErrors(t *testing.T) {
	inner, err := badgerkv.Open(badgerkv.InMemoryConfig())
	require.NoError(t, err)
	defer inner.Close()

	flaky := &flakyBackend{Backend: inner, failures: 2}
	opts := DefaultOptions()
	opts.RetryInitialInterval = 1
	s := NewStore(flaky, opts)

	_, err = s.FindTag(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)

	flaky.calls, flaky.failures = 0, 5
	_, err = s.FindTag(context.Background(), "x")
	require.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, flaky.calls)
}

func TestView_DomainErrorsAreNotRetried(t *testing.T) {
	inner, err := badgerkv.Open(badgerkv.InMemoryConfig())
	require.NoError(t, err)
	defer inner.Close()

	flaky := &flakyBackend{Backend: inner}
	s := NewStore(flaky, DefaultOptions())

	_, err = s.GetVertex(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, flaky.calls)
}

// conflictBackend reports every commit as conflicting.
type conflictBackend struct {
	kv.Backend
}

func (c conflictBackend) Update(ctx context.Context, fn func(kv.Txn) error) error {
	return kv.ErrConflict
}

func TestUpdate_ConflictIsDuplicateRisk(t *testing.T) {
	inner, err := badgerkv.Open(badgerkv.InMemoryConfig())
	require.NoError(t, err)
	defer inner.Close()

	s := NewStore(conflictBackend{inner}, DefaultOptions())
	_, err = s.CreateTag(context.Background(), "", "x")
	require.ErrorIs(t, err, ErrDuplicateRisk)
	assert.ErrorIs(t, err, kv.ErrConflict)
}
