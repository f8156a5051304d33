package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dummyType = "dummy_type"

// fixtures creates empty files under a temp dir and returns their paths.
func fixtures(t *testing.T, names ...string) []string {
	t.Helper()
	// Stored paths are symlink-free, so compare against the resolved dir.
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(paths[i], nil, 0644))
	}
	return paths
}

func TestClassify(t *testing.T) {
	paper := fixtures(t, "paper1")[0]
	s := NewStore(nil, DefaultOptions())

	cases := []struct {
		target string
		want   VertexType
		err    error
	}{
		{paper, Path, nil},
		{filepath.Dir(paper), Path, nil},
		{"https://go.dev", Http, nil},
		{"http://example.com", Http, nil},
		{"www.example.com", Http, nil},
		{"paper1", AnyType, ErrClassification},
		{"ftp://example.com", AnyType, ErrClassification},
		{"", AnyType, ErrClassification},
	}
	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			got, err := s.Classify(tc.target)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				assert.Contains(t, err.Error(), "neither a web address nor a path")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassify_UsesInjectedStat(t *testing.T) {
	opts := DefaultOptions()
	opts.Stat = func(name string) (os.FileInfo, error) {
		if name == "virtual/file" {
			return nil, nil
		}
		return nil, os.ErrNotExist
	}
	s := NewStore(nil, opts)

	got, err := s.Classify("virtual/file")
	require.NoError(t, err)
	assert.Equal(t, Path, got)

	// A path-looking string that does not exist and has a web prefix is Http.
	got, err = s.Classify("www/file")
	require.NoError(t, err)
	assert.Equal(t, Http, got)
}

func TestTagItem_Idempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			require.NoError(t, s.TagItem(ctx, dummyType, "golang", "https://go.dev"))
		}

		n, err := s.CountVertices(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		tags, err := s.FindTag(ctx, "golang")
		require.NoError(t, err)
		require.Len(t, tags, 1)

		items, err := s.FindByProperty(ctx, "Http", "https://go.dev")
		require.NoError(t, err)
		require.Len(t, items, 1)

		shared, err := s.CountShared(ctx, tags[0], items[0])
		require.NoError(t, err)
		assert.Equal(t, 1, shared)
		shared, err = s.CountShared(ctx, items[0], tags[0])
		require.NoError(t, err)
		assert.Equal(t, 1, shared)
	})
}

func TestTagItem_ClassificationWritesNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		err := s.TagItem(ctx, dummyType, "tag1", "paper1")
		require.ErrorIs(t, err, ErrClassification)

		var ge *Error
		require.ErrorAs(t, err, &ge)
		assert.Equal(t, "TagItem", ge.Op)
		assert.Equal(t, "paper1", ge.Value)

		n, err := s.CountVertices(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestTagItem_FanOut(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		targets := fixtures(t, "a", "b", "c", "d")

		for _, target := range targets {
			require.NoError(t, s.TagItem(ctx, dummyType, "reading", target))
		}

		tags, err := s.FindTag(ctx, "reading")
		require.NoError(t, err)
		require.Len(t, tags, 1)

		out, err := s.CountEdges(ctx, tags[0], Tags, Outbound)
		require.NoError(t, err)
		assert.Equal(t, len(targets), out)

		for _, target := range targets {
			items, err := s.FindByProperty(ctx, "Path", target)
			require.NoError(t, err)
			require.Len(t, items, 1)
			in, err := s.CountEdges(ctx, items[0], AnyKind, Inbound)
			require.NoError(t, err)
			assert.Equal(t, 1, in)
		}
	})
}

// The classic scenario: three tags over three papers, one link repeated.
func TestTagItem_Scenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		papers := fixtures(t, "paper1", "paper2", "paper3")

		t1, err := s.CreateTag(ctx, dummyType, "tag1")
		require.NoError(t, err)
		t2, err := s.CreateTag(ctx, dummyType, "tag2")
		require.NoError(t, err)
		t3, err := s.CreateTag(ctx, dummyType, "tag3")
		require.NoError(t, err)

		require.NoError(t, s.TagItem(ctx, dummyType, "tag1", papers[0]))
		require.NoError(t, s.TagItem(ctx, dummyType, "tag1", papers[1]))
		require.NoError(t, s.TagItem(ctx, dummyType, "tag2", papers[1]))
		require.NoError(t, s.TagItem(ctx, dummyType, "tag2", papers[2]))
		require.NoError(t, s.TagItem(ctx, dummyType, "tag3", papers[2]))
		require.NoError(t, s.TagItem(ctx, dummyType, "tag3", papers[2]))

		n, err := s.CountVertices(ctx)
		require.NoError(t, err)
		assert.Equal(t, 6, n)

		for _, tc := range []struct {
			name string
			id   uuid.UUID
			out  int
		}{
			{"tag1", t1, 2},
			{"tag2", t2, 2},
			{"tag3", t3, 1},
		} {
			ids, err := s.FindTag(ctx, tc.name)
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{tc.id}, ids)

			out, err := s.CountEdges(ctx, tc.id, AnyKind, Outbound)
			require.NoError(t, err)
			assert.Equal(t, tc.out, out, tc.name)
		}

		v, err := s.FindByProperty(ctx, "Path", papers[0])
		require.NoError(t, err)
		assert.Len(t, v, 1)
	})
}

func TestCreateTag_KeepsFirstLabel(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		a, err := s.CreateTag(ctx, "first", "name")
		require.NoError(t, err)
		b, err := s.CreateTag(ctx, "second", "name")
		require.NoError(t, err)
		assert.Equal(t, a, b)

		v, err := s.GetVertex(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, "first", v.Label)

		_, err = s.CreateTag(ctx, "x", "")
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestFindTag(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		id, err := s.CreateTag(ctx, dummyType, "dummy_tag_name")
		require.NoError(t, err)
		_, err = s.CreateTag(ctx, dummyType, "other_dummy_tag_name")
		require.NoError(t, err)

		ids, err := s.FindTag(ctx, "dummy_tag_name")
		require.NoError(t, err)
		require.Len(t, ids, 1)
		assert.Equal(t, id, ids[0])

		ids, err = s.FindTag(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestFindRelated_AndTagsForItems(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		paper := fixtures(t, "paper")[0]

		require.NoError(t, s.TagItem(ctx, dummyType, "go", "https://go.dev"))
		require.NoError(t, s.TagItem(ctx, dummyType, "go", paper))
		require.NoError(t, s.TagItem(ctx, dummyType, "web", "https://go.dev"))

		rows, err := s.FindRelated(ctx, []string{"go", "unknown"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []Row{
			{Tag: "go", Item: "https://go.dev", ItemType: Http},
			{Tag: "go", Item: paper, ItemType: Path},
		}, rows)

		rows, err = s.FindTagsForItems(ctx, []string{"https://go.dev"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []Row{
			{Tag: "go", Item: "https://go.dev", ItemType: Http},
			{Tag: "web", Item: "https://go.dev", ItemType: Http},
		}, rows)

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestTagItem_ConcurrentCallsCreateNoDuplicates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		const workers = 16
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				// Half the workers share a target, all share the tag.
				target := fmt.Sprintf("https://example.com/%d", i%2)
				errs <- s.TagItem(ctx, dummyType, "shared", target)
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		tags, err := s.FindTag(ctx, "shared")
		require.NoError(t, err)
		require.Len(t, tags, 1)

		n, err := s.CountVertices(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		out, err := s.CountEdges(ctx, tags[0], Tags, Outbound)
		require.NoError(t, err)
		assert.Equal(t, 2, out)
	})
}

func TestTagItem_OnePathVertexPerFile(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		paper := fixtures(t, "paper")[0]
		dir := filepath.Dir(paper)
		link := filepath.Join(t.TempDir(), "alias")
		require.NoError(t, os.Symlink(paper, link))

		for _, spelling := range []string{
			paper,
			dir + "/./paper",
			filepath.Join(dir, "..", filepath.Base(dir), "paper"),
			link,
		} {
			require.NoError(t, s.TagItem(ctx, dummyType, "reading", spelling))
		}

		items, err := s.ListVertices(ctx, Path)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, paper, items[0].Value())

		tags, err := s.FindTag(ctx, "reading")
		require.NoError(t, err)
		require.Len(t, tags, 1)
		out, err := s.CountEdges(ctx, tags[0], Tags, Outbound)
		require.NoError(t, err)
		assert.Equal(t, 1, out)

		rows, err := s.FindTagsForItems(ctx, []string{dir + "/./paper"})
		require.NoError(t, err)
		assert.Equal(t, []Row{{Tag: "reading", Item: paper, ItemType: Path}}, rows)
	})
}
