package images

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onkernel/zocker/lib/paths"
)

func TestParseImageRefDefaultsToLatest(t *testing.T) {
	ref, err := ParseImageRef("demo")
	require.NoError(t, err)
	require.Equal(t, Ref{Name: "demo", Tag: "latest"}, ref)
}

func TestParseImageRefWithTag(t *testing.T) {
	ref, err := ParseImageRef("demo:v2")
	require.NoError(t, err)
	require.Equal(t, Ref{Name: "demo", Tag: "v2"}, ref)
}

func TestParseImageRefRoundTrip(t *testing.T) {
	ref, err := ParseImageRef("myapp:9")
	require.NoError(t, err)
	require.Equal(t, "myapp", ref.Name)
	require.Equal(t, "9", ref.Tag)
}

func TestParseImageRefRejectsEmptyTag(t *testing.T) {
	_, err := ParseImageRef("demo:")
	require.Error(t, err)
}

func TestParseImageRefRejectsEmptyRef(t *testing.T) {
	_, err := ParseImageRef("")
	require.Error(t, err)
}

func TestSanitizeComponentIsLossy(t *testing.T) {
	require.Equal(t, "a_b", SanitizeComponent("a/b"))
	require.Equal(t, "a_b", SanitizeComponent("a_b"))
	require.Equal(t, "my-repo.v1", SanitizeComponent("my-repo.v1"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p := paths.New(t.TempDir())
	require.NoError(t, paths.EnsureStoreLayout(p.Prefix()))
	s := New(p)

	require.NoError(t, s.Save(Metadata{
		Name:      "demo",
		Tag:       "latest",
		TopLayer:  "layer123",
		CreatedAt: 42,
		Cmd:       "sh",
	}))

	got, err := s.Load("demo:latest")
	require.NoError(t, err)
	require.Equal(t, "demo", got.Name)
	require.Equal(t, "latest", got.Tag)
	require.Equal(t, "demo:latest", got.Ref)
	require.Equal(t, "layer123", got.TopLayer)
	require.Equal(t, int64(42), got.CreatedAt)
}

func TestLoadMissingReturnsErrNotFound(t *testing.T) {
	p := paths.New(t.TempDir())
	require.NoError(t, paths.EnsureStoreLayout(p.Prefix()))
	s := New(p)

	_, err := s.Load("nope:latest")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveMissingReportsNotFound(t *testing.T) {
	p := paths.New(t.TempDir())
	require.NoError(t, paths.EnsureStoreLayout(p.Prefix()))
	s := New(p)

	err := s.Remove("nope:latest")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListSortedByRef(t *testing.T) {
	p := paths.New(t.TempDir())
	require.NoError(t, paths.EnsureStoreLayout(p.Prefix()))
	s := New(p)

	require.NoError(t, s.Save(Metadata{Name: "b", Tag: "latest", TopLayer: "l1"}))
	require.NoError(t, s.Save(Metadata{Name: "a", Tag: "latest", TopLayer: "l2"}))

	metas, err := s.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	require.Equal(t, "a:latest", metas[0].Ref)
	require.Equal(t, "b:latest", metas[1].Ref)
}

func TestFormatAgeCascade(t *testing.T) {
	require.Equal(t, "5s", FormatAge(5))
	require.Equal(t, "2m", FormatAge(130))
	require.Equal(t, "3h", FormatAge(3*3600+10))
	require.Equal(t, "2d", FormatAge(2*86400+5))
}
