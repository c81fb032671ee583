package layers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onkernel/zocker/lib/paths"
)

func newTestStore(t *testing.T) (*Store, *paths.Paths) {
	t.Helper()
	prefix := t.TempDir()
	p := paths.New(prefix)
	require.NoError(t, paths.EnsureStoreLayout(prefix))
	return New(p), p
}

func TestCreateLayerDirsAndChain(t *testing.T) {
	s, p := newTestStore(t)

	require.NoError(t, s.CreateLayerDirs("base0000000000000000000000000000", ""))
	chain, err := s.LayerChainFromTop("base0000000000000000000000000000")
	require.NoError(t, err)
	require.Equal(t, p.LayerLinkPath(ShortID("base0000000000000000000000000000")), chain)
}

func TestLayerChainFromTopWithLower(t *testing.T) {
	s, p := newTestStore(t)

	require.NoError(t, s.CreateLayerDirs("layerone", ""))
	baseChain, err := s.LayerChainFromTop("layerone")
	require.NoError(t, err)

	require.NoError(t, s.CreateLayerDirs("layertwo", baseChain))
	chain, err := s.LayerChainFromTop("layertwo")
	require.NoError(t, err)

	want := p.LayerLinkPath(ShortID("layertwo")) + ":" + p.LayerLinkPath(ShortID("layerone"))
	require.Equal(t, want, chain)
}

func TestWriteReadLayerMetadataRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.CreateLayerDirs("abc", ""))

	m := Metadata{
		ID:          "abc",
		Parent:      NoParent,
		Hash:        "0123456789abcdef",
		CreatedAt:   100,
		Size:        42,
		Instruction: "RUN echo hi",
		Workdir:     "/",
	}
	require.NoError(t, s.WriteLayerMetadata(m))

	got, err := s.ReadLayerMetadata("abc")
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestExistsRequiresMetaFile(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.CreateLayerDirs("noMeta", ""))
	require.False(t, s.Exists("noMeta"))

	m, err := s.NowMetadata("noMeta", "", "h", "RUN x", "/")
	require.NoError(t, err)
	require.NoError(t, s.WriteLayerMetadata(m))
	require.True(t, s.Exists("noMeta"))
}

func TestReadLayerMetadataUnknownKeysIgnored(t *testing.T) {
	s, p := newTestStore(t)
	require.NoError(t, s.CreateLayerDirs("xyz", ""))

	content := "id=xyz\nparent=-\nhash=deadbeef00000000\ncreated_at=5\nsize=1\ninstruction=WORKDIR /a\nworkdir=/a\nfuture_field=ignored\n"
	require.NoError(t, os.WriteFile(p.LayerMeta("xyz"), []byte(content), 0644))

	m, err := s.ReadLayerMetadata("xyz")
	require.NoError(t, err)
	require.Equal(t, "deadbeef00000000", m.Hash)
	require.Equal(t, "/a", m.Workdir)
}

func TestPruneRemovesUnreachableKeepsShared(t *testing.T) {
	s, _ := newTestStore(t)

	mk := func(id, parent, lower string) {
		require.NoError(t, s.CreateLayerDirs(id, lower))
		m, err := s.NowMetadata(id, parent, "h-"+id, "RUN "+id, "/")
		require.NoError(t, err)
		require.NoError(t, s.WriteLayerMetadata(m))
	}

	mk("base", "", "")
	baseChain, err := s.LayerChainFromTop("base")
	require.NoError(t, err)

	mk("a1", "base", baseChain)
	a1Chain, err := s.LayerChainFromTop("a1")
	require.NoError(t, err)
	mk("a2", "a1", a1Chain)

	mk("b1", "base", baseChain)

	removed, err := s.Prune([]string{"b1"})
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	require.True(t, s.Exists("base"))
	require.True(t, s.Exists("b1"))
	require.False(t, s.Exists("a1"))
	require.False(t, s.Exists("a2"))

	removedAgain, err := s.Prune([]string{"b1"})
	require.NoError(t, err)
	require.Equal(t, 0, removedAgain)
}

func TestShortIDTruncatesTo26(t *testing.T) {
	long := "abcdefghijklmnopqrstuvwxyz0123456789"
	require.Equal(t, long[:26], ShortID(long))
	require.Equal(t, "short", ShortID("short"))
}

func TestCreateLayerDirsSymlinkTarget(t *testing.T) {
	s, p := newTestStore(t)
	require.NoError(t, s.CreateLayerDirs("linkid", ""))

	target, err := os.Readlink(p.LayerLinkPath(ShortID("linkid")))
	require.NoError(t, err)
	require.Equal(t, filepath.Join("..", "linkid", "diff"), target)
}
