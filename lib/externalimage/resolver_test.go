package externalimage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onkernel/zocker/lib/images"
	"github.com/onkernel/zocker/lib/layers"
	"github.com/onkernel/zocker/lib/paths"
)

func newTestResolver(t *testing.T) (*Resolver, *paths.Paths) {
	t.Helper()
	prefix := t.TempDir()
	p := paths.New(prefix)
	require.NoError(t, paths.EnsureStoreLayout(prefix))
	layerStore := layers.New(p)
	imageStore := images.New(p)
	return New(layerStore, imageStore, nil, nil), p
}

func TestResolveChainAbsolutePathWithColon(t *testing.T) {
	r, _ := newTestResolver(t)
	chain, err := r.ResolveChain("/a/b:/c/d")
	require.NoError(t, err)
	require.Equal(t, "/a/b:/c/d", chain)
}

func TestResolveChainPlainDirectoryNoLowerFile(t *testing.T) {
	r, _ := newTestResolver(t)
	dir := t.TempDir()
	chain, err := r.ResolveChain(dir)
	require.NoError(t, err)
	require.Equal(t, dir, chain)
}

func TestResolveChainFromLocalImageStore(t *testing.T) {
	r, p := newTestResolver(t)
	layerStore := layers.New(p)
	imageStore := images.New(p)

	require.NoError(t, layerStore.CreateLayerDirs("baselayer", ""))
	m, err := layerStore.NowMetadata("baselayer", "", "h1", "FROM scratch", "/")
	require.NoError(t, err)
	require.NoError(t, layerStore.WriteLayerMetadata(m))

	require.NoError(t, imageStore.Save(images.Metadata{Name: "demo", Tag: "latest", TopLayer: "baselayer"}))

	r2 := New(layerStore, imageStore, nil, nil)
	chain, err := r2.ResolveChain("demo:latest")
	require.NoError(t, err)
	require.Equal(t, p.LayerLinkPath(layers.ShortID("baselayer")), chain)
}

func TestResolveChainUnknownNameErrors(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.ResolveChain("nope:latest")
	require.Error(t, err)
}

func TestChainFromExternalUpperDirWithLowerFile(t *testing.T) {
	r, _ := newTestResolver(t)

	root := t.TempDir()
	containerDir := filepath.Join(root, "container1")
	require.NoError(t, os.MkdirAll(containerDir, 0755))
	upper := filepath.Join(containerDir, "diff")
	require.NoError(t, os.MkdirAll(upper, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(containerDir, "lower"), []byte("other/diff"), 0644))

	chain, err := r.chainFromExternalUpperDir(upper)
	require.NoError(t, err)
	require.Equal(t, upper+":"+filepath.Join(root, "other/diff"), chain)
}

func TestChainFromExternalUpperDirNoLowerFile(t *testing.T) {
	r, _ := newTestResolver(t)
	upper := filepath.Join(t.TempDir(), "diff")
	require.NoError(t, os.MkdirAll(upper, 0755))

	chain, err := r.chainFromExternalUpperDir(upper)
	require.NoError(t, err)
	require.Equal(t, upper, chain)
}
