// Package paths provides centralized path construction for the zocker store.
//
// Directory Structure:
//
//	{prefix}/
//	  containers/{id}/{upper,work,merged}
//	  layers/{id}/{diff,work,lower,link,meta}
//	  layers/l/{short} -> ../{id}/diff
//	  images/{safe-name}__{safe-tag}.meta
//	  cache/{state-hash}
//	  tmp/{prefix}_{random}/        (build_, snapshot_, add_)
//	  tmp/pull_{pid}_{random}/
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths provides typed path construction for the zocker store root.
type Paths struct {
	prefix string
}

// New creates a new Paths instance rooted at the given store prefix.
func New(prefix string) *Paths {
	return &Paths{prefix: prefix}
}

// Prefix returns the store root directory.
func (p *Paths) Prefix() string {
	return p.prefix
}

// ContainersDir returns the root directory for runner scratch containers.
func (p *Paths) ContainersDir() string {
	return filepath.Join(p.prefix, "containers")
}

// ContainerDir returns a single container's scratch directory.
func (p *Paths) ContainerDir(id string) string {
	return filepath.Join(p.ContainersDir(), id)
}

// ContainerUpper returns a container's overlay upperdir.
func (p *Paths) ContainerUpper(id string) string {
	return filepath.Join(p.ContainerDir(id), "upper")
}

// ContainerWork returns a container's overlay workdir.
func (p *Paths) ContainerWork(id string) string {
	return filepath.Join(p.ContainerDir(id), "work")
}

// ContainerMerged returns a container's overlay merge mountpoint.
func (p *Paths) ContainerMerged(id string) string {
	return filepath.Join(p.ContainerDir(id), "merged")
}

// LayersDir returns the root directory for immutable layers.
func (p *Paths) LayersDir() string {
	return filepath.Join(p.prefix, "layers")
}

// LayerDir returns a single layer's directory.
func (p *Paths) LayerDir(id string) string {
	return filepath.Join(p.LayersDir(), id)
}

// LayerDiff returns a layer's diff directory (its content).
func (p *Paths) LayerDiff(id string) string {
	return filepath.Join(p.LayerDir(id), "diff")
}

// LayerWork returns a layer's overlay scratch directory.
func (p *Paths) LayerWork(id string) string {
	return filepath.Join(p.LayerDir(id), "work")
}

// LayerLower returns the path to a layer's lower-chain file.
func (p *Paths) LayerLower(id string) string {
	return filepath.Join(p.LayerDir(id), "lower")
}

// LayerLink returns the path to a layer's short-id token file.
func (p *Paths) LayerLink(id string) string {
	return filepath.Join(p.LayerDir(id), "link")
}

// LayerMeta returns the path to a layer's metadata file.
func (p *Paths) LayerMeta(id string) string {
	return filepath.Join(p.LayerDir(id), "meta")
}

// LayerLinksDir returns the short-id symlink farm directory.
func (p *Paths) LayerLinksDir() string {
	return filepath.Join(p.LayersDir(), "l")
}

// LayerLinkPath returns the symlink path for a layer's short id.
func (p *Paths) LayerLinkPath(short string) string {
	return filepath.Join(p.LayerLinksDir(), short)
}

// ImagesDir returns the root directory for image metadata pointers.
func (p *Paths) ImagesDir() string {
	return filepath.Join(p.prefix, "images")
}

// ImageMeta returns the metadata file path for a sanitized name/tag pair.
func (p *Paths) ImageMeta(safeName, safeTag string) string {
	return filepath.Join(p.ImagesDir(), safeName+"__"+safeTag+".meta")
}

// CacheDir returns the root directory for the build cache.
func (p *Paths) CacheDir() string {
	return filepath.Join(p.prefix, "cache")
}

// CacheEntry returns the cache file path for a state hash.
func (p *Paths) CacheEntry(stateHash string) string {
	return filepath.Join(p.CacheDir(), stateHash)
}

// TmpDir returns the root directory for scratch workspaces.
func (p *Paths) TmpDir() string {
	return filepath.Join(p.prefix, "tmp")
}

// AllDirs returns every top-level directory that must exist for the store
// to be usable, in creation order.
func (p *Paths) AllDirs() []string {
	return []string{
		p.prefix,
		p.ContainersDir(),
		p.LayersDir(),
		p.LayerLinksDir(),
		p.ImagesDir(),
		p.CacheDir(),
		p.TmpDir(),
	}
}

// EnsureStoreLayout creates every directory AllDirs names, tolerating
// already-existing directories but failing if the prefix exists and is not
// a directory.
func EnsureStoreLayout(prefix string) error {
	p := New(prefix)
	for _, dir := range p.AllDirs() {
		if err := ensureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// ensureDir creates dir (and parents) if absent; if dir exists and is not a
// directory, it is a fatal configuration error rather than something to
// silently coerce.
func ensureDir(dir string) error {
	st, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", dir)
	}
	return nil
}
