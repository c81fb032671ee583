package layers

import (
	"os"

	"github.com/samber/lo"
)

// Prune removes every layer unreachable from the given top-layer ids (via
// parent chains). Reachability is marked once from every top layer, after
// which every unmarked layer directory is removed; a second removal pass
// finds nothing left to remove. It returns the number of layers removed.
func (s *Store) Prune(imageTopLayers []string) (int, error) {
	entries, err := os.ReadDir(s.paths.LayersDir())
	if err != nil {
		return 0, err
	}

	all := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		if e.Name() == "l" {
			return "", false
		}
		return e.Name(), e.IsDir()
	})

	used := map[string]bool{}
	for _, top := range imageTopLayers {
		s.markLayerChainUsed(top, used)
	}

	removed := 0
	for {
		removedThisPass := 0
		for _, id := range all {
			if used[id] {
				continue
			}
			s.RemoveLayerDirs(id)
			used[id] = true // handled: removed, so skip on future passes
			removedThisPass++
			removed++
		}
		if removedThisPass == 0 {
			break
		}
	}

	return removed, nil
}

// markLayerChainUsed walks the parent chain from top, marking every
// ancestor reachable.
func (s *Store) markLayerChainUsed(top string, used map[string]bool) {
	id := top
	for id != "" && id != NoParent {
		if used[id] {
			return
		}
		used[id] = true
		meta, err := s.ReadLayerMetadata(id)
		if err != nil {
			return
		}
		id = meta.Parent
	}
}

// PruneStaleCacheEntries removes cache files whose referenced layer no
// longer exists, mirroring cleanup_cache_entries from the reference
// implementation. It returns the number of entries removed.
func (s *Store) PruneStaleCacheEntries() (int, error) {
	entries, err := os.ReadDir(s.paths.CacheDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := s.paths.CacheDir() + "/" + e.Name()
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		id := trimNewline(string(data))
		if id == "" || !s.Exists(id) {
			os.Remove(path)
			removed++
		}
	}
	return removed, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
