// Package images implements the Image Store: mapping name:tag references to
// a top-layer id plus default command, listing, removal, and history walk.
package images

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/onkernel/zocker/lib/layers"
	"github.com/onkernel/zocker/lib/paths"
	"github.com/onkernel/zocker/lib/zockererr"
)

var ErrNotFound = errors.New("image not found")

const defaultTag = "latest"

// Ref is a parsed name:tag reference.
type Ref struct {
	Name string
	Tag  string
}

func (r Ref) String() string {
	return r.Name + ":" + r.Tag
}

// ParseImageRef splits ref on the last ':' that is not preceded by '/'.
// A missing tag defaults to "latest". An empty name, or an empty tag when
// ':' is present, is an error.
func ParseImageRef(ref string) (Ref, error) {
	idx := lastColonNotAfterSlash(ref)
	if idx < 0 {
		if ref == "" {
			return Ref{}, zockererr.Resolvef("parse image ref", "empty image reference")
		}
		return Ref{Name: ref, Tag: defaultTag}, nil
	}

	name := ref[:idx]
	tag := ref[idx+1:]
	if name == "" {
		return Ref{}, zockererr.Resolvef("parse image ref", "empty image name in %q", ref)
	}
	if tag == "" {
		return Ref{}, zockererr.Resolvef("parse image ref", "empty tag in %q", ref)
	}
	return Ref{Name: name, Tag: tag}, nil
}

// lastColonNotAfterSlash returns the index of the last ':' in ref whose
// preceding byte is not '/', or -1 if none. This disambiguates a tag
// separator ("name:tag") from a colon that is part of a path-like name
// component immediately following a slash.
func lastColonNotAfterSlash(ref string) int {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] != ':' {
			continue
		}
		if i > 0 && ref[i-1] == '/' {
			continue
		}
		return i
	}
	return -1
}

// SanitizeComponent replaces every byte outside [A-Za-z0-9._-] with '_'.
// This is intentionally lossy: "a/b" and "a_b" sanitize to the same
// string. Implementations that need collision-free persistence should
// reject unsupported characters instead; this store documents and accepts
// the collision per the reference implementation's design.
func SanitizeComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Metadata is an image's persisted record.
type Metadata struct {
	Name      string
	Tag       string
	Ref       string
	TopLayer  string
	CreatedAt int64
	Cmd       string
}

// Store provides image metadata persistence keyed by sanitized name/tag.
type Store struct {
	paths *paths.Paths
}

func New(p *paths.Paths) *Store {
	return &Store{paths: p}
}

func (s *Store) metaPath(ref Ref) string {
	return s.paths.ImageMeta(SanitizeComponent(ref.Name), SanitizeComponent(ref.Tag))
}

// Save writes the six keys name/tag/ref/top_layer/created_at/cmd. ref is
// always re-derived as name:tag rather than stored verbatim from caller
// input. created_at defaults to the current epoch second if zero.
func (s *Store) Save(m Metadata) error {
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().Unix()
	}
	ref := Ref{Name: m.Name, Tag: m.Tag}
	path := s.metaPath(ref)

	lines := []string{
		"name=" + m.Name,
		"tag=" + m.Tag,
		"ref=" + ref.String(),
		"top_layer=" + m.TopLayer,
		"created_at=" + strconv.FormatInt(m.CreatedAt, 10),
		"cmd=" + m.Cmd,
	}
	content := strings.Join(lines, "\n") + "\n"

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return zockererr.IO("write image metadata tmp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return zockererr.IO("commit image metadata", err)
	}
	return nil
}

// Load reads an image's metadata by reference string.
func (s *Store) Load(refStr string) (Metadata, error) {
	ref, err := ParseImageRef(refStr)
	if err != nil {
		return Metadata{}, err
	}
	return s.loadRef(ref)
}

func (s *Store) loadRef(ref Ref) (Metadata, error) {
	data, err := os.ReadFile(s.metaPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, ErrNotFound
		}
		return Metadata{}, zockererr.Store("read image metadata", err)
	}
	return parseMetadata(string(data)), nil
}

func parseMetadata(content string) Metadata {
	var m Metadata
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "name":
			m.Name = value
		case "tag":
			m.Tag = value
		case "ref":
			m.Ref = value
		case "top_layer":
			m.TopLayer = value
		case "created_at":
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				m.CreatedAt = v
			}
		case "cmd":
			m.Cmd = value
		}
	}
	return m
}

// Exists reports whether ref has a persisted image record.
func (s *Store) Exists(refStr string) bool {
	ref, err := ParseImageRef(refStr)
	if err != nil {
		return false
	}
	_, err = os.Stat(s.metaPath(ref))
	return err == nil
}

// Remove unlinks an image's meta file. Layers remain until a separate
// prune. A missing reference is reported distinctly from an IO failure.
func (s *Store) Remove(refStr string) error {
	ref, err := ParseImageRef(refStr)
	if err != nil {
		return err
	}
	path := s.metaPath(ref)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("image %s does not exist: %w", ref, ErrNotFound)
		}
		return zockererr.IO("remove image metadata", err)
	}
	return nil
}

// List enumerates every persisted image, sorted by ref for stable output.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.paths.ImagesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, zockererr.IO("list images dir", err)
	}

	var metas []Metadata
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".meta") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.paths.ImagesDir(), e.Name()))
		if err != nil {
			continue
		}
		metas = append(metas, parseMetadata(string(data)))
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Ref < metas[j].Ref })
	return metas, nil
}

// TopLayers returns every image's top_layer id, used by prune's
// reachability walk.
func (s *Store) TopLayers() ([]string, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(metas))
	for _, m := range metas {
		if m.TopLayer != "" {
			out = append(out, m.TopLayer)
		}
	}
	return out, nil
}

// HistoryEntry is one row of an image's layer history.
type HistoryEntry struct {
	LayerID     string
	Size        int64
	CreatedAt   int64
	Instruction string
}

// History walks from the image's top_layer following parent links until
// "-" or missing metadata, returning entries from top (most recent) to base.
func History(layerStore *layers.Store, topLayer string) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	id := topLayer
	for id != "" && id != layers.NoParent {
		m, err := layerStore.ReadLayerMetadata(id)
		if err != nil {
			break
		}
		entries = append(entries, HistoryEntry{
			LayerID:     id,
			Size:        m.Size,
			CreatedAt:   m.CreatedAt,
			Instruction: m.Instruction,
		})
		id = m.Parent
	}
	return entries, nil
}

// FormatAge renders an age in seconds using the largest unit whose integer
// component is non-zero among a simple threshold cascade: seconds under a
// minute, minutes under an hour, hours under a day, else days. This is not
// a multi-component "1d2h" format — it selects one unit.
func FormatAge(ageSeconds int64) string {
	switch {
	case ageSeconds < 60:
		return fmt.Sprintf("%ds", ageSeconds)
	case ageSeconds < 3600:
		return fmt.Sprintf("%dm", ageSeconds/60)
	case ageSeconds < 86400:
		return fmt.Sprintf("%dh", ageSeconds/3600)
	default:
		return fmt.Sprintf("%dd", ageSeconds/86400)
	}
}
