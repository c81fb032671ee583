// Package layers implements the on-disk layout of immutable image layers:
// creation, short-id symlink farm, metadata persistence, and chain
// resolution from a top layer to a colon-separated overlay lower chain.
package layers

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onkernel/zocker/lib/hashutil"
	"github.com/onkernel/zocker/lib/paths"
	"github.com/onkernel/zocker/lib/zockererr"
)

const noParentSentinel = "-"

// shortIDLen is the length of the symlink-farm token derived from a layer
// id, chosen to keep overlay mount-option strings under the kernel's
// mount-option length limit.
const shortIDLen = 26

// Metadata is a layer's persisted key=value record.
type Metadata struct {
	ID          string
	Parent      string // noParentSentinel ("-") for base layers
	Hash        string
	CreatedAt   int64
	Size        int64
	Instruction string
	Workdir     string
}

// Store provides layer creation, metadata IO, and chain resolution rooted
// at a store prefix.
type Store struct {
	paths *paths.Paths
}

func New(p *paths.Paths) *Store {
	return &Store{paths: p}
}

// ShortID returns the symlink-farm token for a layer id: its first 26
// characters (cuid2 ids contain no '-', so no filtering is required; the
// reference implementation's "first 26 non-'-' chars" rule degenerates to
// this for hyphen-free ids).
func ShortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

// CreateLayerDirs creates <layers>/<id>/ with empty diff/ and work/, writes
// the lower chain, writes the short-id link token, and creates the
// layers/l/<short> symlink pointing at ../<id>/diff.
func (s *Store) CreateLayerDirs(id, lowerChain string) error {
	if err := os.MkdirAll(s.paths.LayerDiff(id), 0755); err != nil {
		return zockererr.IO("create layer diff dir", err)
	}
	if err := os.MkdirAll(s.paths.LayerWork(id), 0755); err != nil {
		return zockererr.IO("create layer work dir", err)
	}
	if err := os.WriteFile(s.paths.LayerLower(id), []byte(lowerChain), 0644); err != nil {
		return zockererr.IO("write layer lower file", err)
	}

	short := ShortID(id)
	if err := os.WriteFile(s.paths.LayerLink(id), []byte(short), 0644); err != nil {
		return zockererr.IO("write layer link file", err)
	}

	linkPath := s.paths.LayerLinkPath(short)
	os.Remove(linkPath)
	target := "../" + id + "/diff"
	if err := os.Symlink(target, linkPath); err != nil {
		return zockererr.IO("create short-id symlink", err)
	}

	return nil
}

// RemoveLayerDirs removes a layer's directory and its short-id symlink.
// Used to clean up a half-built layer on applier failure.
func (s *Store) RemoveLayerDirs(id string) {
	short := ShortID(id)
	os.Remove(s.paths.LayerLinkPath(short))
	os.RemoveAll(s.paths.LayerDir(id))
}

// Exists reports whether a layer is "live": its directory exists and its
// meta file is present and readable. A layer with no meta file is treated
// as absent (the meta file is the commit marker).
func (s *Store) Exists(id string) bool {
	if _, err := os.Stat(s.paths.LayerDir(id)); err != nil {
		return false
	}
	_, err := s.ReadLayerMetadata(id)
	return err == nil
}

// WriteLayerMetadata persists a layer's meta file as key=value lines.
func (s *Store) WriteLayerMetadata(m Metadata) error {
	parent := m.Parent
	if parent == "" {
		parent = noParentSentinel
	}
	lines := []string{
		"id=" + m.ID,
		"parent=" + parent,
		"hash=" + m.Hash,
		"created_at=" + strconv.FormatInt(m.CreatedAt, 10),
		"size=" + strconv.FormatInt(m.Size, 10),
		"instruction=" + m.Instruction,
		"workdir=" + m.Workdir,
	}
	content := strings.Join(lines, "\n") + "\n"

	tmp := s.paths.LayerMeta(m.ID) + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return zockererr.IO("write layer metadata tmp file", err)
	}
	if err := os.Rename(tmp, s.paths.LayerMeta(m.ID)); err != nil {
		return zockererr.IO("commit layer metadata", err)
	}
	return nil
}

// ReadLayerMetadata reads and parses a layer's meta file. Unknown keys are
// ignored; id is taken from the caller-supplied parameter, not re-read from
// the file content (matching the reference implementation, where the id is
// always already known by the caller before the read).
func (s *Store) ReadLayerMetadata(id string) (Metadata, error) {
	data, err := os.ReadFile(s.paths.LayerMeta(id))
	if err != nil {
		return Metadata{}, zockererr.Store("read layer metadata", err)
	}

	m := Metadata{ID: id, Parent: noParentSentinel}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "parent":
			m.Parent = value
		case "hash":
			m.Hash = value
		case "created_at":
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				m.CreatedAt = v
			}
		case "size":
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				m.Size = v
			}
		case "instruction":
			m.Instruction = value
		case "workdir":
			m.Workdir = value
		}
	}
	return m, nil
}

// NowMetadata builds a Metadata record with CreatedAt set to the current
// epoch seconds and Size computed from the layer's diff directory.
func (s *Store) NowMetadata(id, parent, hash, instruction, workdir string) (Metadata, error) {
	size, err := hashutil.DirSizeBytes(s.paths.LayerDiff(id))
	if err != nil {
		return Metadata{}, zockererr.IO("compute layer size", err)
	}
	if parent == "" {
		parent = noParentSentinel
	}
	return Metadata{
		ID:          id,
		Parent:      parent,
		Hash:        hash,
		CreatedAt:   time.Now().Unix(),
		Size:        size,
		Instruction: instruction,
		Workdir:     workdir,
	}, nil
}

// readLowerFile returns the raw colon-separated entries of a layer's lower
// file, or nil if the file is empty or missing.
func (s *Store) readLowerFile(id string) ([]string, error) {
	data, err := os.ReadFile(s.paths.LayerLower(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, zockererr.IO("read layer lower file", err)
	}
	line := strings.TrimSpace(string(data))
	if line == "" {
		return nil, nil
	}
	return strings.Split(line, ":"), nil
}

// normalizeChainEntry rewrites a <layers>/<id>/diff entry to its preferred
// l/<short> symlink form when that symlink exists; already-symlinked
// entries and foreign (external-runtime) entries pass through unchanged.
func (s *Store) normalizeChainEntry(entry string) string {
	id := extractLayerIDFromDiffEntry(entry, s.paths.LayersDir())
	if id == "" {
		return entry
	}
	short := ShortID(id)
	linkPath := s.paths.LayerLinkPath(short)
	if _, err := os.Lstat(linkPath); err == nil {
		return linkPath
	}
	return entry
}

// extractLayerIDFromDiffEntry returns the layer id if entry is exactly
// <layersDir>/<id>/diff, else "".
func extractLayerIDFromDiffEntry(entry, layersDir string) string {
	prefix := layersDir + "/"
	if !strings.HasPrefix(entry, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(entry, prefix)
	id, suffix, ok := strings.Cut(rest, "/")
	if !ok || suffix != "diff" || id == "" {
		return ""
	}
	return id
}

// appendChainEntry normalizes entry and appends it to chain unless already
// present.
func (s *Store) appendChainEntry(chain []string, entry string) []string {
	norm := s.normalizeChainEntry(entry)
	for _, c := range chain {
		if c == norm {
			return chain
		}
	}
	return append(chain, norm)
}

// LayerChainFromTop returns the colon-separated overlay lower chain for a
// layer: its own short-id symlink first, then the normalized entries of its
// lower file.
func (s *Store) LayerChainFromTop(id string) (string, error) {
	short := ShortID(id)
	own := s.paths.LayerLinkPath(short)

	lowers, err := s.readLowerFile(id)
	if err != nil {
		return "", err
	}

	var chain []string
	chain = s.appendChainEntry(chain, own)
	for _, l := range lowers {
		if l == "" {
			continue
		}
		chain = s.appendChainEntry(chain, l)
	}
	return strings.Join(chain, ":"), nil
}

// HasParent reports whether m names a parent layer, i.e. its Parent is
// neither empty nor the "-" sentinel.
func (m Metadata) HasParent() bool {
	return m.Parent != "" && m.Parent != noParentSentinel
}

// NoParent is the sentinel value denoting "no parent layer".
const NoParent = noParentSentinel
