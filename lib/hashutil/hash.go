// Package hashutil implements the path-normalization, recursive-copy, and
// content-hashing primitives the rest of the store is built on. The hash is
// a 64-bit FNV-1a-style fold rendered as 16 lowercase hex chars — it is a
// cache key, not a cryptographic digest.
package hashutil

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	fnvOffset uint64 = 0xcbf29ce484222325
	fnvPrime  uint64 = 0x100000001b3
)

// foldState carries the running fold across a stream of updates.
type foldState struct {
	h uint64
}

func newFold() *foldState {
	return &foldState{h: fnvOffset}
}

func (f *foldState) update(b []byte) {
	for _, c := range b {
		f.h ^= uint64(c)
		f.h *= fnvPrime
	}
}

func (f *foldState) hex() string {
	return fmt.Sprintf("%016x", f.h)
}

// HashString folds the UTF-8 bytes of s. The empty string is a valid input.
func HashString(s string) string {
	f := newFold()
	f.update([]byte(s))
	return f.hex()
}

// HashFileContent folds the raw bytes of the file at path, streaming rather
// than loading the whole file into memory.
func HashFileContent(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fold := newFold()
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			fold.update(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
	}
	return fold.hex(), nil
}

// HashPathRecursive walks path and folds a deterministic tree hash:
//
//	files:      'F', relative path, size (little-endian u64), file bytes
//	directories:'D', relative path, then children in lexicographic order
//	symlinks:   'L', relative path, link target (no dereference)
//	other:      'O', relative path, mode word
//
// Little-endian is chosen explicitly for cross-machine reproducibility; the
// original C implementation folds native-endian bytes, which only matters
// if the cache is ever shared across architectures of differing endianness.
func HashPathRecursive(root string) (string, error) {
	f := newFold()
	if err := foldPath(f, root, "."); err != nil {
		return "", err
	}
	return f.hex(), nil
}

func foldPath(f *foldState, root, rel string) error {
	info, err := os.Lstat(filepath.Join(root, rel))
	if err != nil {
		return fmt.Errorf("lstat %s: %w", rel, err)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(filepath.Join(root, rel))
		if err != nil {
			return fmt.Errorf("readlink %s: %w", rel, err)
		}
		f.update([]byte("L"))
		f.update([]byte(rel))
		f.update([]byte(target))
		return nil
	case info.IsDir():
		f.update([]byte("D"))
		f.update([]byte(rel))
		entries, err := os.ReadDir(filepath.Join(root, rel))
		if err != nil {
			return fmt.Errorf("readdir %s: %w", rel, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			childRel := name
			if rel != "." {
				childRel = rel + "/" + name
			}
			if err := foldPath(f, root, childRel); err != nil {
				return err
			}
		}
		return nil
	case info.Mode().IsRegular():
		f.update([]byte("F"))
		f.update([]byte(rel))
		var sizeBuf [8]byte
		binary.LittleEndian.PutUint64(sizeBuf[:], uint64(info.Size()))
		f.update(sizeBuf[:])
		content, err := os.Open(filepath.Join(root, rel))
		if err != nil {
			return fmt.Errorf("open %s: %w", rel, err)
		}
		defer content.Close()
		buf := make([]byte, 64*1024)
		for {
			n, rerr := content.Read(buf)
			if n > 0 {
				f.update(buf[:n])
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return fmt.Errorf("read %s: %w", rel, rerr)
			}
		}
		return nil
	default:
		f.update([]byte("O"))
		f.update([]byte(rel))
		var modeBuf [4]byte
		binary.LittleEndian.PutUint32(modeBuf[:], uint32(info.Mode()))
		f.update(modeBuf[:])
		return nil
	}
}

// NormalizeContainerPath returns an absolute path with "." and ".." segments
// collapsed. A relative path is joined against workdir (defaulting to "/").
// ".." at the root is a no-op, not an error. The result always begins with
// "/".
func NormalizeContainerPath(workdir, path string) string {
	if workdir == "" {
		workdir = "/"
	}
	full := path
	if !strings.HasPrefix(path, "/") {
		full = workdir + "/" + path
	}

	segments := strings.Split(full, "/")
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}
	return "/" + strings.Join(stack, "/")
}

// DirSizeBytes returns the aggregate size of the regular files beneath
// root. Directories themselves and symlinks contribute zero bytes.
func DirSizeBytes(root string) (int64, error) {
	var total int64
	info, err := os.Lstat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("lstat %s: %w", root, err)
	}
	return dirSizeWalk(root, info, total)
}

func dirSizeWalk(path string, info os.FileInfo, total int64) (int64, error) {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return total, nil
	case info.Mode().IsRegular():
		return total + info.Size(), nil
	case info.IsDir():
		entries, err := os.ReadDir(path)
		if err != nil {
			return total, fmt.Errorf("readdir %s: %w", path, err)
		}
		for _, e := range entries {
			childPath := filepath.Join(path, e.Name())
			childInfo, err := os.Lstat(childPath)
			if err != nil {
				return total, fmt.Errorf("lstat %s: %w", childPath, err)
			}
			total, err = dirSizeWalk(childPath, childInfo, total)
			if err != nil {
				return total, err
			}
		}
		return total, nil
	default:
		return total, nil
	}
}

// RemoveRecursive deletes path and everything beneath it. It is idempotent:
// a missing path is not an error.
func RemoveRecursive(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// JoinPaths joins path segments with "/", collapsing duplicate separators.
func JoinPaths(parts ...string) string {
	return filepath.Join(parts...)
}
