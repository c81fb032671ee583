// Package overlay builds and validates overlay filesystem mount options and
// performs the mount/unmount syscalls via golang.org/x/sys/unix.
package overlay

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/onkernel/zocker/lib/zockererr"
)

// Options are the three directories an overlay mount is built from.
type Options struct {
	LowerChain string // colon-separated, highest priority first
	Upper      string
	Work       string
}

// MountOpts renders the mount(2) data argument: "lowerdir=...,upperdir=...,workdir=...".
func (o Options) MountOpts() string {
	return fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", o.LowerChain, o.Upper, o.Work)
}

// Validate canonicalizes upper and work and rejects a mount where either is
// the lower path itself or is contained within it. The root case ("/") is
// explicitly rejected as both upper/work and as a lower entry, since an
// overlay can never nest at the filesystem root.
func (o Options) Validate() error {
	upper, err := canonicalize(o.Upper)
	if err != nil {
		return zockererr.Mount("canonicalize upperdir", err)
	}
	work, err := canonicalize(o.Work)
	if err != nil {
		return zockererr.Mount("canonicalize workdir", err)
	}
	if upper == "/" || work == "/" {
		return zockererr.Resolvef("validate overlay options", "upperdir/workdir must not be the filesystem root")
	}

	for _, lowerRaw := range strings.Split(o.LowerChain, ":") {
		if lowerRaw == "" {
			continue
		}
		lower, err := canonicalize(lowerRaw)
		if err != nil {
			// A lower entry may be a dangling/foreign path we can't stat
			// (e.g. it belongs to an external runtime); skip nesting
			// validation for it rather than failing the whole mount.
			continue
		}
		if lower == "/" {
			return zockererr.Resolvef("validate overlay options", "lowerdir must not be the filesystem root")
		}
		if isNestedOrSame(upper, lower) {
			return zockererr.Resolvef("validate overlay options", "upperdir %s is nested inside lowerdir %s", o.Upper, lowerRaw)
		}
		if isNestedOrSame(work, lower) {
			return zockererr.Resolvef("validate overlay options", "workdir %s is nested inside lowerdir %s", o.Work, lowerRaw)
		}
	}
	return nil
}

// canonicalize cleans a path without requiring it to exist (overlay
// components may not exist yet at validation time, e.g. work/ before its
// first use).
func canonicalize(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	return filepath.Clean(p), nil
}

// isNestedOrSame reports whether candidate equals base or is a proper
// descendant of it, honoring path-segment boundaries so "/a/bc" is not
// considered inside "/a/b".
func isNestedOrSame(candidate, base string) bool {
	if candidate == base {
		return true
	}
	prefix := strings.TrimSuffix(base, "/") + "/"
	return strings.HasPrefix(candidate, prefix)
}

// Mount validates o and performs the overlay mount syscall onto target.
func Mount(o Options, target string) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if err := unix.Mount("overlay", target, "overlay", 0, o.MountOpts()); err != nil {
		return zockererr.Mount(fmt.Sprintf("mount overlay at %s", target), err)
	}
	return nil
}

// Unmount always attempts the unmount syscall. Callers should call this on
// every exit path; failures here are reported but must never mask an
// underlying build error the caller already has.
func Unmount(target string) error {
	if err := unix.Unmount(target, 0); err != nil {
		return zockererr.Mount(fmt.Sprintf("unmount %s", target), err)
	}
	return nil
}
