package engine

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/onkernel/zocker/lib/hashutil"
	"github.com/onkernel/zocker/lib/overlay"
	"github.com/onkernel/zocker/lib/zockererr"
)

// applyRun forks a child that chroots into merged, chdirs to workdir, and
// execs "sh -c cmd"; the parent waits and fails on non-zero exit. Go
// expresses fork+chroot+exec as os/exec with SysProcAttr.Chroot, which
// performs the chroot syscall in the child after fork and before exec.
func applyRun(merged, workdir, cmd string) error {
	shPath := filepath.Join(merged, "bin", "sh")
	info, err := os.Stat(shPath)
	if err != nil || info.Mode()&0111 == 0 {
		return zockererr.Child("verify /bin/sh", fmt.Errorf("/bin/sh is not executable in rootfs"))
	}

	if err := os.MkdirAll(filepath.Join(merged, workdir), 0755); err != nil {
		return zockererr.IO("ensure RUN workdir exists", err)
	}

	c := exec.Command("/bin/sh", "-c", cmd)
	c.SysProcAttr = &syscall.SysProcAttr{Chroot: merged}
	c.Dir = workdir
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr

	if err := c.Run(); err != nil {
		return zockererr.Child(fmt.Sprintf("RUN %q", cmd), err)
	}
	return nil
}

// applyWorkdir creates the directory (and parents) beneath merged, mode 0755.
func applyWorkdir(merged, normalizedPath string) error {
	target, err := securejoin.SecureJoin(merged, normalizedPath)
	if err != nil {
		return zockererr.IO("resolve WORKDIR path", err)
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return zockererr.IO("create WORKDIR directory", err)
	}
	return nil
}

// applyCopyContext resolves src against the buildfile's context directory
// and recursively copies it into the normalized destination beneath merged.
func applyCopyContext(contextDir, merged, src, normalizedDst string) error {
	hostSrc := filepath.Join(contextDir, src)
	if filepath.IsAbs(src) {
		hostSrc = src
	}
	dst, err := securejoin.SecureJoin(merged, normalizedDst)
	if err != nil {
		return zockererr.IO("resolve COPY destination", err)
	}
	if err := hashutil.CopyPathRecursive(hostSrc, dst); err != nil {
		return zockererr.IO(fmt.Sprintf("COPY %s -> %s", src, normalizedDst), err)
	}
	return nil
}

// withStageSnapshot overlay-mounts sourceChain onto a scratch merged path
// with empty upper/work, invokes use with the merged root, and always
// unmounts and removes the scratch directory on every exit path.
func withStageSnapshot(tmpRoot, sourceChain string, use func(mergedRoot string) error) error {
	scratch, err := os.MkdirTemp(tmpRoot, "snapshot_")
	if err != nil {
		return zockererr.IO("create snapshot scratch dir", err)
	}
	defer os.RemoveAll(scratch)

	upper := filepath.Join(scratch, "upper")
	work := filepath.Join(scratch, "work")
	merged := filepath.Join(scratch, "merged")
	for _, d := range []string{upper, work, merged} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return zockererr.IO("create snapshot dirs", err)
		}
	}

	opts := overlay.Options{LowerChain: sourceChain, Upper: upper, Work: work}
	if err := overlay.Mount(opts, merged); err != nil {
		return err
	}
	defer overlay.Unmount(merged)

	return use(merged)
}

// applyCopyFromStage performs the same recursive copy as applyCopyContext
// but reads from a read-only snapshot of another stage's current chain.
// The source path is normalized against "/", not the destination stage's
// workdir: COPY --from=x ./a /b resolves ./a against "/", yielding /a.
func applyCopyFromStage(tmpRoot, sourceChain, merged, rawSrc, normalizedDst string) error {
	normalizedSrc := hashutil.NormalizeContainerPath("/", rawSrc)
	dst, err := securejoin.SecureJoin(merged, normalizedDst)
	if err != nil {
		return zockererr.IO("resolve COPY --from destination", err)
	}

	return withStageSnapshot(tmpRoot, sourceChain, func(mergedRoot string) error {
		srcPath, err := securejoin.SecureJoin(mergedRoot, normalizedSrc)
		if err != nil {
			return zockererr.IO("resolve COPY --from source", err)
		}
		if err := hashutil.CopyPathRecursive(srcPath, dst); err != nil {
			return zockererr.IO(fmt.Sprintf("COPY --from %s -> %s", rawSrc, normalizedDst), err)
		}
		return nil
	})
}

// applyAddFile is identical to applyCopyContext.
func applyAddFile(contextDir, merged, src, normalizedDst string) error {
	return applyCopyContext(contextDir, merged, src, normalizedDst)
}

// applyAddURL downloads url to a scratch temp dir, copies it into the
// rootfs, then cleans the temp dir.
func applyAddURL(tmpRoot, merged, url, normalizedDst string) error {
	scratch, err := os.MkdirTemp(tmpRoot, "add_")
	if err != nil {
		return zockererr.IO("create ADD scratch dir", err)
	}
	defer os.RemoveAll(scratch)

	downloadPath := filepath.Join(scratch, "download.bin")
	if err := fetchURL(url, downloadPath); err != nil {
		return zockererr.Child(fmt.Sprintf("fetch %s", url), err)
	}

	dst, err := securejoin.SecureJoin(merged, normalizedDst)
	if err != nil {
		return zockererr.IO("resolve ADD destination", err)
	}
	if err := hashutil.CopyPathRecursive(downloadPath, dst); err != nil {
		return zockererr.IO(fmt.Sprintf("ADD %s -> %s", url, normalizedDst), err)
	}
	return nil
}

// fetchURL is the core's "fetch url to file" external collaborator,
// implemented directly over net/http rather than shelling out to curl —
// spec.md treats this capability as opaque to the core; a network client
// is the idiomatic Go substitute for the reference implementation's
// curl-subprocess approach.
func fetchURL(url, dst string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.ReadFrom(resp.Body); err != nil {
		return err
	}
	return nil
}
