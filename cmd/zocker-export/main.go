// Command zocker-export packages a built image's layer chain as a
// standalone OCI image layout directory, for handing off to tooling that
// consumes go-containerregistry-compatible layouts (e.g. `skopeo copy
// oci:...`) rather than zocker's own overlay store.
package main

import (
	"archive/tar"
	"compress/gzip"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/onkernel/zocker/lib/images"
	"github.com/onkernel/zocker/lib/layers"
	zconfig "github.com/onkernel/zocker/lib/config"
	"github.com/onkernel/zocker/lib/paths"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "[ERR] %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	ref := flag.String("image", "", "image reference (name:tag) to export")
	out := flag.String("out", "", "output OCI layout directory")
	flag.Parse()
	if *ref == "" || *out == "" {
		return fmt.Errorf("usage: zocker-export -image name:tag -out DIR")
	}

	cfg := zconfig.Load()
	p := paths.New(cfg.StorePrefix)
	layerStore := layers.New(p)
	imageStore := images.New(p)

	meta, err := imageStore.Load(*ref)
	if err != nil {
		return err
	}

	history, err := images.History(layerStore, meta.TopLayer)
	if err != nil {
		return err
	}

	img := empty.Image
	// history is top-to-base; layers must be appended base-to-top.
	for i := len(history) - 1; i >= 0; i-- {
		diffDir := p.LayerDiff(history[i].LayerID)
		tarPath, err := tarDirToTemp(diffDir)
		if err != nil {
			return err
		}
		defer os.Remove(tarPath)

		layer, err := tarball.LayerFromFile(tarPath)
		if err != nil {
			return fmt.Errorf("build layer from %s: %w", diffDir, err)
		}
		img, err = mutate.AppendLayers(img, layer)
		if err != nil {
			return fmt.Errorf("append layer %s: %w", history[i].LayerID, err)
		}
	}

	img, err = mutate.ConfigFile(img, &v1.ConfigFile{
		Config: v1.Config{Cmd: []string{meta.Cmd}},
	})
	if err != nil {
		return fmt.Errorf("set config: %w", err)
	}

	lp, err := layout.Write(*out, empty.Index)
	if err != nil {
		return fmt.Errorf("init oci layout %s: %w", *out, err)
	}
	if err := lp.AppendImage(img); err != nil {
		return fmt.Errorf("write image into layout: %w", err)
	}

	fmt.Printf("exported %s (%d layers) to %s\n", *ref, len(history), *out)
	return nil
}

// tarDirToTemp tars dir's contents into a fresh temp .tar.gz file and
// returns its path.
func tarDirToTemp(dir string) (string, error) {
	f, err := os.CreateTemp("", "zocker-export-layer-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("create temp layer tar: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			src, err := os.Open(path)
			if err != nil {
				return err
			}
			defer src.Close()
			if _, err := io.Copy(tw, src); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("tar layer contents: %w", err)
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}
