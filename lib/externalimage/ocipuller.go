package externalimage

import (
	"context"
	"fmt"
	"os"

	"github.com/containers/image/v5/copy"
	"github.com/containers/image/v5/docker"
	"github.com/containers/image/v5/oci/layout"
	"github.com/containers/image/v5/signature"
	"github.com/distribution/reference"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	rspec "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/opencontainers/umoci/oci/cas/dir"
	"github.com/opencontainers/umoci/oci/casext"
	"github.com/opencontainers/umoci/oci/layer"
	"github.com/nrednav/cuid2"

	"github.com/onkernel/zocker/lib/layers"
	"github.com/onkernel/zocker/lib/paths"
	"github.com/onkernel/zocker/lib/zockererr"
)

// OCIPuller implements Puller by pulling an image from a real OCI registry
// and unpacking it into a fresh base layer, adapted from the teacher's
// containers/image + umoci pull pipeline.
type OCIPuller struct {
	paths  *paths.Paths
	layers *layers.Store
}

func NewOCIPuller(p *paths.Paths, layerStore *layers.Store) *OCIPuller {
	return &OCIPuller{paths: p, layers: layerStore}
}

// PullBaseLayer pulls ref (a "name[:tag]" registry reference), unpacks its
// merged rootfs into a fresh layer with no parent, and returns that layer's
// id.
func (o *OCIPuller) PullBaseLayer(ref string) (string, error) {
	if _, err := reference.ParseNormalizedNamed(ref); err != nil {
		return "", zockererr.Resolvef("pull base image", "not a valid registry reference %q: %v", ref, err)
	}

	ctx := context.Background()

	ociLayoutDir, err := os.MkdirTemp(o.paths.TmpDir(), fmt.Sprintf("pull_%d_", os.Getpid()))
	if err != nil {
		return "", zockererr.IO("create oci layout scratch dir", err)
	}
	defer os.RemoveAll(ociLayoutDir)

	if err := pullToOCILayout(ctx, ref, ociLayoutDir); err != nil {
		return "", zockererr.Resolve("pull to oci layout", err)
	}

	id := cuid2.Generate()
	if err := o.layers.CreateLayerDirs(id, ""); err != nil {
		return "", err
	}

	if err := unpackLayers(ctx, ociLayoutDir, o.paths.LayerDiff(id)); err != nil {
		o.layers.RemoveLayerDirs(id)
		return "", zockererr.Resolve("unpack oci layers", err)
	}

	meta, err := o.layers.NowMetadata(id, "", "", fmt.Sprintf("FROM %s (oci pull)", ref), "/")
	if err != nil {
		o.layers.RemoveLayerDirs(id)
		return "", err
	}
	if err := o.layers.WriteLayerMetadata(meta); err != nil {
		o.layers.RemoveLayerDirs(id)
		return "", err
	}

	return id, nil
}

func pullToOCILayout(ctx context.Context, imageRef, ociLayoutDir string) error {
	srcRef, err := docker.ParseReference("//" + imageRef)
	if err != nil {
		return fmt.Errorf("parse image reference: %w", err)
	}

	destRef, err := layout.ParseReference(ociLayoutDir + ":latest")
	if err != nil {
		return fmt.Errorf("parse oci layout reference: %w", err)
	}

	policyContext, err := signature.NewPolicyContext(&signature.Policy{
		Default: []signature.PolicyRequirement{signature.NewPRInsecureAcceptAnything()},
	})
	if err != nil {
		return fmt.Errorf("create policy context: %w", err)
	}
	defer policyContext.Destroy()

	_, err = copy.Image(ctx, policyContext, destRef, srcRef, &copy.Options{})
	if err != nil {
		return fmt.Errorf("copy image: %w", err)
	}
	return nil
}

func unpackLayers(ctx context.Context, ociLayoutDir, targetDir string) error {
	casEngine, err := dir.Open(ociLayoutDir)
	if err != nil {
		return fmt.Errorf("open oci layout: %w", err)
	}
	defer casEngine.Close()

	engine := casext.NewEngine(casEngine)

	descriptorPaths, err := engine.ResolveReference(ctx, "latest")
	if err != nil {
		return fmt.Errorf("resolve reference: %w", err)
	}
	if len(descriptorPaths) == 0 {
		return fmt.Errorf("no image found in oci layout")
	}

	manifestBlob, err := engine.FromDescriptor(ctx, descriptorPaths[0].Descriptor())
	if err != nil {
		return fmt.Errorf("get manifest: %w", err)
	}
	manifest, ok := manifestBlob.Data.(v1.Manifest)
	if !ok {
		return fmt.Errorf("manifest data is not v1.Manifest (got %T)", manifestBlob.Data)
	}

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}

	uid := uint32(os.Getuid())
	gid := uint32(os.Getgid())
	unpackOpts := &layer.UnpackOptions{
		OnDiskFormat: layer.DirRootfs{
			MapOptions: layer.MapOptions{
				Rootless:    true,
				UIDMappings: []rspec.LinuxIDMapping{{HostID: uid, ContainerID: 0, Size: 1}},
				GIDMappings: []rspec.LinuxIDMapping{{HostID: gid, ContainerID: 0, Size: 1}},
			},
		},
	}

	return layer.UnpackRootfs(ctx, casEngine, targetDir, manifest, unpackOpts)
}
