// Package externalimage implements the External Base Resolver: turning a
// FROM reference into an overlay lower-chain, consulting the local Image
// Store, an external container runtime's upper-directory convention, and
// (as a domain-stack enrichment) a real OCI registry pull.
package externalimage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/onkernel/zocker/lib/images"
	"github.com/onkernel/zocker/lib/layers"
	"github.com/onkernel/zocker/lib/zockererr"
)

// ExternalRuntime is the opaque "resolve external image to an overlay upper
// directory" capability spec.md places out of core scope. A nil value
// means no external runtime is configured; lookups against it always miss.
type ExternalRuntime interface {
	// UpperDir returns the overlay upper directory backing ref in the
	// external runtime's own image store, or an error if ref is unknown
	// to it.
	UpperDir(ref string) (string, error)
}

// Puller is the OCI-registry pull capability (domain-stack enrichment);
// nil disables registry fallback.
type Puller interface {
	// PullBaseLayer pulls ref from a registry and returns a layer id
	// already registered in the Layer Store with no parent, ready to be
	// used as a chain entry.
	PullBaseLayer(ref string) (layerID string, err error)
}

// Resolver implements engine.BaseResolver.
type Resolver struct {
	layers  *layers.Store
	images  *images.Store
	runtime ExternalRuntime
	puller  Puller
}

func New(layerStore *layers.Store, imageStore *images.Store, runtime ExternalRuntime, puller Puller) *Resolver {
	return &Resolver{layers: layerStore, images: imageStore, runtime: runtime, puller: puller}
}

// ResolveChain implements §4.8's branching:
//   - absolute path containing ':' -> already-formed chain, returned verbatim
//   - absolute path without ':' -> external runtime upper-dir chain, else the
//     path itself as a single-entry chain
//   - otherwise ("name[:tag]") -> local Image Store, else external runtime,
//     else (enrichment) a registry pull
func (r *Resolver) ResolveChain(ref string) (string, error) {
	if filepath.IsAbs(ref) {
		if strings.Contains(ref, ":") {
			return ref, nil
		}
		if chain, err := r.chainFromExternalUpperDir(ref); err == nil {
			return chain, nil
		}
		return ref, nil
	}

	if chain, err := r.resolveZockerImageChain(ref); err == nil {
		return chain, nil
	}

	if r.runtime != nil {
		if upper, err := r.runtime.UpperDir(ref); err == nil {
			return r.chainFromExternalUpperDir(upper)
		}
	}

	if r.puller != nil {
		layerID, err := r.puller.PullBaseLayer(ref)
		if err != nil {
			return "", zockererr.Resolve("pull base image", err)
		}
		return r.layers.LayerChainFromTop(layerID)
	}

	return "", zockererr.Resolvef("resolve base image", "cannot resolve base reference %q", ref)
}

// resolveZockerImageChain resolves ref against the local Image Store.
func (r *Resolver) resolveZockerImageChain(ref string) (string, error) {
	meta, err := r.images.Load(ref)
	if err != nil {
		return "", err
	}
	return r.layers.LayerChainFromTop(meta.TopLayer)
}

// chainFromExternalUpperDir builds a chain from an external upper directory
// U: strip a trailing "/diff" from U to obtain O; read O/lower (a
// colon-separated list of relative paths); emit U first, then each listed
// entry resolved as O/../<entry>. If O/lower is absent, emit just U.
func (r *Resolver) chainFromExternalUpperDir(upper string) (string, error) {
	base := strings.TrimSuffix(upper, "/diff")
	lowerFile := filepath.Join(base, "lower")

	data, err := os.ReadFile(lowerFile)
	if err != nil {
		if os.IsNotExist(err) {
			return upper, nil
		}
		return "", zockererr.IO("read external lower file", err)
	}

	line := strings.TrimSpace(string(data))
	if line == "" {
		return upper, nil
	}

	parent := filepath.Dir(base)
	entries := []string{upper}
	for _, e := range strings.Split(line, ":") {
		if e == "" {
			continue
		}
		entries = append(entries, filepath.Join(parent, e))
	}
	return strings.Join(entries, ":"), nil
}
