// Command zocker is the CLI entrypoint wiring the Layer Store, Image Store,
// Build Cache, Overlay Mount Manager, and Build Engine into the subcommand
// verbs described by the external interface: build, run, history, images,
// rmi, prune, exec (reserved).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/onkernel/zocker/lib/cache"
	zconfig "github.com/onkernel/zocker/lib/config"
	"github.com/onkernel/zocker/lib/engine"
	"github.com/onkernel/zocker/lib/externalimage"
	"github.com/onkernel/zocker/lib/images"
	"github.com/onkernel/zocker/lib/layers"
	"github.com/onkernel/zocker/lib/logger"
	"github.com/onkernel/zocker/lib/metrics"
	"github.com/onkernel/zocker/lib/paths"
	"github.com/onkernel/zocker/lib/zockererr"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "[ERR] %s\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg      *zconfig.Config
	log      *slog.Logger
	paths    *paths.Paths
	layers   *layers.Store
	images   *images.Store
	cache    *cache.Cache
	resolver *externalimage.Resolver
	engine   *engine.Engine
}

func newApp() (*app, error) {
	cfg := zconfig.Load()
	if err := cfg.Validate(); err != nil {
		return nil, zockererr.Config("invalid configuration", err)
	}

	log := logger.New(logger.Config{DefaultLevel: parseSlogLevel(cfg.LogLevel)})

	if err := paths.EnsureStoreLayout(cfg.StorePrefix); err != nil {
		return nil, err
	}

	p := paths.New(cfg.StorePrefix)
	layerStore := layers.New(p)
	imageStore := images.New(p)
	buildCache := cache.New(p, layerStore)

	var puller *externalimage.OCIPuller
	if cfg.PullEnabled {
		puller = externalimage.NewOCIPuller(p, layerStore)
	}
	resolver := externalimage.New(layerStore, imageStore, nil, pullerOrNil(puller))
	eng := engine.New(p, layerStore, imageStore, buildCache, resolver, log)

	if cfg.OtelEnabled {
		instanceID := cfg.OtelServiceInstanceID
		if instanceID == "" {
			if h, err := os.Hostname(); err == nil {
				instanceID = h
			}
		}
		provider, _, err := metrics.Init(context.Background(), metrics.Config{
			Enabled:           true,
			Endpoint:          cfg.OtelEndpoint,
			ServiceName:       "zocker",
			ServiceInstanceID: instanceID,
			Insecure:          cfg.OtelInsecure,
		})
		if err != nil {
			return nil, zockererr.Config("initialize metrics", err)
		}
		eng.SetMeterProvider(provider.MeterProvider)
	}

	return &app{
		cfg: cfg, log: log, paths: p,
		layers: layerStore, images: imageStore, cache: buildCache,
		resolver: resolver, engine: eng,
	}, nil
}

// pullerOrNil avoids passing a non-nil interface wrapping a nil *OCIPuller.
func pullerOrNil(p *externalimage.OCIPuller) externalimage.Puller {
	if p == nil {
		return nil
	}
	return p
}

func parseSlogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return zockererr.Config("no subcommand given", fmt.Errorf("usage: zocker <build|run|history|images|rmi|prune|exec> ..."))
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	switch args[0] {
	case "build":
		return a.cmdBuild(args[1:])
	case "images":
		return a.cmdImages(args[1:])
	case "history":
		return a.cmdHistory(args[1:])
	case "rmi":
		return a.cmdRmi(args[1:])
	case "prune":
		return a.cmdPrune(args[1:])
	case "run":
		return a.cmdRun(args[1:])
	case "exec":
		return zockererr.Config("exec not implemented", fmt.Errorf("exec is reserved for a future release"))
	default:
		return zockererr.Config("unknown subcommand", fmt.Errorf("%q", args[0]))
	}
}

type buildArgList []string

func (b *buildArgList) String() string { return strings.Join(*b, ",") }
func (b *buildArgList) Set(v string) error {
	*b = append(*b, v)
	return nil
}

func (a *app) cmdBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	file := fs.String("f", "Buildfile", "path to the buildfile")
	tag := fs.String("t", "", "output image reference (name:tag)")
	var buildArgs buildArgList
	fs.Var(&buildArgs, "build-arg", "build argument KEY=VALUE (repeatable)")
	if err := fs.Parse(args); err != nil {
		return zockererr.Config("parse build flags", err)
	}
	if *tag == "" {
		return zockererr.Config("missing required flag", fmt.Errorf("-t <name:tag> is required"))
	}

	cliArgs := map[string]string{}
	for _, kv := range buildArgs {
		k, v, found := strings.Cut(kv, "=")
		if !found {
			return zockererr.Config("bad --build-arg", fmt.Errorf("expected KEY=VALUE, got %q", kv))
		}
		cliArgs[k] = v
	}

	res, err := a.engine.Build(context.Background(), engine.Config{
		BuildfilePath: *file,
		ImageRef:      *tag,
		CLIArgs:       cliArgs,
	})
	if err != nil {
		return err
	}
	fmt.Printf("built %s (top layer %s)\n", res.ImageRef, res.TopLayer)
	return nil
}

func (a *app) cmdImages(_ []string) error {
	list, err := a.images.List()
	if err != nil {
		return err
	}
	fmt.Printf("%-30s %-16s %-10s\n", "REPOSITORY:TAG", "LAYER", "CREATED")
	for _, m := range list {
		age := images.FormatAge(time.Now().Unix() - m.CreatedAt)
		layer := m.TopLayer
		if len(layer) > 16 {
			layer = layer[:16]
		}
		fmt.Printf("%-30s %-16s %-10s\n", m.Ref, layer, age+" ago")
	}
	return nil
}

func (a *app) cmdHistory(args []string) error {
	if len(args) == 0 {
		return zockererr.Config("missing argument", fmt.Errorf("usage: zocker history <name:tag>"))
	}
	meta, err := a.images.Load(args[0])
	if err != nil {
		return err
	}
	hist, err := images.History(a.layers, meta.TopLayer)
	if err != nil {
		return err
	}
	fmt.Printf("%-16s %-10s %-8s %s\n", "LAYER", "SIZE", "AGE", "INSTRUCTION")
	for _, h := range hist {
		age := images.FormatAge(time.Now().Unix() - h.CreatedAt)
		fmt.Printf("%-16s %-10d %-8s %s\n", h.LayerID, h.Size, age, h.Instruction)
	}
	return nil
}

func (a *app) cmdRmi(args []string) error {
	if len(args) == 0 {
		return zockererr.Config("missing argument", fmt.Errorf("usage: zocker rmi <name:tag>"))
	}
	if err := a.images.Remove(args[0]); err != nil {
		if errors.Is(err, images.ErrNotFound) {
			return zockererr.Storef("rmi", "no such image: %s", args[0])
		}
		return err
	}
	fmt.Printf("removed %s\n", args[0])
	return nil
}

func (a *app) cmdPrune(_ []string) error {
	tops, err := a.images.TopLayers()
	if err != nil {
		return err
	}
	removed, err := a.layers.Prune(tops)
	if err != nil {
		return err
	}
	staleCache, err := a.layers.PruneStaleCacheEntries()
	if err != nil {
		return err
	}
	fmt.Printf("removed %d unreferenced layers, %d stale cache entries\n", removed, staleCache)
	return nil
}

// cmdRun implements the run-a-container verb only to the extent of
// resolving a base reference to an overlay chain; the namespace/chroot
// process runner itself is an external collaborator outside core scope.
func (a *app) cmdRun(args []string) error {
	if len(args) == 0 {
		return zockererr.Config("missing argument", fmt.Errorf("usage: zocker run <base-ref> -- <command...>"))
	}
	chain, err := a.resolver.ResolveChain(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "[WARN] run: resolved base %q to chain %q; process execution is delegated to an external runner\n", args[0], chain)
	return nil
}
