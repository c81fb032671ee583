package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nrednav/cuid2"
	"go.opentelemetry.io/otel/metric"

	"github.com/onkernel/zocker/lib/buildfile"
	"github.com/onkernel/zocker/lib/cache"
	"github.com/onkernel/zocker/lib/hashutil"
	"github.com/onkernel/zocker/lib/images"
	"github.com/onkernel/zocker/lib/layers"
	"github.com/onkernel/zocker/lib/overlay"
	"github.com/onkernel/zocker/lib/paths"
	"github.com/onkernel/zocker/lib/zockererr"
)

// BaseResolver is the External Base Resolver capability: it turns a FROM
// reference into an overlay lower-chain string.
type BaseResolver interface {
	ResolveChain(ref string) (string, error)
}

// Config describes a single build invocation.
type Config struct {
	BuildfilePath string
	ImageRef      string
	CLIArgs       map[string]string
}

// Engine drives the buildfile instruction-by-instruction against the Layer
// Store, Image Store, and Build Cache.
type Engine struct {
	paths    *paths.Paths
	layers   *layers.Store
	images   *images.Store
	cache    *cache.Cache
	resolver BaseResolver
	logger   *slog.Logger
	metrics  *Metrics
}

func New(p *paths.Paths, layerStore *layers.Store, imageStore *images.Store, buildCache *cache.Cache, resolver BaseResolver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		paths:    p,
		layers:   layerStore,
		images:   imageStore,
		cache:    buildCache,
		resolver: resolver,
		logger:   logger,
		metrics:  NewMetrics(),
	}
}

// SetMeterProvider swaps the engine's metrics for ones backed by provider,
// e.g. an OTLP meter provider wired up at process startup.
func (e *Engine) SetMeterProvider(provider metric.MeterProvider) {
	e.metrics = NewMetricsWithProvider(provider)
}

// Result summarizes a completed build.
type Result struct {
	ImageRef string
	TopLayer string
}

// Build parses and executes cfg.BuildfilePath, publishing cfg.ImageRef on
// success.
func (e *Engine) Build(ctx context.Context, cfg Config) (*Result, error) {
	start := time.Now()
	defer func() { e.metrics.RecordBuildDuration(time.Since(start)) }()

	content, err := os.ReadFile(cfg.BuildfilePath)
	if err != nil {
		return nil, zockererr.IO("read buildfile", err)
	}
	contextDir := filepath.Dir(cfg.BuildfilePath)

	cliArgs := buildfile.ArgScope{}
	for k, v := range cfg.CLIArgs {
		cliArgs[k] = v
	}

	globalArgs := buildfile.ArgScope{}
	var stages []*StageContext
	var stageNames []string
	var current *StageContext

	lines := buildfile.Scan(string(content))

	for _, line := range lines {
		currentScope := globalArgs
		if current != nil {
			currentScope = current.Args
		}
		argText := buildfile.Substitute(line.ArgText, currentScope)

		switch line.Instruction {
		case "ARG":
			key, hasDefault, defExpr := buildfile.ParseArgKV(argText)
			if key == "" {
				return nil, zockererr.Parsef(lineCtx(line), "ARG requires a key")
			}
			val := buildfile.ResolveArg(key, hasDefault, defExpr, cliArgs, currentScope)
			currentScope[key] = val

		case "FROM":
			ref, alias, perr := buildfile.ParseBaseAndAlias(argText)
			if perr != nil {
				return nil, wrapParse(line, perr)
			}
			chain, rerr := e.resolver.ResolveChain(ref)
			if rerr != nil {
				return nil, zockererr.Resolve(lineCtx(line), rerr)
			}
			name := alias
			if name == "" {
				name = fmt.Sprintf("%d", len(stages))
			}
			current = NewStageContext(name, chain, globalArgs)
			stages = append(stages, current)
			stageNames = append(stageNames, name)

		case "BASEDIR":
			pathExpr, alias, perr := buildfile.ParseBaseAndAlias(argText)
			if perr != nil {
				return nil, wrapParse(line, perr)
			}
			dir := pathExpr
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(contextDir, dir)
			}
			info, serr := os.Stat(dir)
			if serr != nil || !info.IsDir() {
				return nil, zockererr.Resolvef(lineCtx(line), "BASEDIR %q is not a directory", pathExpr)
			}
			name := alias
			if name == "" {
				name = fmt.Sprintf("%d", len(stages))
			}
			current = NewStageContext(name, dir, globalArgs)
			stages = append(stages, current)
			stageNames = append(stageNames, name)

		case "RUN":
			if current == nil {
				return nil, zockererr.Parsef(lineCtx(line), "RUN before any FROM/BASEDIR")
			}
			if err := e.applyRunInstruction(current, argText, line); err != nil {
				return nil, err
			}

		case "WORKDIR":
			if current == nil {
				return nil, zockererr.Parsef(lineCtx(line), "WORKDIR before any FROM/BASEDIR")
			}
			if err := e.applyWorkdirInstruction(current, argText, line); err != nil {
				return nil, err
			}

		case "COPY":
			if current == nil {
				return nil, zockererr.Parsef(lineCtx(line), "COPY before any FROM/BASEDIR")
			}
			spec, perr := buildfile.ParseCopyTokens(argText)
			if perr != nil {
				return nil, wrapParse(line, perr)
			}
			if err := e.applyCopyInstruction(contextDir, current, stages, stageNames, len(stages)-1, spec, line); err != nil {
				return nil, err
			}

		case "ADD":
			if current == nil {
				return nil, zockererr.Parsef(lineCtx(line), "ADD before any FROM/BASEDIR")
			}
			src, dst, perr := buildfile.ParseTwoTokens(argText)
			if perr != nil {
				return nil, wrapParse(line, perr)
			}
			if err := e.applyAddInstruction(contextDir, current, src, dst, line); err != nil {
				return nil, err
			}

		case "CMD":
			if current == nil {
				return nil, zockererr.Parsef(lineCtx(line), "CMD before any FROM/BASEDIR")
			}
			current.Cmd = argText

		default:
			return nil, zockererr.Parsef(lineCtx(line), "unknown instruction %q", line.Instruction)
		}
	}

	if current == nil {
		return nil, zockererr.Parsef("buildfile", "no FROM or BASEDIR instruction found")
	}

	if err := e.ensureFinalStageHasLayer(current); err != nil {
		return nil, err
	}

	ref, err := images.ParseImageRef(cfg.ImageRef)
	if err != nil {
		return nil, err
	}
	if err := e.images.Save(images.Metadata{
		Name:     ref.Name,
		Tag:      ref.Tag,
		TopLayer: current.TopLayer,
		Cmd:      current.Cmd,
	}); err != nil {
		return nil, err
	}

	return &Result{ImageRef: ref.String(), TopLayer: current.TopLayer}, nil
}

func lineCtx(line buildfile.Line) string {
	return fmt.Sprintf("line %d", line.LineNo)
}

func wrapParse(line buildfile.Line, err error) error {
	return zockererr.Parse(lineCtx(line), err)
}

// ensureFinalStageHasLayer materializes a NOOP layer for the final stage if
// it has no top layer yet (it held no RUN/WORKDIR/COPY/ADD instruction; a
// cache hit already sets the top layer), so the published image always has
// a concrete top layer.
func (e *Engine) ensureFinalStageHasLayer(stage *StageContext) error {
	if stage.TopLayer != "" {
		return nil
	}
	return e.materializeLayer(stage, noopFinalStageDescriptor, "NOOP final stage", func(string) error { return nil })
}

func (e *Engine) applyRunInstruction(stage *StageContext, cmd string, line buildfile.Line) error {
	descriptor := runDescriptor(stage.Workdir, cmd)
	instr := "RUN " + cmd
	return e.materializeLayer(stage, descriptor, instr, func(merged string) error {
		return applyRun(merged, stage.Workdir, cmd)
	})
}

func (e *Engine) applyWorkdirInstruction(stage *StageContext, rawPath string, line buildfile.Line) error {
	normalized := hashutil.NormalizeContainerPath(stage.Workdir, rawPath)
	descriptor := workdirDescriptor(normalized)
	instr := "WORKDIR " + rawPath
	if err := e.materializeLayer(stage, descriptor, instr, func(merged string) error {
		return applyWorkdir(merged, normalized)
	}); err != nil {
		return err
	}
	stage.Workdir = normalized
	return nil
}

func (e *Engine) applyCopyInstruction(contextDir string, stage *StageContext, stages []*StageContext, stageNames []string, currentIdx int, spec buildfile.CopySpec, line buildfile.Line) error {
	normalizedDst := hashutil.NormalizeContainerPath(stage.Workdir, spec.Dst)

	if spec.FromStage == "" {
		hostSrc := spec.Src
		if !filepath.IsAbs(hostSrc) {
			hostSrc = filepath.Join(contextDir, spec.Src)
		}
		srcHash, err := hashutil.HashPathRecursive(hostSrc)
		if err != nil {
			return zockererr.IO(fmt.Sprintf("hash COPY source %s", spec.Src), err)
		}
		descriptor := copyContextDescriptor(hostSrc, srcHash, normalizedDst)
		instr := fmt.Sprintf("COPY %s %s", spec.Src, spec.Dst)
		return e.materializeLayer(stage, descriptor, instr, func(merged string) error {
			return applyCopyContext(contextDir, merged, spec.Src, normalizedDst)
		})
	}

	srcStageIdx := buildfile.StageIndexByName(spec.FromStage, stageNames, currentIdx)
	if srcStageIdx < 0 {
		return zockererr.Resolvef(lineCtx(line), "COPY --from=%s: stage not found", spec.FromStage)
	}
	srcStage := stages[srcStageIdx]
	sourceChain, err := srcStage.CurrentChain(e.layers.LayerChainFromTop)
	if err != nil {
		return err
	}

	descriptor := copyFromStageDescriptor(spec.FromStage, spec.Src, srcStage.StateHash, normalizedDst)
	instr := fmt.Sprintf("COPY --from=%s %s %s", spec.FromStage, spec.Src, spec.Dst)
	return e.materializeLayer(stage, descriptor, instr, func(merged string) error {
		return applyCopyFromStage(e.paths.TmpDir(), sourceChain, merged, spec.Src, normalizedDst)
	})
}

func (e *Engine) applyAddInstruction(contextDir string, stage *StageContext, src, dst string, line buildfile.Line) error {
	normalizedDst := hashutil.NormalizeContainerPath(stage.Workdir, dst)

	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		descriptor := addURLDescriptor(src, normalizedDst)
		instr := fmt.Sprintf("ADD %s %s", src, dst)
		return e.materializeLayer(stage, descriptor, instr, func(merged string) error {
			return applyAddURL(e.paths.TmpDir(), merged, src, normalizedDst)
		})
	}

	hostSrc := src
	if !filepath.IsAbs(hostSrc) {
		hostSrc = filepath.Join(contextDir, src)
	}
	srcHash, err := hashutil.HashPathRecursive(hostSrc)
	if err != nil {
		return zockererr.IO(fmt.Sprintf("hash ADD source %s", src), err)
	}
	descriptor := addFileDescriptor(hostSrc, srcHash, normalizedDst)
	instr := fmt.Sprintf("ADD %s %s", src, dst)
	return e.materializeLayer(stage, descriptor, instr, func(merged string) error {
		return applyAddFile(contextDir, merged, src, normalizedDst)
	})
}

// materializeLayer computes the new state hash for descriptor, probes the
// cache, and on miss allocates a fresh layer, mounts the stage's parent
// chain beneath it, invokes apply on the merged mountpoint, writes
// metadata, and registers the cache entry.
func (e *Engine) materializeLayer(stage *StageContext, descriptor, instruction string, apply func(merged string) error) error {
	newState := hashutil.HashString(stage.StateHash + "|" + descriptor)

	if id, hit := e.cache.Lookup(newState); hit {
		e.logger.Debug("cache hit", "instruction", instruction, "layer", id)
		fmt.Printf("[CACHE HIT] %s\n", instruction)
		stage.TopLayer = id
		stage.StateHash = newState
		e.metrics.RecordCacheHit()
		return nil
	}

	parentChain, err := stage.CurrentChain(e.layers.LayerChainFromTop)
	if err != nil {
		return err
	}

	id := cuid2.Generate()
	if err := e.layers.CreateLayerDirs(id, parentChain); err != nil {
		return err
	}

	if err := e.mountAndApply(id, parentChain, apply); err != nil {
		e.layers.RemoveLayerDirs(id)
		return err
	}

	parent := stage.TopLayer
	meta, err := e.layers.NowMetadata(id, parent, newState, instruction, stage.Workdir)
	if err != nil {
		e.layers.RemoveLayerDirs(id)
		return err
	}
	if err := e.layers.WriteLayerMetadata(meta); err != nil {
		e.layers.RemoveLayerDirs(id)
		return err
	}

	if err := e.cache.Register(newState, id); err != nil {
		return err
	}

	stage.TopLayer = id
	stage.StateHash = newState
	e.metrics.RecordLayerBuilt()
	fmt.Printf("[BUILT] %s\n", instruction)
	return nil
}

// mountAndApply creates a scratch build mount point, overlay-mounts
// parentChain with the new layer's diff/ as upper and work/ as workdir, and
// invokes apply on the merged mountpoint. The mount is always unmounted and
// the scratch dir always removed.
func (e *Engine) mountAndApply(layerID, parentChain string, apply func(merged string) error) error {
	scratch, err := os.MkdirTemp(e.paths.TmpDir(), "build_")
	if err != nil {
		return zockererr.IO("create build scratch dir", err)
	}
	defer os.RemoveAll(scratch)

	merged := filepath.Join(scratch, "merged")
	if err := os.MkdirAll(merged, 0755); err != nil {
		return zockererr.IO("create build merge mountpoint", err)
	}

	opts := overlay.Options{
		LowerChain: parentChain,
		Upper:      e.paths.LayerDiff(layerID),
		Work:       e.paths.LayerWork(layerID),
	}
	if err := overlay.Mount(opts, merged); err != nil {
		return err
	}
	defer func() {
		if uerr := overlay.Unmount(merged); uerr != nil {
			e.logger.Warn("unmount failed", "target", merged, "error", uerr)
		}
	}()

	return apply(merged)
}
