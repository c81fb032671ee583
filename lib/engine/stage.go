// Package engine implements the Build Engine: stage sequencing,
// per-instruction layer materialization, cross-stage copy via scratch
// snapshots, cache lookup, metadata emission, and final-image publication.
package engine

import (
	"github.com/onkernel/zocker/lib/buildfile"
	"github.com/onkernel/zocker/lib/hashutil"
)

// StageContext is the in-memory, build-scoped state of one buildfile stage.
type StageContext struct {
	Name      string // explicit alias or zero-based index string
	BaseChain string // static lower chain of the stage's base
	TopLayer  string // empty until the stage's first layer
	StateHash string
	Workdir   string
	Args      buildfile.ArgScope
	Cmd       string // default command captured from the last CMD instruction
}

// NewStageContext seeds a stage from a resolved base chain and the global
// argument map at the moment of FROM/BASEDIR.
func NewStageContext(name, baseChain string, globalArgs buildfile.ArgScope) *StageContext {
	stageArgs := make(buildfile.ArgScope, len(globalArgs))
	for k, v := range globalArgs {
		stageArgs[k] = v
	}
	return &StageContext{
		Name:      name,
		BaseChain: baseChain,
		StateHash: hashutil.HashString("BASE|" + baseChain),
		Workdir:   "/",
		Args:      stageArgs,
	}
}

// CurrentChain returns the stage's current overlay lower chain: its top
// layer's full chain if it has produced one, else its static base chain.
func (s *StageContext) CurrentChain(chainOf func(layerID string) (string, error)) (string, error) {
	if s.TopLayer == "" {
		return s.BaseChain, nil
	}
	return chainOf(s.TopLayer)
}
