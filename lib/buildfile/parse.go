package buildfile

import (
	"strings"

	"github.com/onkernel/zocker/lib/zockererr"
)

// ParseTwoTokens splits whitespace-separated argument text into exactly two
// tokens (e.g. ADD's "src dst"). Extra whitespace between tokens is
// collapsed; more or fewer than two fields is a ParseError.
func ParseTwoTokens(argText string) (a, b string, err error) {
	fields := strings.Fields(argText)
	if len(fields) != 2 {
		return "", "", zockererr.Parsef("parse instruction", "expected 2 tokens, got %d in %q", len(fields), argText)
	}
	return fields[0], fields[1], nil
}

// ParseBaseAndAlias splits "ref [AS alias]" (used by FROM and BASEDIR).
func ParseBaseAndAlias(argText string) (ref, alias string, err error) {
	fields := strings.Fields(argText)
	switch len(fields) {
	case 1:
		return fields[0], "", nil
	case 3:
		if !strings.EqualFold(fields[1], "AS") {
			return "", "", zockererr.Parsef("parse instruction", "expected AS, got %q in %q", fields[1], argText)
		}
		return fields[0], fields[2], nil
	default:
		return "", "", zockererr.Parsef("parse instruction", "expected 'ref' or 'ref AS alias', got %q", argText)
	}
}

// CopySpec is a parsed COPY instruction.
type CopySpec struct {
	FromStage string // empty if copying from the build context
	Src       string
	Dst       string
}

// ParseCopyTokens parses "[--from=S] src dst".
func ParseCopyTokens(argText string) (CopySpec, error) {
	fields := strings.Fields(argText)
	var spec CopySpec

	if len(fields) > 0 && strings.HasPrefix(fields[0], "--from=") {
		spec.FromStage = strings.TrimPrefix(fields[0], "--from=")
		fields = fields[1:]
	}

	if len(fields) != 2 {
		return CopySpec{}, zockererr.Parsef("parse COPY", "expected 'src dst' (optionally preceded by --from=STAGE), got %q", argText)
	}
	spec.Src = fields[0]
	spec.Dst = fields[1]
	return spec, nil
}

// StageIndexByName resolves a stage alias or decimal index to a stage
// position, scanning only stages that have already completed (index <
// currentStageIndex). It returns -1 if not found.
func StageIndexByName(name string, stageNames []string, currentStageIndex int) int {
	for i := 0; i < currentStageIndex && i < len(stageNames); i++ {
		if stageNames[i] == name {
			return i
		}
	}
	// Decimal index form: "0", "1", ...
	if idx, ok := parseDecimalIndex(name); ok && idx >= 0 && idx < currentStageIndex {
		return idx
	}
	return -1
}

func parseDecimalIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
