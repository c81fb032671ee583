// Package buildfile implements the line-oriented buildfile scanner and the
// three-scope argument resolver (CLI, global, stage) used by the build
// engine.
package buildfile

import (
	"strings"
)

// Line is one recognized instruction line from a buildfile.
type Line struct {
	LineNo      int
	Instruction string // upper-cased
	ArgText     string // whitespace-trimmed remainder
}

// Scan splits content into instruction lines. Blank lines and lines whose
// first non-whitespace byte is '#' are ignored. The first whitespace
// delimited token becomes the (upper-cased) instruction; the remainder,
// trimmed, is the argument text.
func Scan(content string) []Line {
	var lines []Line
	for i, raw := range strings.Split(content, "\n") {
		text := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		instr, rest := trimmed, ""
		if idx := strings.IndexAny(trimmed, " \t"); idx >= 0 {
			instr, rest = trimmed[:idx], trimmed[idx+1:]
		}

		lines = append(lines, Line{
			LineNo:      i + 1,
			Instruction: strings.ToUpper(instr),
			ArgText:     strings.TrimSpace(rest),
		})
	}
	return lines
}
