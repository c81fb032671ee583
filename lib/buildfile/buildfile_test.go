package buildfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanSkipsBlankAndComment(t *testing.T) {
	lines := Scan("# comment\n\nFROM /tmp/base\n  \nRUN echo hi\n")
	require.Len(t, lines, 2)
	require.Equal(t, "FROM", lines[0].Instruction)
	require.Equal(t, "/tmp/base", lines[0].ArgText)
	require.Equal(t, "RUN", lines[1].Instruction)
	require.Equal(t, "echo hi", lines[1].ArgText)
}

func TestScanCaseInsensitiveInstruction(t *testing.T) {
	lines := Scan("from /tmp/base\n")
	require.Equal(t, "FROM", lines[0].Instruction)
}

func TestScanLineNumbers(t *testing.T) {
	lines := Scan("FROM /a\n\nRUN b\n")
	require.Equal(t, 1, lines[0].LineNo)
	require.Equal(t, 3, lines[1].LineNo)
}

func TestSubstituteDollarDollarLiteral(t *testing.T) {
	got := Substitute("echo $$HOME", ArgScope{})
	require.Equal(t, "echo $HOME", got)
}

func TestSubstituteMissingKeyEmpty(t *testing.T) {
	got := Substitute("echo $MISSING", ArgScope{})
	require.Equal(t, "echo ", got)
}

func TestSubstituteBraces(t *testing.T) {
	got := Substitute("echo ${V}x", ArgScope{"V": "1"})
	require.Equal(t, "echo 1x", got)
}

func TestSubstituteBareDollarNonIdent(t *testing.T) {
	got := Substitute("price: $5", ArgScope{})
	require.Equal(t, "price: $5", got)
}

func TestResolveArgCLIWins(t *testing.T) {
	cli := ArgScope{"V": "9"}
	scope := ArgScope{}
	got := ResolveArg("V", true, "1", cli, scope)
	require.Equal(t, "9", got)
}

func TestResolveArgDefaultUsedWhenNoCLI(t *testing.T) {
	cli := ArgScope{}
	scope := ArgScope{}
	got := ResolveArg("V", true, "1", cli, scope)
	require.Equal(t, "1", got)
}

func TestResolveArgKeepsExistingWhenNoDefault(t *testing.T) {
	cli := ArgScope{}
	scope := ArgScope{"V": "prev"}
	got := ResolveArg("V", false, "", cli, scope)
	require.Equal(t, "prev", got)
}

func TestResolveArgEmptyWhenNothingSet(t *testing.T) {
	got := ResolveArg("V", false, "", ArgScope{}, ArgScope{})
	require.Equal(t, "", got)
}

func TestParseCopyTokensWithFrom(t *testing.T) {
	spec, err := ParseCopyTokens("--from=builder /out/file /file")
	require.NoError(t, err)
	require.Equal(t, "builder", spec.FromStage)
	require.Equal(t, "/out/file", spec.Src)
	require.Equal(t, "/file", spec.Dst)
}

func TestParseCopyTokensContext(t *testing.T) {
	spec, err := ParseCopyTokens("src dst")
	require.NoError(t, err)
	require.Equal(t, "", spec.FromStage)
}

func TestParseCopyTokensBadCount(t *testing.T) {
	_, err := ParseCopyTokens("onlyone")
	require.Error(t, err)
}

func TestParseBaseAndAliasWithAS(t *testing.T) {
	ref, alias, err := ParseBaseAndAlias("/tmp/base AS builder")
	require.NoError(t, err)
	require.Equal(t, "/tmp/base", ref)
	require.Equal(t, "builder", alias)
}

func TestParseBaseAndAliasNoAlias(t *testing.T) {
	ref, alias, err := ParseBaseAndAlias("/tmp/base")
	require.NoError(t, err)
	require.Equal(t, "/tmp/base", ref)
	require.Equal(t, "", alias)
}

func TestStageIndexByNameAlias(t *testing.T) {
	names := []string{"builder", ""}
	idx := StageIndexByName("builder", names, 1)
	require.Equal(t, 0, idx)
}

func TestStageIndexByNameOnlyPriorStagesVisible(t *testing.T) {
	names := []string{"builder", "second"}
	idx := StageIndexByName("second", names, 1)
	require.Equal(t, -1, idx)
}

func TestStageIndexByNameDecimal(t *testing.T) {
	names := []string{"", ""}
	idx := StageIndexByName("0", names, 2)
	require.Equal(t, 0, idx)
}
