package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onkernel/zocker/lib/buildfile"
	"github.com/onkernel/zocker/lib/hashutil"
)

func TestRunDescriptorDeterministic(t *testing.T) {
	require.Equal(t, runDescriptor("/", "echo hi"), runDescriptor("/", "echo hi"))
	require.NotEqual(t, runDescriptor("/", "echo hi"), runDescriptor("/", "echo bye"))
}

func TestStageContextSeededHash(t *testing.T) {
	s := NewStageContext("0", "/tmp/base", buildfile.ArgScope{})
	require.Equal(t, hashutil.HashString("BASE|/tmp/base"), s.StateHash)
	require.Equal(t, "/", s.Workdir)
	require.Equal(t, "", s.TopLayer)
}

func TestStageContextArgsSnapshotIndependent(t *testing.T) {
	global := buildfile.ArgScope{"V": "1"}
	s := NewStageContext("0", "/base", global)
	s.Args["V"] = "2"
	require.Equal(t, "1", global["V"])
}

func TestSameDescriptorSequenceSameStateHash(t *testing.T) {
	a := NewStageContext("0", "/tmp/base", buildfile.ArgScope{})
	b := NewStageContext("0", "/tmp/base", buildfile.ArgScope{})

	descA := runDescriptor(a.Workdir, "echo hi")
	a.StateHash = hashutil.HashString(a.StateHash + "|" + descA)

	descB := runDescriptor(b.Workdir, "echo hi")
	b.StateHash = hashutil.HashString(b.StateHash + "|" + descB)

	require.Equal(t, a.StateHash, b.StateHash)
}

func TestDifferentArgValueDifferentStateHash(t *testing.T) {
	scope1 := buildfile.ArgScope{"V": "1"}
	scope2 := buildfile.ArgScope{"V": "9"}

	cmd1 := buildfile.Substitute("echo $V > /v", scope1)
	cmd2 := buildfile.Substitute("echo $V > /v", scope2)

	s1 := NewStageContext("0", "/tmp/base", buildfile.ArgScope{})
	s1.StateHash = hashutil.HashString(s1.StateHash + "|" + runDescriptor(s1.Workdir, cmd1))

	s2 := NewStageContext("0", "/tmp/base", buildfile.ArgScope{})
	s2.StateHash = hashutil.HashString(s2.StateHash + "|" + runDescriptor(s2.Workdir, cmd2))

	require.NotEqual(t, s1.StateHash, s2.StateHash)
}
