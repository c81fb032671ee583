package overlay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMountOptsFormat(t *testing.T) {
	o := Options{LowerChain: "/a:/b", Upper: "/c/upper", Work: "/c/work"}
	require.Equal(t, "lowerdir=/a:/b,upperdir=/c/upper,workdir=/c/work", o.MountOpts())
}

func TestValidateRejectsUpperNestedInLower(t *testing.T) {
	o := Options{LowerChain: "/a/b", Upper: "/a/b/upper", Work: "/a/work"}
	require.Error(t, o.Validate())
}

func TestValidateRejectsWorkEqualToLower(t *testing.T) {
	o := Options{LowerChain: "/a/b", Upper: "/a/upper", Work: "/a/b"}
	require.Error(t, o.Validate())
}

func TestValidateAllowsSiblingPrefix(t *testing.T) {
	// /a/bc must not be considered nested inside /a/b.
	o := Options{LowerChain: "/a/b", Upper: "/a/bc/upper", Work: "/a/bc/work"}
	require.NoError(t, o.Validate())
}

func TestValidateRejectsRootLower(t *testing.T) {
	o := Options{LowerChain: "/", Upper: "/a/upper", Work: "/a/work"}
	require.Error(t, o.Validate())
}

func TestValidateRejectsRootUpper(t *testing.T) {
	o := Options{LowerChain: "/a/b", Upper: "/", Work: "/a/work"}
	require.Error(t, o.Validate())
}

func TestValidateAcceptsWellFormedOptions(t *testing.T) {
	o := Options{LowerChain: "/layers/l/abc", Upper: "/layers/xyz/diff", Work: "/layers/xyz/work"}
	require.NoError(t, o.Validate())
}
