package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weft/internal/errs"
)

func TestCompile_EmptyMatchesAll(t *testing.T) {
	pred, err := Compile("")
	require.NoError(t, err)
	assert.True(t, pred(nil))
	assert.True(t, pred([]string{"anything"}))
}

func TestCompile_SingleSelector(t *testing.T) {
	pred, err := Compile("science")
	require.NoError(t, err)
	assert.True(t, pred([]string{"science"}))
	assert.True(t, pred([]string{"science/physics"}))
	assert.False(t, pred([]string{"history"}))
}

func TestCompile_AndFactors(t *testing.T) {
	pred, err := Compile("science:peer.reviewed")
	require.NoError(t, err)
	assert.True(t, pred([]string{"science", "peer.reviewed"}))
	assert.False(t, pred([]string{"science"}))
	assert.False(t, pred([]string{"peer.reviewed"}))
}

func TestCompile_OrTerms(t *testing.T) {
	pred, err := Compile("science|history")
	require.NoError(t, err)
	assert.True(t, pred([]string{"science"}))
	assert.True(t, pred([]string{"history"}))
	assert.False(t, pred([]string{"art"}))
}

func TestCompile_Negation(t *testing.T) {
	pred, err := Compile("science:!+archived")
	require.NoError(t, err)
	assert.True(t, pred([]string{"science"}))
	assert.False(t, pred([]string{"science", "+archived"}))
}

func TestCompile_NegatedCaptureIsHierarchical(t *testing.T) {
	pred, err := Compile("!a")
	require.NoError(t, err)
	assert.True(t, pred([]string{"b"}))
	assert.False(t, pred([]string{"a/b"}))
}

func TestCompile_MixedPrecedence(t *testing.T) {
	// OR binds looser than AND: "a:b|c" is (a AND b) OR c.
	pred, err := Compile("a:b|c")
	require.NoError(t, err)
	assert.True(t, pred([]string{"a", "b"}))
	assert.True(t, pred([]string{"c"}))
	assert.False(t, pred([]string{"a"}))
}

func TestCompile_MalformedFactor(t *testing.T) {
	_, err := Compile("science:BAD TAG")
	require.Error(t, err)
	assert.True(t, errs.IsMalformedTag(err))
}

func TestSelectors_TokenizesAllFactors(t *testing.T) {
	selectors := Selectors("a:!+b|_c")
	assert.Equal(t, []string{"a", "+b", "_c"}, selectors)
}

func TestSelectors_Empty(t *testing.T) {
	assert.Nil(t, Selectors(""))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("a:!+b|_c@remote"))

	err := Validate("a:Bad")
	require.Error(t, err)
	assert.True(t, errs.IsMalformedTag(err))
}

func TestCombinators(t *testing.T) {
	hasA := HasTag("a")
	hasB := HasTag("b")

	assert.True(t, And(hasA, hasB)([]string{"a", "b"}))
	assert.False(t, And(hasA, hasB)([]string{"a"}))
	assert.True(t, Or(hasA, hasB)([]string{"b"}))
	assert.False(t, Or(hasA, hasB)([]string{"c"}))
	assert.True(t, And(nil, hasA)([]string{"a"}))
	assert.True(t, All(nil))
	assert.False(t, None([]string{"a"}))
}

func TestAnyCapturedBy(t *testing.T) {
	pred := AnyCapturedBy([]string{"+shared"})
	assert.True(t, pred([]string{"+shared/docs"}))
	assert.False(t, pred([]string{"other"}))

	assert.False(t, AnyCapturedBy(nil)([]string{"a"}))
}
