package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseComplianceExact(t *testing.T) {
	c, err := ParseCompliance("17")
	require.NoError(t, err)
	assert.True(t, c.Contains(17))
	assert.False(t, c.Contains(16))
	assert.False(t, c.Contains(18))
	assert.Equal(t, 17, c.Lowest())
}

func TestParseComplianceOpenRange(t *testing.T) {
	c, err := ParseCompliance("11+")
	require.NoError(t, err)
	assert.False(t, c.Contains(10))
	assert.True(t, c.Contains(11))
	assert.True(t, c.Contains(25))
}

func TestParseComplianceBoundedRange(t *testing.T) {
	c, err := ParseCompliance("11..17")
	require.NoError(t, err)
	assert.False(t, c.Contains(10))
	assert.True(t, c.Contains(11))
	assert.True(t, c.Contains(17))
	assert.False(t, c.Contains(18))
}

func TestParseComplianceUnion(t *testing.T) {
	c, err := ParseCompliance("8,11..17,21+")
	require.NoError(t, err)
	assert.True(t, c.Contains(8))
	assert.False(t, c.Contains(9))
	assert.True(t, c.Contains(13))
	assert.False(t, c.Contains(19))
	assert.True(t, c.Contains(22))
	assert.Equal(t, 8, c.Lowest())
}

func TestParseComplianceLegacyForm(t *testing.T) {
	c, err := ParseCompliance("1.8")
	require.NoError(t, err)
	assert.True(t, c.Contains(8))
	assert.False(t, c.Contains(9))
}

func TestParseComplianceErrors(t *testing.T) {
	for _, spec := range []string{"", "abc", "17..11", "0"} {
		_, err := ParseCompliance(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}

func TestSplitVersionedName(t *testing.T) {
	name, scope, err := SplitVersionedName("java.base@17+")
	require.NoError(t, err)
	assert.Equal(t, "java.base", name)
	assert.False(t, scope.IsZero())
	assert.True(t, scope.Contains(21))

	name, scope, err = SplitVersionedName("jdk.unsupported")
	require.NoError(t, err)
	assert.Equal(t, "jdk.unsupported", name)
	assert.True(t, scope.IsZero())

	_, _, err = SplitVersionedName("java.base@nonsense")
	assert.Error(t, err)
}

func TestIsZero(t *testing.T) {
	var zero Compliance
	if !zero.IsZero() {
		t.Fatal("zero value must report IsZero")
	}
	if MustParseCompliance("17").IsZero() {
		t.Fatal("parsed constraint must not report IsZero")
	}
}
