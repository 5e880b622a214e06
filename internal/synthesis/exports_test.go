package synthesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/modbuild/internal/artifact"
	"git.home.luguber.info/inful/modbuild/internal/jpms"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

func TestParsePackagesSpec(t *testing.T) {
	modulePackages := sets.New("com.a", "com.a.impl", "com.b", "com.c")
	project := &artifact.Project{
		Name: "p", Suite: "s",
		Packages:            []string{"com.a", "com.a.impl", "com.b"},
		PackageInfoPackages: []string{"com.a"},
	}
	available := sets.New(project.Packages...)

	pkgs, err := parsePackagesSpec("com.a,com.b", available, modulePackages, project, "export", "m")
	require.NoError(t, err)
	assert.True(t, pkgs.Equal(sets.New("com.a", "com.b")))

	pkgs, err = parsePackagesSpec("com.a.*", available, modulePackages, project, "export", "m")
	require.NoError(t, err)
	assert.True(t, pkgs.Equal(sets.New("com.a.impl")))

	pkgs, err = parsePackagesSpec("com.a*", available, modulePackages, project, "export", "m")
	require.NoError(t, err)
	assert.True(t, pkgs.Equal(sets.New("com.a", "com.a.impl")))

	pkgs, err = parsePackagesSpec("<package-info>", available, modulePackages, project, "export", "m")
	require.NoError(t, err)
	assert.True(t, pkgs.Equal(sets.New("com.a")))
}

func TestParsePackagesSpecErrors(t *testing.T) {
	modulePackages := sets.New("com.a", "com.c")
	available := sets.New("com.a")
	project := &artifact.Project{Name: "p", Suite: "s", Packages: []string{"com.a"}}

	_, err := parsePackagesSpec("", available, modulePackages, project, "export", "m")
	assert.Error(t, err)

	// Not defined anywhere in the module.
	_, err = parsePackagesSpec("com.ghost", available, modulePackages, project, "export", "m")
	assert.Error(t, err)

	// Defined in the module but not by this project.
	_, err = parsePackagesSpec("com.c", available, modulePackages, project, "export", "m")
	assert.Error(t, err)

	// Wildcard with no match.
	_, err = parsePackagesSpec("com.x.*", available, modulePackages, project, "export", "m")
	assert.Error(t, err)

	// The sentinel needs a project scope.
	_, err = parsePackagesSpec("<package-info>", modulePackages, modulePackages, nil, "export", "m")
	assert.Error(t, err)
	_, err = parsePackagesSpec("<package-info>", modulePackages, modulePackages, nil, "open", "m")
	assert.Error(t, err)
}

func TestProcessExportsQualifiedAndUnqualified(t *testing.T) {
	modulePackages := sets.New("com.a", "com.b", "com.c")
	exports := map[string]sets.Set[string]{}

	specs := []string{
		"com.a to mod.x",
		"com.a to mod.y",
		"com.b to mod.x, mod.y",
		"com.c",
	}
	require.NoError(t, processExports(specs, exports, modulePackages, modulePackages, nil, "m"))

	// Qualified targets for the same package accumulate.
	assert.True(t, exports["com.a"].Equal(sets.New("mod.x", "mod.y")))
	assert.True(t, exports["com.b"].Equal(sets.New("mod.x", "mod.y")))
	assert.True(t, exports["com.c"].Equal(sets.New[string]()))
}

func TestProcessExportsUnqualifiedWidens(t *testing.T) {
	modulePackages := sets.New("com.a")
	exports := map[string]sets.Set[string]{}

	// The unqualified spec runs last regardless of declaration order.
	specs := []string{"com.a", "com.a to mod.x"}
	require.NoError(t, processExports(specs, exports, modulePackages, modulePackages, nil, "m"))
	assert.True(t, exports["com.a"].Equal(sets.New[string]()))
}

func TestProcessExportsQualifiedWithoutTargets(t *testing.T) {
	exports := map[string]sets.Set[string]{}
	err := processExports([]string{"com.a to "}, exports, sets.New("com.a"), sets.New("com.a"), nil, "m")
	assert.Error(t, err)
}

func TestProcessOpens(t *testing.T) {
	modulePackages := sets.New("com.a", "com.b")
	opens := map[string]sets.Set[string]{}
	require.NoError(t, processOpens([]string{"com.a to mod.x", "com.b"}, opens, modulePackages, "m"))
	assert.True(t, opens["com.a"].Equal(sets.New("mod.x")))
	assert.True(t, opens["com.b"].Equal(sets.New[string]()))

	assert.Error(t, processOpens([]string{"com.ghost"}, opens, modulePackages, "m"))
}

func TestApplyRequiresSpecs(t *testing.T) {
	requires := map[string]sets.Set[string]{
		"java.logging": sets.New(jpms.ModTransitive),
	}
	require.NoError(t, applyRequiresSpecs([]string{
		"java.logging",
		"transitive java.sql",
		"static jdk.unsupported",
	}, requires))

	// Explicit entries override resolved modifiers, including to none.
	assert.True(t, requires["java.logging"].Equal(sets.New[string]()))
	assert.True(t, requires["java.sql"].Equal(sets.New(jpms.ModTransitive)))
	assert.True(t, requires["jdk.unsupported"].Equal(sets.New(jpms.ModStatic)))

	assert.Error(t, applyRequiresSpecs([]string{"  "}, requires))
}

func TestCheckUses(t *testing.T) {
	assert.NoError(t, checkUses([]string{"com.a.Service"}, "m"))
	assert.Error(t, checkUses([]string{"com.a.Outer$Inner"}, "m"))
}

func TestParseConcealedSpec(t *testing.T) {
	spec, err := parseConcealedSpec(map[string]any{
		"java.base":    "*",
		"jdk.compiler": []any{"com.sun.tools.javac.util", "com.sun.tools.javac.code"},
	}, "m")
	require.NoError(t, err)
	assert.True(t, spec["java.base"].Wildcard)
	assert.Equal(t, []string{"com.sun.tools.javac.code", "com.sun.tools.javac.util"}, spec["jdk.compiler"].Packages)

	_, err = parseConcealedSpec(map[string]any{"java.base": "everything"}, "m")
	assert.Error(t, err)
	_, err = parseConcealedSpec(map[string]any{"java.base": []any{42}}, "m")
	assert.Error(t, err)
	_, err = parseConcealedSpec(map[string]any{"java.base": 7}, "m")
	assert.Error(t, err)
}
