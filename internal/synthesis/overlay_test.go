package synthesis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

func writeStaged(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRestorerRevertsOverwriteAndCreate(t *testing.T) {
	dir := t.TempDir()
	src := writeStaged(t, dir, "overlay/Foo.class", "v11")
	existing := writeStaged(t, dir, "dest/Foo.class", "base")
	created := filepath.Join(dir, "dest", "sub", "Bar.class")

	var r restorer
	require.NoError(t, r.syncFile(src, existing))
	require.NoError(t, r.syncFile(src, created))

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "v11", string(data))
	assert.FileExists(t, created)

	r.restore()
	data, err = os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "base", string(data))
	assert.NoFileExists(t, created)
}

func TestScanServices(t *testing.T) {
	dir := t.TempDir()
	writeStaged(t, dir, "META-INF/services/com.a.Service",
		"com.a.impl.First\n# a comment\ncom.a.impl.Second # trailing\n\n")
	writeStaged(t, dir, "META-INF/services/com.a.Outer$Inner", "com.a.impl.Third\n")
	writeStaged(t, dir, "META-INF/services/com.a.Ignored", "com.a.impl.Nope\n")
	// A service type defined inside the module is assumed used by it.
	writeStaged(t, dir, "com/a/Service.class", "")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "META-INF", "services", "subdir"), 0o755))

	uses := sets.New[string]()
	provides, err := scanServices(dir, sets.New("com.a.Ignored"), uses)
	require.NoError(t, err)

	assert.True(t, provides["com.a.Service"].Equal(sets.New("com.a.impl.First", "com.a.impl.Second")))
	// Nested-class separators become dots in both service and provider.
	assert.True(t, provides["com.a.Outer.Inner"].Equal(sets.New("com.a.impl.Third")))
	assert.NotContains(t, provides, "com.a.Ignored")
	assert.True(t, uses.Equal(sets.New("com.a.Service")))
}

func TestScanServicesNoDirectory(t *testing.T) {
	provides, err := scanServices(t.TempDir(), sets.New[string](), sets.New[string]())
	require.NoError(t, err)
	assert.Empty(t, provides)
}
