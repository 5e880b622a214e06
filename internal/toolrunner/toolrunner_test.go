package toolrunner

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	builderrors "git.home.luguber.info/inful/modbuild/internal/errors"
)

func TestExecRunner(t *testing.T) {
	r := &ExecRunner{}
	out, err := r.Run(context.Background(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestExecRunnerFailure(t *testing.T) {
	r := &ExecRunner{}
	out, err := r.Run(context.Background(), "sh", "-c", "echo broken >&2; exit 3")
	require.Error(t, err)
	// The combined output travels in both return values.
	assert.Contains(t, out, "broken")
	var be *builderrors.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, builderrors.CategoryTool, be.Category)
}

func TestWriteArgFile(t *testing.T) {
	path, cleanup, err := WriteArgFile([]string{
		"-d",
		"/tmp/out dir",
		`--module-path=C:\jdk\jmods`,
		`say "hi"`,
	})
	require.NoError(t, err)
	defer cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "-d\n" +
		"\"/tmp/out dir\"\n" +
		`--module-path=C:\jdk\jmods` + "\n" +
		"\"say \\\"hi\\\"\"\n"
	assert.Equal(t, want, string(data))

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
