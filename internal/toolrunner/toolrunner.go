// Package toolrunner executes the external platform tools (javac, jmod,
// java) with captured output and timing.
package toolrunner

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/modbuild/internal/errors"
	"git.home.luguber.info/inful/modbuild/internal/metrics"
	"git.home.luguber.info/inful/modbuild/internal/observability"
)

// Runner executes a tool and returns its combined output. Implementations
// must return an error carrying the output when the tool exits non-zero.
type Runner interface {
	Run(ctx context.Context, tool string, args ...string) (string, error)
}

// ExecRunner runs tools as subprocesses.
type ExecRunner struct {
	// Metrics records per-tool durations; nil disables recording.
	Metrics metrics.Recorder
}

func (r *ExecRunner) Run(ctx context.Context, tool string, args ...string) (string, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, tool, args...)
	out, err := cmd.CombinedOutput()
	elapsed := time.Since(start)
	name := filepath.Base(tool)
	if r.Metrics != nil {
		r.Metrics.ObserveToolDuration(name, elapsed)
	}
	observability.DebugContext(ctx, "Ran external tool",
		slog.String("tool", name),
		slog.Duration("duration", elapsed),
		slog.Bool("ok", err == nil))
	if err != nil {
		return string(out), errors.ToolError(err, name, string(out))
	}
	return string(out), nil
}

// WriteArgFile writes args to a temporary @-file for tools whose command
// lines would otherwise exceed OS limits. The caller passes "@"+path to
// the tool and runs cleanup afterwards.
func WriteArgFile(args []string) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "modbuild-args-*.txt")
	if err != nil {
		return "", nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "creating tool argument file")
	}
	var b strings.Builder
	for _, arg := range args {
		b.WriteString(quoteArg(arg))
		b.WriteByte('\n')
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "writing tool argument file")
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "closing tool argument file")
	}
	name := f.Name()
	return name, func() { os.Remove(name) }, nil
}

// quoteArg quotes an argument for the @-file syntax shared by javac and
// jmod: double quotes around arguments containing whitespace, backslashes
// doubled inside quotes.
func quoteArg(arg string) string {
	if !strings.ContainsAny(arg, " \t\"") {
		return arg
	}
	escaped := strings.ReplaceAll(arg, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
