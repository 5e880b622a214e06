// Package automodule turns prebuilt jar libraries into module
// descriptors, either by reading a real module-info from the jar or by
// treating it as an automatic module, via the platform's
// java --describe-module tool.
package automodule

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"git.home.luguber.info/inful/modbuild/internal/artifact"
	"git.home.luguber.info/inful/modbuild/internal/errors"
	"git.home.luguber.info/inful/modbuild/internal/jpms"
	"git.home.luguber.info/inful/modbuild/internal/metrics"
	"git.home.luguber.info/inful/modbuild/internal/observability"
	"git.home.luguber.info/inful/modbuild/internal/platform"
	"git.home.luguber.info/inful/modbuild/internal/toolrunner"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

var identRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// IsValidModuleName reports whether every dot-separated segment of name
// is a plain Java identifier.
func IsValidModuleName(name string) bool {
	if name == "" {
		return false
	}
	for _, ident := range strings.Split(name, ".") {
		if !identRE.MatchString(ident) {
			return false
		}
	}
	return true
}

var trailingVersionRE = regexp.MustCompile(`-(\d+(\.|$))`)

// DeriveName derives the automatic module name for a jar, mirroring the
// platform's derivation: the basename without extension, with any
// trailing -<version> removed and non-alphanumeric runs collapsed to
// single dots.
func DeriveName(jarPath string) string {
	name := filepath.Base(jarPath)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if loc := trailingVersionRE.FindStringIndex(name); loc != nil {
		name = name[:loc[0]]
	}
	var b strings.Builder
	lastDot := true
	for _, r := range name {
		alnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			lastDot = false
		} else if !lastDot {
			b.WriteByte('.')
			lastDot = true
		}
	}
	return strings.TrimSuffix(b.String(), ".")
}

// ModuleName returns the library's module name: the explicit override if
// present, otherwise the derived automatic module name. An invalid
// derived name is fatal since the platform would reject the jar.
func ModuleName(lib *artifact.Library) (string, error) {
	if lib.ModuleName != "" {
		return lib.ModuleName, nil
	}
	name := DeriveName(lib.Path)
	if !IsValidModuleName(name) {
		return "", errors.ConfigError("invalid identifier in automatic module name derived for library %s: %s (path: %s)", lib.Name, name, lib.Path)
	}
	return name, nil
}

// ParseDescribeOutput parses java --describe-module output into a
// descriptor. The first line names the module; only the transitive
// requires modifier is kept since the others (static, mandated) do not
// affect resolution of a prebuilt jar.
func ParseDescribeOutput(lines []string, moduleName string, lib *artifact.Library) (*jpms.ModuleDescriptor, error) {
	if len(lines) == 0 || !strings.HasPrefix(lines[0], moduleName) {
		return nil, errors.ConfigError("unexpected describe-module output for %s: %q", moduleName, strings.Join(lines, "\n"))
	}
	jmd := jpms.NewDescriptor(moduleName, jpms.Origin{Lib: lib})
	jmd.JarPath = lib.Path
	for _, line := range lines[1:] {
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		if len(parts) >= 2 && parts[0] == "qualified" && (parts[1] == "exports" || parts[1] == "opens") {
			parts = parts[1:]
		}
		if len(parts) < 2 {
			return nil, errors.ConfigError("cannot parse describe-module line: %q", line)
		}
		switch parts[0] {
		case "requires":
			modifiers := sets.New[string]()
			for _, m := range parts[2:] {
				if m == jpms.ModTransitive {
					modifiers.Add(m)
				}
			}
			jmd.Requires[parts[1]] = modifiers
		case "exports":
			targets := sets.New[string]()
			if len(parts) > 2 {
				if parts[2] != "to" {
					return nil, errors.ConfigError("cannot parse describe-module line: %q", line)
				}
				targets = sets.New(parts[3:]...)
			}
			jmd.Exports[parts[1]] = targets
			jmd.Packages.Add(parts[1])
		case "opens":
			targets := sets.New[string]()
			if len(parts) > 2 {
				if parts[2] != "to" {
					return nil, errors.ConfigError("cannot parse describe-module line: %q", line)
				}
				targets = sets.New(parts[3:]...)
			}
			jmd.Opens[parts[1]] = targets
		case "uses":
			jmd.Uses.AddAll(sets.New(parts[1:]...))
		case "contains":
			jmd.Packages.AddAll(sets.New(parts[1:]...))
		case "provides":
			if len(parts) < 4 || parts[2] != "with" {
				return nil, errors.ConfigError("cannot parse describe-module line: %q", line)
			}
			if jmd.Provides[parts[1]] == nil {
				jmd.Provides[parts[1]] = sets.New[string]()
			}
			jmd.Provides[parts[1]].AddAll(sets.New(parts[3:]...))
		default:
			return nil, errors.ConfigError("cannot parse describe-module line: %q", line)
		}
	}
	return jmd, nil
}

// Loader describes libraries as modules, caching the raw describe-module
// output on disk. The cache is invalidated when the jar is newer than the
// cached output or when the cache was written by a different format
// version of this package.
type Loader struct {
	// Dir holds the .desc cache files.
	Dir      string
	Platform *platform.Platform
	Runner   toolrunner.Runner
	Metrics  metrics.Recorder
}

// Describe returns the module descriptor for a library.
func (l *Loader) Describe(ctx context.Context, lib *artifact.Library) (*jpms.ModuleDescriptor, error) {
	moduleName, err := ModuleName(lib)
	if err != nil {
		return nil, err
	}
	cache := filepath.Join(l.Dir, moduleName+".desc")

	lines, fresh := l.readCache(cache, lib.Path, moduleName)
	if l.Metrics != nil {
		if fresh {
			l.Metrics.IncDescriptorCacheHit()
		} else {
			l.Metrics.IncDescriptorCacheMiss()
		}
	}
	if !fresh {
		out, err := l.Runner.Run(ctx, l.Platform.Java, "--module-path", lib.Path, "--describe-module", moduleName)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryTool, errors.SeverityFatal,
				"java --describe-module "+moduleName+" failed; verify the moduleName attribute of "+lib.Name)
		}
		lines = splitLines(out)
		if err := l.writeCache(ctx, cache, lines); err != nil {
			return nil, err
		}
	}
	return ParseDescribeOutput(lines, moduleName, lib)
}

// cacheHeader stamps the cached describe-module output with the format
// version of this parser. Bump it when the parsing or derivation logic
// changes so stale caches from older binaries are regenerated.
const cacheHeader = "# modbuild describe-module cache v1"

func (l *Loader) readCache(cache, jarPath, moduleName string) ([]string, bool) {
	cacheInfo, err := os.Stat(cache)
	if err != nil {
		return nil, false
	}
	jarInfo, err := os.Stat(jarPath)
	if err != nil || jarInfo.ModTime().After(cacheInfo.ModTime()) {
		return nil, false
	}
	data, err := os.ReadFile(cache)
	if err != nil {
		return nil, false
	}
	lines := splitLines(string(data))
	if len(lines) < 2 || lines[0] != cacheHeader || !strings.HasPrefix(lines[1], moduleName) {
		// Stale format or foreign content, regenerate.
		return nil, false
	}
	return lines[1:], true
}

func (l *Loader) writeCache(ctx context.Context, cache string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(cache), 0o755); err != nil {
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "creating descriptor cache directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(cache), filepath.Base(cache)+".*.tmp")
	if err != nil {
		observability.WarnContext(ctx, "Error writing descriptor cache",
			slog.String("path", cache), slog.String("error", err.Error()))
		return nil
	}
	content := cacheHeader + "\n" + strings.Join(lines, "\n") + "\n"
	if _, err := tmp.WriteString(content); err != nil {
		observability.WarnContext(ctx, "Error writing descriptor cache",
			slog.String("path", cache), slog.String("error", err.Error()))
		tmp.Close()
		os.Remove(tmp.Name())
		return nil
	}
	tmp.Chmod(0o644)
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil
	}
	if err := os.Rename(tmp.Name(), cache); err != nil {
		os.Remove(tmp.Name())
	}
	return nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
