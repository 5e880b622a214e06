package synthesis

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/modbuild/internal/errors"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

// restorer undoes in-place staging directory modifications made while
// producing one version's descriptor, so the next version starts from the
// pristine baseline.
type restorer struct {
	actions []func() error
}

// syncFile places the contents of src at dst, remembering how to put the
// original content (or absence) back.
func (r *restorer) syncFile(src, dst string) error {
	if original, err := os.ReadFile(dst); err == nil {
		info, _ := os.Stat(dst)
		mode := os.FileMode(0o644)
		if info != nil {
			mode = info.Mode()
		}
		r.actions = append(r.actions, func() error {
			return os.WriteFile(dst, original, mode)
		})
	} else if os.IsNotExist(err) {
		r.actions = append(r.actions, func() error {
			return os.Remove(dst)
		})
	} else {
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "reading "+dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "creating "+filepath.Dir(dst))
	}
	return copyFile(src, dst)
}

// restore undoes all recorded modifications, newest first.
func (r *restorer) restore() {
	for i := len(r.actions) - 1; i >= 0; i-- {
		_ = r.actions[i]()
	}
	r.actions = nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "opening "+src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "creating "+dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "copying to "+dst)
	}
	if err := out.Close(); err != nil {
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "closing "+dst)
	}
	return nil
}

// scanServices derives provides directives from the META-INF/services
// files in the staging directory. Service and provider names use the
// non-binary form in descriptors, so nested-class separators become
// dots. A service whose class file lives in the module itself is assumed
// to also be used by it.
func scanServices(destDir string, ignored sets.Set[string], uses sets.Set[string]) (map[string]sets.Set[string], error) {
	provides := map[string]sets.Set[string]{}
	servicesDir := filepath.Join(destDir, "META-INF", "services")
	dirEntries, err := os.ReadDir(servicesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return provides, nil
		}
		return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "reading "+servicesDir)
	}
	for _, de := range dirEntries {
		if de.IsDir() {
			// Subdirectories of META-INF/services are not part of the
			// service loader contract; some libraries use them internally.
			// They stay in the archive as plain resources.
			continue
		}
		service := strings.ReplaceAll(de.Name(), "$", ".")
		if ignored.Has(service) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(servicesDir, de.Name()))
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "reading service file "+de.Name())
		}
		for _, line := range strings.Split(string(data), "\n") {
			if idx := strings.Index(line, "#"); idx >= 0 {
				line = line[:idx]
			}
			provider := strings.TrimSpace(line)
			if provider == "" {
				continue
			}
			if provides[service] == nil {
				provides[service] = sets.New[string]()
			}
			provides[service].Add(strings.ReplaceAll(provider, "$", "."))
		}
		classFile := filepath.Join(destDir, filepath.FromSlash(strings.ReplaceAll(service, ".", "/"))+".class")
		if _, err := os.Stat(classFile); err == nil {
			uses.Add(service)
		}
	}
	return provides, nil
}
