package synthesis

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/modbuild/internal/errors"
	"git.home.luguber.info/inful/modbuild/internal/jpms"
)

// hideDir temporarily renames a directory out of the staging tree so the
// jmod tool does not package it. The returned restore puts it back.
func hideDir(dir string) (restore func(), err error) {
	if _, statErr := os.Stat(dir); statErr != nil {
		return func() {}, nil
	}
	tmp := dir + ".hidden"
	if err := os.Rename(dir, tmp); err != nil {
		return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "hiding "+dir)
	}
	return func() { _ = os.Rename(tmp, dir) }, nil
}

// createJmod packages the staging directory as a .jmod next to the
// distribution jar. META-INF/services and META-INF/versions are excluded:
// services are expressed as provides directives in module-info and
// version overlays have already been flattened into the staging tree.
// When the platform ships a jmod of the same name, its launchers and
// legal notices are carried over.
func (s *Synthesizer) createJmod(ctx context.Context, jmd *jpms.ModuleDescriptor, destDir, altName string) error {
	restoreServices, err := hideDir(filepath.Join(destDir, "META-INF", "services"))
	if err != nil {
		return err
	}
	defer restoreServices()
	restoreVersions, err := hideDir(filepath.Join(destDir, "META-INF", "versions"))
	if err != nil {
		return err
	}
	defer restoreVersions()

	jmodPath := jmd.JmodPath(s.Platform.JmodsDir, altName)
	if err := os.Remove(jmodPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "removing stale "+jmodPath)
	}

	args := []string{"create", "--class-path=" + destDir}
	if s.TargetOS != "" && s.TargetArch != "" {
		args = append(args, "--target-platform="+s.TargetOS+"-"+s.TargetArch)
	}

	platformJmod := filepath.Join(s.Platform.JmodsDir, filepath.Base(jmodPath))
	if _, err := os.Stat(platformJmod); err == nil {
		extraArgs, err := extractJmodSections(platformJmod, destDir)
		if err != nil {
			return err
		}
		args = append(args, extraArgs...)
	}

	args = append(args, jmodPath)
	if _, err := s.Runner.Run(ctx, s.Platform.Jmod, args...); err != nil {
		return err
	}
	return nil
}

// extractJmodSections copies the bin and legal sections out of a platform
// jmod so the replacement module keeps the same launchers and notices.
func extractJmodSections(jmodPath, destDir string) ([]string, error) {
	zr, err := zip.OpenReader(jmodPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "opening "+jmodPath)
	}
	defer zr.Close()

	var args []string
	for _, sec := range []struct{ name, option string }{
		{"bin", "--cmds"},
		{"legal", "--legal-notices"},
	} {
		sectionDir := destDir + "." + sec.name
		extracted := false
		for _, f := range zr.File {
			if !strings.HasPrefix(f.Name, sec.name+"/") || f.FileInfo().IsDir() {
				continue
			}
			if !extracted {
				if err := os.RemoveAll(sectionDir); err != nil {
					return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "clearing "+sectionDir)
				}
				extracted = true
			}
			rel := strings.TrimPrefix(f.Name, sec.name+"/")
			dst := filepath.Join(sectionDir, filepath.FromSlash(rel))
			if err := extractZipEntry(f, dst); err != nil {
				return nil, err
			}
		}
		if extracted {
			args = append(args, sec.option+"="+sectionDir)
		}
	}
	return args, nil
}

func extractZipEntry(f *zip.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "creating "+filepath.Dir(dst))
	}
	in, err := f.Open()
	if err != nil {
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "reading "+f.Name)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "creating "+dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "extracting "+f.Name)
	}
	return out.Close()
}
