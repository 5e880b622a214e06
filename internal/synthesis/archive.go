package synthesis

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/modbuild/internal/errors"
)

const (
	versionedPrefix = "META-INF/versions/"
	// specialVersionedPrefix versions META-INF/services files, which the
	// multi-release jar format itself forbids under META-INF/versions. The
	// underscore directory is flattened away once the per-version provides
	// directives have been computed.
	specialVersionedPrefix = "META-INF/_versions/"
	servicesPrefix         = "META-INF/services/"
)

var versionedRE = regexp.MustCompile(`^META-INF/_?versions/([1-9][0-9]*)/(.+)$`)

// Archive is the staged contents of a distribution jar during module
// synthesis. Entries maps archive names to staged files under StagingDir;
// the packaging step that seals the zip happens elsewhere.
type Archive struct {
	StagingDir string
	// Entries: arcname -> absolute path of the staged file.
	Entries map[string]string
	// Exploded archives are plain directories that never become a jar;
	// they get a single unversioned descriptor for the platform release.
	Exploded bool
}

// versionedEntry is one resource under a META-INF/versions or
// META-INF/_versions overlay.
type versionedEntry struct {
	arcname         string
	staged          string
	version         int
	unversionedName string
}

// classifyEntries splits archive entries into unversioned resources and
// versioned overlays, collecting the version numbers present and the
// entries that must be removed from the final archive (versioned service
// files, which are folded into per-version descriptors instead).
// Versioned META-INF resources other than services make modules fail to
// load and are fatal. Overlay versions above the target release are
// dropped.
func classifyEntries(a *Archive, targetRelease int) (versioned []versionedEntry, versions []int, toRemove map[string]bool, err error) {
	toRemove = map[string]bool{}
	seen := map[int]bool{}
	for arcname, staged := range a.Entries {
		m := versionedRE.FindStringSubmatch(arcname)
		if m == nil {
			continue
		}
		version, convErr := strconv.Atoi(m[1])
		if convErr != nil {
			return nil, nil, nil, errors.ConfigError("invalid version in archive entry %s", arcname)
		}
		if !seen[version] {
			seen[version] = true
			versions = append(versions, version)
		}
		if version > targetRelease {
			// Resource for a newer platform than we target.
			continue
		}
		unversioned := m[2]
		if strings.HasPrefix(arcname, specialVersionedPrefix) && !strings.HasPrefix(unversioned, servicesPrefix) {
			return nil, nil, nil, errors.ConfigError("the special versioned directory (%s) is only supported for META-INF/services files, got %s", specialVersionedPrefix, arcname)
		}
		if !a.Exploded {
			if strings.HasPrefix(unversioned, servicesPrefix) {
				toRemove[arcname] = true
			} else if strings.HasPrefix(unversioned, "META-INF/") {
				return nil, nil, nil, errors.ConsistencyError("META-INF resources can not be versioned and will make modules fail to load (%s)", arcname)
			}
		}
		versioned = append(versioned, versionedEntry{arcname: arcname, staged: staged, version: version, unversionedName: unversioned})
	}
	sort.Ints(versions)
	sort.Slice(versioned, func(i, j int) bool { return versioned[i].version < versioned[j].version })
	return versioned, versions, toRemove, nil
}

// descriptorVersions returns the labels of the descriptors to produce,
// oldest first. Multi-release archives get one descriptor per overlay
// version; when no overlay for release 9 exists, a "common" baseline
// descriptor goes to the archive root so the module loads on the first
// modular platform release.
func descriptorVersions(versions []int, exploded bool, targetRelease int) []string {
	if exploded {
		return []string{strconv.Itoa(targetRelease)}
	}
	var labels []string
	has9 := false
	for _, v := range versions {
		if v == 9 {
			has9 = true
		}
		labels = append(labels, strconv.Itoa(v))
	}
	if !has9 {
		labels = append([]string{versionCommon}, labels...)
	}
	return labels
}

// jmodVersion picks which per-version descriptor the .jmod is packaged
// from: the highest overlay not exceeding the packaging release, or the
// common baseline when no overlay qualifies.
func jmodVersion(versions []int, exploded bool, packagingRelease int) string {
	if exploded {
		return ""
	}
	best := -1
	for _, v := range versions {
		if v <= packagingRelease && v > best {
			best = v
		}
	}
	if best < 0 {
		if packagingRelease < 9 {
			return ""
		}
		return versionCommon
	}
	return strconv.Itoa(best)
}

const versionCommon = "common"
