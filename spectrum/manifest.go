package spectrum

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/prismrt/prism/fault"
)

const (
	// ManifestFile is the manifest file name within each unit directory.
	ManifestFile = "spectrum.json"

	// UnitKind is the directory grouping capability units under the
	// install root.
	UnitKind = "prisms"

	// InstallRootEnv is the environment variable naming the install root.
	InstallRootEnv = "PRISM_HOME"

	// defaultInstallDir is the home-relative fallback install root.
	defaultInstallDir = ".prism"
)

// InstallRoot resolves the installation root: PRISM_HOME when set,
// otherwise ~/.prism.
func InstallRoot() string {
	if root := os.Getenv(InstallRootEnv); root != "" {
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultInstallDir
	}
	return filepath.Join(home, defaultInstallDir)
}

// UnitDir returns the directory holding a unit's manifest and plugin:
// <root>/prisms/<namespace>/<name>.
func UnitDir(root, unitID string) (string, error) {
	namespace, name, err := SplitUnitID(unitID)
	if err != nil {
		return "", fault.From(err)
	}
	return filepath.Join(root, UnitKind, namespace, name), nil
}

// Load locates and parses a unit's manifest under the default install root.
func Load(unitID string) (*Spectrum, error) {
	return LoadFrom(InstallRoot(), unitID)
}

// LoadFrom locates and parses a unit's manifest under the given install
// root. Loading failures are local, recoverable errors surfaced to the
// caller.
func LoadFrom(root, unitID string) (*Spectrum, error) {
	dir, err := UnitDir(root, unitID)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.Newf(fault.KindManifestNotFound,
				"no manifest for unit %s at %s", unitID, path)
		}
		return nil, fault.Newf(fault.KindManifestNotFound,
			"cannot read manifest for unit %s: %v", unitID, err)
	}

	var s Spectrum
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fault.Newf(fault.KindManifestMalformed,
			"manifest for unit %s is not valid JSON: %v", unitID, err)
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	if s.ID() != unitID {
		return nil, fault.Newf(fault.KindManifestMalformed,
			"manifest at %s declares identity %s, expected %s", path, s.ID(), unitID)
	}

	return &s, nil
}
