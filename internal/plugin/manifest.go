package plugin

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/gjson"

	"github.com/lecternhq/lectern/internal/plugin/api"
)

const (
	// ManifestFileName is the declaration file every package must carry.
	ManifestFileName = "plugin.json"

	// EntryPointExt is the extension required of entry-point code units.
	EntryPointExt = ".lua"
)

// requiredManifestFields must be present and non-empty, checked in order so
// the first offender is named in the validation error.
var requiredManifestFields = []string{"id", "name", "version", "entry_point"}

// Manifest describes a plugin's identity, entry point, and requested
// permissions. It is read once from a package and never persisted as-is;
// the durable form is a Record.
type Manifest struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Version     string           `json:"version"`
	Author      string           `json:"author"`
	Description string           `json:"description"`
	EntryPoint  string           `json:"entry_point"`
	Permissions []api.Permission `json:"permissions"`
}

// Record builds the durable record created when this manifest's package is
// installed. New installs start disabled.
func (m *Manifest) Record(installedAt time.Time) *Record {
	return &Record{
		ID:          m.ID,
		Name:        m.Name,
		Version:     m.Version,
		Author:      m.Author,
		Description: m.Description,
		EntryPoint:  m.EntryPoint,
		Permissions: append([]api.Permission(nil), m.Permissions...),
		Enabled:     false,
		InstalledAt: installedAt,
	}
}

// Validate checks a plugin package before any of its code runs.
// A nil return means the package is valid; every defect is reported as an
// error wrapping ErrValidation that names the offending detail. Malformed
// input is the expected negative result, never a panic.
func Validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: package path does not exist: %s", ErrValidation, path)
	}

	var raw []byte
	switch {
	case info.IsDir():
		raw, err = manifestFromDir(path)
	case strings.EqualFold(filepath.Ext(path), ".zip"):
		raw, err = manifestFromZip(path)
	default:
		return fmt.Errorf("%w: unsupported package format %q, want a directory or .zip archive", ErrValidation, filepath.Ext(path))
	}
	if err != nil {
		return err
	}

	return validateManifestBytes(raw)
}

// ReadManifest parses the manifest from a directory or .zip package.
// The package is assumed to have passed Validate.
func ReadManifest(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read package: %w", err)
	}

	var raw []byte
	if info.IsDir() {
		raw, err = manifestFromDir(path)
	} else {
		raw, err = manifestFromZip(path)
	}
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// manifestFromDir reads plugin.json from the top level of a directory package.
func manifestFromDir(dir string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: package is missing %s", ErrValidation, ManifestFileName)
	}
	return raw, nil
}

// manifestFromZip scans an archive for a plugin.json entry anywhere in the
// tree and returns its contents.
func manifestFromZip(path string) ([]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: not a valid zip archive: %s", ErrValidation, path)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if filepath.Base(f.Name) != ManifestFileName || f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read %s from archive", ErrValidation, ManifestFileName)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read %s from archive", ErrValidation, ManifestFileName)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: package is missing %s", ErrValidation, ManifestFileName)
}

// validateManifestBytes checks the raw manifest JSON field by field.
// Checks run against the raw document (not the unmarshaled struct) so the
// first missing, empty, or ill-typed field is named precisely.
func validateManifestBytes(raw []byte) error {
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("%w: manifest is not valid JSON", ErrValidation)
	}

	for _, field := range requiredManifestFields {
		v := gjson.GetBytes(raw, field)
		if !v.Exists() {
			return fmt.Errorf("%w: manifest missing required field %q", ErrValidation, field)
		}
		if v.Type != gjson.String || v.String() == "" {
			return fmt.Errorf("%w: manifest field %q must be a non-empty string", ErrValidation, field)
		}
	}

	if _, err := semver.NewVersion(gjson.GetBytes(raw, "version").String()); err != nil {
		return fmt.Errorf("%w: manifest field \"version\" is not a semantic version: %s", ErrValidation, gjson.GetBytes(raw, "version").String())
	}

	perms := gjson.GetBytes(raw, "permissions")
	if perms.Exists() {
		if !perms.IsArray() {
			return fmt.Errorf("%w: manifest field \"permissions\" must be an array of strings", ErrValidation)
		}
		for _, p := range perms.Array() {
			if p.Type != gjson.String {
				return fmt.Errorf("%w: manifest field \"permissions\" must be an array of strings", ErrValidation)
			}
			if !api.KnownPermission(api.Permission(p.String())) {
				return fmt.Errorf("%w: unknown permission %q", ErrValidation, p.String())
			}
		}
	}

	if entry := gjson.GetBytes(raw, "entry_point").String(); !strings.HasSuffix(entry, EntryPointExt) {
		return fmt.Errorf("%w: entry point %q must be a %s file", ErrValidation, entry, EntryPointExt)
	}

	return nil
}
