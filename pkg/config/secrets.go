package config

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"

	"github.com/usebox/swiftnbd/internal/logger"
)

// Export is one [section] of the secrets file: the credentials and access
// mode for a single container.
type Export struct {
	Name     string
	Username string
	Password string
	AuthURL  string
	ReadOnly bool
}

// LoadSecrets reads every export from the secrets file. Sections missing an
// authurl fall back to defaultAuthURL. A world-readable file is served with
// a warning.
func LoadSecrets(path, defaultAuthURL string) ([]Export, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if info.Mode().Perm()&0o004 != 0 {
		logger.Warn("Secrets file is world readable, please consider changing its permissions to 0600",
			"path", path)
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse secrets file %s: %w", path, err)
	}

	var exports []Export
	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		export, err := parseSection(section, defaultAuthURL)
		if err != nil {
			return nil, err
		}
		exports = append(exports, export)
	}
	return exports, nil
}

// LoadSecretsExport reads a single export's section. It fails if the
// section is not present.
func LoadSecretsExport(path, name, defaultAuthURL string) (Export, error) {
	exports, err := LoadSecrets(path, defaultAuthURL)
	if err != nil {
		return Export{}, err
	}
	for _, export := range exports {
		if export.Name == name {
			return export, nil
		}
	}
	return Export{}, fmt.Errorf("%s not found in %s", name, path)
}

func parseSection(section *ini.Section, defaultAuthURL string) (Export, error) {
	name := section.Name()

	username := section.Key("username").String()
	password := section.Key("password").String()
	if username == "" || password == "" {
		return Export{}, fmt.Errorf("export %s: username and password are required", name)
	}

	authURL := section.Key("authurl").String()
	if authURL == "" {
		authURL = defaultAuthURL
	}

	readOnly, err := parseBool(section.Key("read-only").String())
	if err != nil {
		return Export{}, fmt.Errorf("export %s: %w", name, err)
	}

	return Export{
		Name:     name,
		Username: username,
		Password: password,
		AuthURL:  authURL,
		ReadOnly: readOnly,
	}, nil
}

// parseBool accepts the historical secrets file booleans.
func parseBool(s string) (bool, error) {
	switch s {
	case "", "0", "no", "false", "off":
		return false, nil
	case "1", "yes", "true", "on":
		return true, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}
