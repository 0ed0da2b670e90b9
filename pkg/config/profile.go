package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/estately/dealflow/pkg/render"
)

// AgencyProfile is one agency office's document identity plus its
// default deadlines. Multi-office deployments keep one YAML per code.
type AgencyProfile struct {
	Code            string        `yaml:"code"`
	Agency          render.Agency `yaml:"agency"`
	DefaultDueDays  int           `yaml:"default_due_days"`
	ContractDueDays int           `yaml:"contract_due_days"`
}

// LoadAgencyProfile loads profile_<code>.yaml from the profiles directory.
func LoadAgencyProfile(profilesDir, code string) (*AgencyProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile AgencyProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}
	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

// LoadAllAgencyProfiles loads every profile_*.yaml in the directory,
// keyed by code.
func LoadAllAgencyProfiles(profilesDir string) (map[string]*AgencyProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan profiles: %w", err)
	}

	profiles := make(map[string]*AgencyProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var profile AgencyProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Code] = &profile
	}
	return profiles, nil
}
