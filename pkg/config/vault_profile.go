package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// VaultProfile is a named custody policy loaded from YAML. It captures the
// knobs that differ between deployments of the same vault code: how long
// the owner may stay silent, who the parties are, and how many guardians
// must agree.
type VaultProfile struct {
	Name           string   `yaml:"name" json:"name"`
	Code           string   `yaml:"code" json:"code"`
	Owner          string   `yaml:"owner" json:"owner"`
	Heir           string   `yaml:"heir" json:"heir"`
	InactivityDays int      `yaml:"inactivity_days" json:"inactivity_days"`
	Guardians      []string `yaml:"guardians,omitempty" json:"guardians,omitempty"`
	Quorum         int      `yaml:"quorum,omitempty" json:"quorum,omitempty"`
	// WalletAddress is the guardian wallet's own address. Proposals that
	// target it carry registry-change payloads, so it must not collide with
	// the owner or any external target.
	WalletAddress string `yaml:"wallet_address,omitempty" json:"wallet_address,omitempty"`
}

// InactivityPeriod returns the dead-man's-switch period.
func (p *VaultProfile) InactivityPeriod() time.Duration {
	return time.Duration(p.InactivityDays) * 24 * time.Hour
}

// Validate rejects profiles that could not construct a working vault.
func (p *VaultProfile) Validate() error {
	if p.Owner == "" {
		return fmt.Errorf("profile %q: owner is required", p.Code)
	}
	if p.Heir == "" {
		return fmt.Errorf("profile %q: heir is required", p.Code)
	}
	if p.InactivityDays <= 0 {
		return fmt.Errorf("profile %q: inactivity_days must be positive", p.Code)
	}
	if len(p.Guardians) > 0 {
		if p.Quorum < 1 || p.Quorum > len(p.Guardians) {
			return fmt.Errorf("profile %q: quorum %d with %d guardians", p.Code, p.Quorum, len(p.Guardians))
		}
		if p.WalletAddress == "" {
			return fmt.Errorf("profile %q: wallet_address is required with guardians", p.Code)
		}
	}
	return nil
}

// LoadVaultProfile loads a profile YAML by code. It searches the profiles
// directory for vault_<code>.yaml.
func LoadVaultProfile(profilesDir, code string) (*VaultProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("vault_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile VaultProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}
	if profile.Code == "" {
		profile.Code = code
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// LoadAllVaultProfiles loads every vault_*.yaml file from the directory.
func LoadAllVaultProfiles(profilesDir string) (map[string]*VaultProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "vault_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*VaultProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile VaultProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "vault_"), ".yaml")
		}
		if err := profile.Validate(); err != nil {
			return nil, err
		}
		profiles[profile.Code] = &profile
	}
	return profiles, nil
}
