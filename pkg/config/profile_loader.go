package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PolicyProfile is a named verification and reward policy.
type PolicyProfile struct {
	Name         string           `yaml:"name" json:"name"`
	Code         string           `yaml:"code" json:"code"`
	Verification VerificationCfg  `yaml:"verification" json:"verification"`
	Reward       RewardCfg        `yaml:"reward" json:"reward"`
	Reputation   ReputationCfg    `yaml:"reputation" json:"reputation"`
	Execution    ExecutionCfg     `yaml:"execution" json:"execution"`
	Schemas      map[string]string `yaml:"schemas,omitempty" json:"schemas,omitempty"`
	// Agents is the known-agent roster for the identity directory. Empty
	// means open registration: any agent id may record actions.
	Agents []AgentCfg `yaml:"agents,omitempty" json:"agents,omitempty"`
}

// AgentCfg declares one agent for the identity directory.
type AgentCfg struct {
	AgentID      string   `yaml:"agent_id" json:"agent_id"`
	PublicKey    string   `yaml:"public_key,omitempty" json:"public_key,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// VerificationCfg holds verifier set and consensus settings.
type VerificationCfg struct {
	Verifiers   []string `yaml:"verifiers" json:"verifiers"`
	Quorum      int      `yaml:"quorum" json:"quorum"`
	DomainRules []string `yaml:"domain_rules,omitempty" json:"domain_rules,omitempty"`
}

// RewardCfg holds distribution policy settings.
type RewardCfg struct {
	BaseReward        float64 `yaml:"base_reward" json:"base_reward"`
	FailureMultiplier float64 `yaml:"failure_multiplier" json:"failure_multiplier"`
	VerifierRate      float64 `yaml:"verifier_rate" json:"verifier_rate"`
	MaxPerAction      float64 `yaml:"max_per_action" json:"max_per_action"`
}

// ReputationCfg holds scoring settings.
type ReputationCfg struct {
	InitialScore     float64 `yaml:"initial_score" json:"initial_score"`
	MaxScore         float64 `yaml:"max_score" json:"max_score"`
	SuccessGain      float64 `yaml:"success_gain" json:"success_gain"`
	FailurePenalty   float64 `yaml:"failure_penalty" json:"failure_penalty"`
	DecayHalfLifeHrs int     `yaml:"decay_half_life_hours" json:"decay_half_life_hours"`
}

// ExecutionCfg holds secure execution settings.
type ExecutionCfg struct {
	Environment      string `yaml:"environment" json:"environment"` // "sgx-sim" | "wasm-sandbox"
	MemoryLimitBytes uint32 `yaml:"memory_limit_bytes,omitempty" json:"memory_limit_bytes,omitempty"`
}

// LoadProfile loads a policy profile YAML by code. It searches the profiles
// directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*PolicyProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile PolicyProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*PolicyProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*PolicyProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile PolicyProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_default.yaml -> default
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}
