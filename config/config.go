// Package config loads and validates the dialogue runtime configuration:
// flow definitions, action declarations, slot schemas, and settings.
package config

import (
	"fmt"
	"os"

	"github.com/jmorenobl/soni/dialogue"
	"github.com/jmorenobl/soni/flow"
	"gopkg.in/yaml.v3"
)

// Default limit values per the runtime contract.
const (
	DefaultMaxFlowStackDepth       = 8
	DefaultMaxDigressionDepth      = 3
	DefaultMaxConfirmationAttempts = 3
	DefaultSubgraphIterationLimit  = 25
	DefaultActionTimeoutSeconds    = 30
)

// Config is the validated configuration object the runtime is built from.
type Config struct {
	Flows    map[string]flow.FlowConfig   `yaml:"flows"`
	Actions  map[string]flow.ActionConfig `yaml:"actions"`
	Slots    map[string]flow.SlotConfig   `yaml:"slots"`
	Settings Settings                     `yaml:"settings"`
}

// Settings groups runtime knobs.
type Settings struct {
	Persistence Persistence `yaml:"persistence"`
	NLU         NLU         `yaml:"nlu"`
	Limits      Limits      `yaml:"limits"`
	Responses   Responses   `yaml:"responses"`
}

// Persistence selects the checkpoint backend.
type Persistence struct {
	// Backend is "memory", "sqlite", or "mysql".
	Backend string `yaml:"backend"`

	// Connection is the file path (sqlite) or DSN (mysql).
	Connection string `yaml:"connection,omitempty"`
}

// NLU selects the interpretation model.
type NLU struct {
	// Provider is "anthropic", "openai", "google", or "mock".
	Provider string `yaml:"provider"`

	// Model is the provider-specific model name; empty selects the
	// provider default.
	Model string `yaml:"model,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	Temperature float64 `yaml:"temperature,omitempty"`
}

// Limits bounds runtime behavior. Zero values take the defaults above.
type Limits struct {
	MaxFlowStackDepth       int    `yaml:"max_flow_stack_depth,omitempty"`
	MaxDigressionDepth      int    `yaml:"max_digression_depth,omitempty"`
	MaxConfirmationAttempts int    `yaml:"max_confirmation_attempts,omitempty"`
	SubgraphIterationLimit  int    `yaml:"subgraph_iteration_limit,omitempty"`
	ActionTimeoutSeconds    int    `yaml:"action_timeout_seconds,omitempty"`
	StackOverflowPolicy     string `yaml:"stack_overflow_policy,omitempty"`
}

// Responses configures the canned handler utterances.
type Responses struct {
	Cancelled     string `yaml:"cancelled,omitempty"`
	NothingActive string `yaml:"nothing_active,omitempty"`
	Clarify       string `yaml:"clarify,omitempty"`
	Error         string `yaml:"error,omitempty"`
}

// Templates converts the configured responses into handler templates.
func (r Responses) Templates() dialogue.ResponseTemplates {
	return dialogue.ResponseTemplates{
		Cancelled:     r.Cancelled,
		NothingActive: r.NothingActive,
		Clarify:       r.Clarify,
		Error:         r.Error,
	}
}

// Load reads and parses a YAML configuration file, applies defaults, and
// validates it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML configuration bytes, applies defaults, and validates.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued limits and backend selections.
func (c *Config) ApplyDefaults() {
	if c.Flows == nil {
		c.Flows = map[string]flow.FlowConfig{}
	}
	if c.Actions == nil {
		c.Actions = map[string]flow.ActionConfig{}
	}
	if c.Slots == nil {
		c.Slots = map[string]flow.SlotConfig{}
	}

	l := &c.Settings.Limits
	if l.MaxFlowStackDepth == 0 {
		l.MaxFlowStackDepth = DefaultMaxFlowStackDepth
	}
	if l.MaxDigressionDepth == 0 {
		l.MaxDigressionDepth = DefaultMaxDigressionDepth
	}
	if l.MaxConfirmationAttempts == 0 {
		l.MaxConfirmationAttempts = DefaultMaxConfirmationAttempts
	}
	if l.SubgraphIterationLimit == 0 {
		l.SubgraphIterationLimit = DefaultSubgraphIterationLimit
	}
	if l.ActionTimeoutSeconds == 0 {
		l.ActionTimeoutSeconds = DefaultActionTimeoutSeconds
	}
	if l.StackOverflowPolicy == "" {
		l.StackOverflowPolicy = dialogue.OverflowCancelOldest
	}

	if c.Settings.Persistence.Backend == "" {
		c.Settings.Persistence.Backend = "memory"
	}
}

// Validate rejects configurations the runtime cannot serve: an unknown
// persistence backend or a sqlite/mysql backend without a connection, an
// unknown stack overflow policy, flows with no steps, and steps (including
// while bodies) that call undeclared actions. Limit values are not
// range-checked.
func (c *Config) Validate() error {
	switch c.Settings.Persistence.Backend {
	case "memory":
	case "sqlite", "mysql":
		if c.Settings.Persistence.Connection == "" {
			return fmt.Errorf("config: persistence backend %s requires a connection", c.Settings.Persistence.Backend)
		}
	default:
		return fmt.Errorf("config: unknown persistence backend: %s", c.Settings.Persistence.Backend)
	}

	switch c.Settings.Limits.StackOverflowPolicy {
	case dialogue.OverflowCancelOldest, dialogue.OverflowRejectNew:
	default:
		return fmt.Errorf("config: unknown stack overflow policy: %s", c.Settings.Limits.StackOverflowPolicy)
	}

	for name, f := range c.Flows {
		if len(f.Steps) == 0 {
			return fmt.Errorf("config: flow %s has no steps", name)
		}
		if err := c.checkActionRefs(name, f.Steps); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) checkActionRefs(flowName string, steps []flow.StepConfig) error {
	for _, s := range steps {
		if s.Type == flow.StepAction {
			if _, ok := c.Actions[s.Call]; !ok {
				return fmt.Errorf("config: flow %s step %s calls undeclared action: %s", flowName, s.Step, s.Call)
			}
		}
		if len(s.Do) > 0 {
			if err := c.checkActionRefs(flowName, s.Do); err != nil {
				return err
			}
		}
	}
	return nil
}
