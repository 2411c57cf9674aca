// Package flow compiles declarative flow definitions into executable
// subgraphs over the graph engine. A flow is an ordered list of typed steps;
// compilation produces one node per step, routing edges, and a synthetic
// terminal node, exactly once at startup.
package flow

import "fmt"

// StepType discriminates the step variants of a flow definition.
type StepType string

const (
	StepCollect StepType = "collect"
	StepAction  StepType = "action"
	StepSay     StepType = "say"
	StepSet     StepType = "set"
	StepBranch  StepType = "branch"
	StepConfirm StepType = "confirm"
	StepWhile   StepType = "while"
)

// StepConfig is one declarative step. Fields beyond Step and Type are
// per-type; validation rejects configurations missing their type's required
// fields.
type StepConfig struct {
	// Step is the unique step name within the flow.
	Step string `yaml:"step" json:"step"`

	// Type selects the step kind.
	Type StepType `yaml:"type" json:"type"`

	// Slot names the slot a collect fills or a confirm resolves, or the
	// target of a set.
	Slot string `yaml:"slot,omitempty" json:"slot,omitempty"`

	// Prompt is the user-facing question of a collect or confirm.
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`

	// Validator optionally names a registered slot validator (collect).
	Validator string `yaml:"validator,omitempty" json:"validator,omitempty"`

	// Options are suggested replies carried on the emitted task.
	Options []string `yaml:"options,omitempty" json:"options,omitempty"`

	// Call names the registered action handler (action).
	Call string `yaml:"call,omitempty" json:"call,omitempty"`

	// Inputs lists the slots passed to the action handler.
	Inputs []string `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// MapOutputs maps action output names to slot names.
	MapOutputs map[string]string `yaml:"map_outputs,omitempty" json:"map_outputs,omitempty"`

	// Message is the utterance template of a say step.
	Message string `yaml:"message,omitempty" json:"message,omitempty"`

	// WaitForAck makes a say step block until the user acknowledges.
	WaitForAck bool `yaml:"wait_for_ack,omitempty" json:"wait_for_ack,omitempty"`

	// Value is the literal (or "$slot" reference) a set step writes.
	Value interface{} `yaml:"value,omitempty" json:"value,omitempty"`

	// Input is the slot reference a branch step switches on.
	Input string `yaml:"input,omitempty" json:"input,omitempty"`

	// Cases maps branch input values to step names.
	Cases map[string]string `yaml:"cases,omitempty" json:"cases,omitempty"`

	// Default is the branch target when no case matches.
	Default string `yaml:"default,omitempty" json:"default,omitempty"`

	// Condition is the guard expression of a while step.
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	// Do is the body of a while step.
	Do []StepConfig `yaml:"do,omitempty" json:"do,omitempty"`

	// JumpTo overrides the textual successor of this step.
	JumpTo string `yaml:"jump_to,omitempty" json:"jump_to,omitempty"`
}

// FlowConfig is a named, declarative procedure: the steps executed to
// satisfy one user intent.
type FlowConfig struct {
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []StepConfig `yaml:"steps" json:"steps"`
}

// SlotConfig describes a slot shared across flows: its semantic type and
// optional normalizer/validator names resolved against the registries in
// validate.go.
type SlotConfig struct {
	Type       string `yaml:"type,omitempty" json:"type,omitempty"`
	Normalizer string `yaml:"normalizer,omitempty" json:"normalizer,omitempty"`
	Validator  string `yaml:"validator,omitempty" json:"validator,omitempty"`
}

// ActionConfig declares an action's semantic inputs and outputs. The handler
// itself is registered by name in an ActionRegistry.
type ActionConfig struct {
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Inputs      []string `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs     []string `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

// CompilationError reports a flow definition the compiler rejects.
type CompilationError struct {
	Flow   string
	Step   string
	Reason string
}

func (e *CompilationError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("flow %s: step %s: %s", e.Flow, e.Step, e.Reason)
	}
	return fmt.Sprintf("flow %s: %s", e.Flow, e.Reason)
}

// copySteps deep-copies a step list so compilation never mutates its input.
func copySteps(steps []StepConfig) []StepConfig {
	out := make([]StepConfig, len(steps))
	for i, s := range steps {
		out[i] = s
		if s.Options != nil {
			out[i].Options = append([]string{}, s.Options...)
		}
		if s.Inputs != nil {
			out[i].Inputs = append([]string{}, s.Inputs...)
		}
		if s.MapOutputs != nil {
			m := make(map[string]string, len(s.MapOutputs))
			for k, v := range s.MapOutputs {
				m[k] = v
			}
			out[i].MapOutputs = m
		}
		if s.Cases != nil {
			m := make(map[string]string, len(s.Cases))
			for k, v := range s.Cases {
				m[k] = v
			}
			out[i].Cases = m
		}
		if s.Do != nil {
			out[i].Do = copySteps(s.Do)
		}
	}
	return out
}
