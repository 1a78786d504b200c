package models

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// StepType identifies what a step does.
type StepType string

const (
	StepTypeSendMessage StepType = "send_message"
	StepTypeWait        StepType = "wait"
	StepTypeCondition   StepType = "condition"
)

// MaxWaitMinutes is the longest accepted wait, one year.
const MaxWaitMinutes = 525600

// StepConfig is the closed set of step configurations. The concrete type
// decides how the executor handles the step.
type StepConfig interface {
	StepType() StepType
}

// SendMessageConfig sends one of the language variants to the subscriber.
type SendMessageConfig struct {
	Messages  map[string]string `json:"messages"             yaml:"messages"             validate:"required,min=1"`
	ParseMode string            `json:"parse_mode,omitempty" yaml:"parse_mode,omitempty"`
}

func (SendMessageConfig) StepType() StepType { return StepTypeSendMessage }

// WaitConfig suspends the enrollment for DelayMinutes.
type WaitConfig struct {
	DelayMinutes int `json:"delay_minutes" yaml:"delay_minutes" validate:"gt=0,lte=525600"`
}

func (WaitConfig) StepType() StepType { return StepTypeWait }

// ConditionConfig cancels the enrollment when the condition does not hold.
type ConditionConfig struct {
	Condition `yaml:",inline"`
}

func (ConditionConfig) StepType() StepType { return StepTypeCondition }

// UnknownConfig holds a step whose type this version does not understand.
type UnknownConfig struct {
	Type StepType        `json:"-"`
	Raw  json.RawMessage `json:"-"`
}

func (u UnknownConfig) StepType() StepType { return u.Type }

// InvalidConfig holds a stored step of a known type whose config does not
// decode. Raw keeps the stored document so it survives a re-save.
type InvalidConfig struct {
	Type StepType        `json:"-"`
	Raw  json.RawMessage `json:"-"`
	Err  error           `json:"-"`
}

func (c InvalidConfig) StepType() StepType { return c.Type }

// RawConfig returns the stored document of a step that did not decode into
// a typed config, or false for typed configs.
func RawConfig(config StepConfig) (json.RawMessage, bool) {
	switch c := config.(type) {
	case UnknownConfig:
		return c.Raw, true
	case InvalidConfig:
		return c.Raw, true
	}

	return nil, false
}

// Step is one unit of work in an automation.
type Step struct {
	AutomationID string     `json:"automation_id"`
	Order        int        `json:"order"`
	Type         StepType   `json:"type"`
	Config       StepConfig `json:"config"`
}

type rawStep struct {
	AutomationID string          `json:"automation_id"`
	Order        int             `json:"order"`
	Type         StepType        `json:"type"`
	Config       json.RawMessage `json:"config"`
}

// MarshalJSON writes the step with its type tag.
func (s Step) MarshalJSON() ([]byte, error) {
	config, err := json.Marshal(s.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step config: %w", err)
	}

	stepType := s.Type
	if stepType == "" && s.Config != nil {
		stepType = s.Config.StepType()
	}

	if raw, ok := RawConfig(s.Config); ok {
		config = raw
		if len(config) == 0 {
			config = json.RawMessage("{}")
		}
	}

	return json.Marshal(rawStep{
		AutomationID: s.AutomationID,
		Order:        s.Order,
		Type:         stepType,
		Config:       config,
	})
}

// UnmarshalJSON decodes the config according to the type tag.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw rawStep

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	s.AutomationID = raw.AutomationID
	s.Order = raw.Order
	s.Type = raw.Type
	s.Config = DecodeStepConfig(raw.Type, raw.Config)

	return nil
}

// UnmarshalYAML decodes definition files where config sits under the step.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Order  int       `yaml:"order"`
		Type   StepType  `yaml:"type"`
		Config yaml.Node `yaml:"config"`
	}

	err := node.Decode(&raw)
	if err != nil {
		return err
	}

	var config StepConfig

	switch raw.Type {
	case StepTypeSendMessage:
		var c SendMessageConfig
		err = raw.Config.Decode(&c)
		config = c
	case StepTypeWait:
		var c WaitConfig
		err = raw.Config.Decode(&c)
		config = c
	case StepTypeCondition:
		var c ConditionConfig
		err = raw.Config.Decode(&c)
		config = c
	default:
		config = UnknownConfig{Type: raw.Type}
	}

	if err != nil {
		return fmt.Errorf("failed to decode %s step config: %w", raw.Type, err)
	}

	s.Order = raw.Order
	s.Type = raw.Type
	s.Config = config

	return nil
}

// DecodeStepConfig turns a stored config document into its typed form. It
// never fails: unrecognized types decode to UnknownConfig and documents that
// do not fit their type decode to InvalidConfig.
func DecodeStepConfig(stepType StepType, data []byte) StepConfig {
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}

	var (
		config StepConfig
		err    error
	)

	switch stepType {
	case StepTypeSendMessage:
		var c SendMessageConfig
		err = json.Unmarshal(data, &c)
		config = c
	case StepTypeWait:
		var c WaitConfig
		err = json.Unmarshal(data, &c)
		config = c
	case StepTypeCondition:
		var c ConditionConfig
		err = json.Unmarshal(data, &c)
		config = c
	default:
		return UnknownConfig{Type: stepType, Raw: append(json.RawMessage(nil), data...)}
	}

	if err != nil {
		return InvalidConfig{
			Type: stepType,
			Raw:  append(json.RawMessage(nil), data...),
			Err:  fmt.Errorf("failed to decode %s step config: %w", stepType, err),
		}
	}

	return config
}

// SortSteps returns the steps ordered by Order without touching them. Array
// position in the result is the executor's cursor; gaps in Order are tolerated.
func SortSteps(steps []*Step) []*Step {
	sorted := make([]*Step, len(steps))
	copy(sorted, steps)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	return sorted
}

// NormalizeSteps sorts steps by order and rewrites the orders to 0..n-1.
func NormalizeSteps(steps []*Step) []*Step {
	sorted := SortSteps(steps)

	for i, step := range sorted {
		step.Order = i
		if step.Config != nil {
			step.Type = step.Config.StepType()
		}
	}

	return sorted
}
