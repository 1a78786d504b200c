// Package models defines the core domain models for drip automations.
package models

import "time"

// Automation is a named, triggerable sequence of steps.
type Automation struct {
	ID                string      `json:"id"                 yaml:"id"                 validate:"required"`
	Name              string      `json:"name"               yaml:"name"               validate:"required,min=3"`
	TriggerEvent      string      `json:"trigger_event"      yaml:"trigger_event"      validate:"required"`
	Conditions        []Condition `json:"conditions"         yaml:"conditions"         validate:"dive"`
	IsActive          bool        `json:"is_active"          yaml:"is_active"`
	AllowReenrollment bool        `json:"allow_reenrollment" yaml:"allow_reenrollment"`
	CreatedAt         time.Time   `json:"created_at"         yaml:"-"`
	UpdatedAt         time.Time   `json:"updated_at"         yaml:"-"`
}

// Condition compares a context field against a value. It is used both by the
// condition step and by the automation entry conditions.
type Condition struct {
	Field    string `json:"field"    yaml:"field"    validate:"required"`
	Operator string `json:"operator" yaml:"operator" validate:"required"`
	Value    any    `json:"value"    yaml:"value"`
}
