package models

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Activation validation errors.
var (
	ErrNoSteps           = errors.New("automation must have at least one step")
	ErrNoMessageVariant  = errors.New("send_message step needs at least one non-empty message")
	ErrMessageTooLong    = errors.New("message exceeds channel max length")
	ErrInvalidWaitDelay  = errors.New("wait step delay must be between 1 and 525600 minutes")
	ErrInvalidCondition  = errors.New("condition step needs a field and an operator")
	ErrUnknownStepType   = errors.New("unknown step type")
	ErrInvalidStepConfig = errors.New("step config does not match its type")
	ErrInvalidAutomation = errors.New("invalid automation")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// StepError points at the step that failed validation.
type StepError struct {
	Index int
	Type  StepType
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Type, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ValidateForActivation checks that an automation can be switched on. Steps
// are checked in order position; the input is not modified.
func ValidateForActivation(automation *Automation, steps []*Step, maxLength int) error {
	err := validate.Struct(automation)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAutomation, describe(err))
	}

	if len(steps) == 0 {
		return ErrNoSteps
	}

	for i, step := range SortSteps(steps) {
		err := validateStep(step, maxLength)
		if err != nil {
			return &StepError{Index: i, Type: step.Type, Err: err}
		}
	}

	return nil
}

func validateStep(step *Step, maxLength int) error {
	switch config := step.Config.(type) {
	case SendMessageConfig:
		return validateMessages(config, maxLength)
	case WaitConfig:
		if validate.Struct(config) != nil {
			return ErrInvalidWaitDelay
		}
	case ConditionConfig:
		if validate.Struct(config) != nil {
			return ErrInvalidCondition
		}
	case InvalidConfig:
		return fmt.Errorf("%w: %w", ErrInvalidStepConfig, config.Err)
	default:
		return ErrUnknownStepType
	}

	return nil
}

func validateMessages(config SendMessageConfig, maxLength int) error {
	nonEmpty := 0

	for language, text := range config.Messages {
		if strings.TrimSpace(text) == "" {
			continue
		}

		nonEmpty++

		if maxLength > 0 && utf8.RuneCountInString(text) > maxLength {
			return fmt.Errorf("%w: %q has %d characters, max %d", ErrMessageTooLong, language, utf8.RuneCountInString(text), maxLength)
		}
	}

	if nonEmpty == 0 {
		return ErrNoMessageVariant
	}

	return nil
}

func describe(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	fields := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields = append(fields, fieldErr.Field()+" "+fieldErr.Tag())
	}

	return strings.Join(fields, ", ")
}
