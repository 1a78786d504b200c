package workflow

import "github.com/dukex/drip/pkg/models"

// Variables builds the rendering and condition context of an execution:
// subscriber attributes, overridden by the payload of the enrolling event.
func Variables(subscriber *models.Subscriber, enrollment *models.Enrollment) map[string]any {
	vars := make(map[string]any, len(subscriber.Attributes)+len(enrollment.EventPayload))

	for key, value := range subscriber.Attributes {
		vars[key] = value
	}

	for key, value := range enrollment.EventPayload {
		vars[key] = value
	}

	return vars
}

// entryVariables is the context automation entry conditions are checked
// against, before any enrollment exists.
func entryVariables(subscriber *models.Subscriber, payload map[string]any) map[string]any {
	return Variables(subscriber, &models.Enrollment{EventPayload: payload})
}
