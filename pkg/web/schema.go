package web

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// triggerEventSchema describes the accepted body of POST /events.
var triggerEventSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["name", "subscriber_id"],
	"properties": {
		"name": {"type": "string", "minLength": 1, "maxLength": 200},
		"subscriber_id": {"type": "string", "minLength": 1, "maxLength": 200},
		"payload": {"type": "object"}
	},
	"additionalProperties": false
}`)

// validateJSONSchema checks a decoded document against schema.
func validateJSONSchema(schema gojsonschema.JSONLoader, document any) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewGoLoader(document))
	if err != nil {
		return err
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
	}

	return nil
}
