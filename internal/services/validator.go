package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation can be used with errors.Is to detect request validation failures.
var ErrValidation = errors.New("validation failed")

// ServiceCategories is the closed set of errand categories a request may use.
var ServiceCategories = []string{
	"grocery_shopping",
	"delivery_dropoffs",
	"household_chores",
	"personal_assistance",
	"business_services",
	"automotive",
	"special_requests",
	"urgency_based",
}

// IsServiceCategory reports whether c is one of the known errand categories.
func IsServiceCategory(c string) bool {
	for _, known := range ServiceCategories {
		if known == c {
			return true
		}
	}
	return false
}

const errandRequestSchemaID = "https://serani.app/schemas/errand-request.v1"

const errandRequestSchema = `{
	"type": "object",
	"required": ["category", "service_name", "price"],
	"properties": {
		"category": {
			"type": "string",
			"enum": [
				"grocery_shopping",
				"delivery_dropoffs",
				"household_chores",
				"personal_assistance",
				"business_services",
				"automotive",
				"special_requests",
				"urgency_based"
			]
		},
		"service_name": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"price": {"type": "number", "exclusiveMinimum": 0},
		"location": {
			"type": "object",
			"properties": {
				"address": {"type": "string"},
				"coordinates": {
					"type": "object",
					"required": ["latitude", "longitude"],
					"properties": {
						"latitude": {"type": "number", "minimum": -90, "maximum": 90},
						"longitude": {"type": "number", "minimum": -180, "maximum": 180}
					}
				}
			}
		}
	}
}`

// RequestValidator checks incoming errand requests against the request
// schema before a task record is created from them.
type RequestValidator struct {
	schema *jsonschema.Schema
}

func NewRequestValidator() (*RequestValidator, error) {
	schema, err := jsonschema.CompileString(errandRequestSchemaID, errandRequestSchema)
	if err != nil {
		return nil, fmt.Errorf("compile errand request schema: %w", err)
	}
	return &RequestValidator{schema: schema}, nil
}

// ValidateErrandRequest performs hard reject: an error means the request must
// not produce a task record.
func (v *RequestValidator) ValidateErrandRequest(raw json.RawMessage) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
