// Package contracts loads the embedded JSON Schema documents and validates
// payloads against them at every repository/adapter boundary. Validation
// prefers the real jsonschema.v5 validator and falls back to a
// required-keys check if a schema fails to compile.
package contracts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Name identifies one of the three WDIB contract documents.
type Name string

const (
	StateSchema        Name = "state.schema.json"
	WorkOrderSchema     Name = "work_order.schema.json"
	WorkerResultSchema  Name = "worker_result.schema.json"
)

// ContractValidationError carries a compact, stable, capped message —
// "<location>: <reason>; ...".
type ContractValidationError struct {
	Label  string
	Errors []string
}

func (e *ContractValidationError) Error() string {
	joined := strings.Join(e.Errors, "; ")
	return fmt.Sprintf("invalid %s: %s", e.Label, joined)
}

const maxReportedErrors = 10

var compiled = map[Name]*jsonschema.Schema{}

func init() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, name := range []Name{StateSchema, WorkOrderSchema, WorkerResultSchema} {
		raw, err := schemaFS.ReadFile("schemas/" + string(name))
		if err != nil {
			panic(fmt.Sprintf("contracts: missing embedded schema %s: %v", name, err))
		}
		if err := c.AddResource(string(name), bytes.NewReader(raw)); err != nil {
			panic(fmt.Sprintf("contracts: adding schema resource %s: %v", name, err))
		}
	}
	for _, name := range []Name{StateSchema, WorkOrderSchema, WorkerResultSchema} {
		schema, err := c.Compile(string(name))
		if err != nil {
			// Fallback mode: leave compiled[name] nil and validation
			// falls back to the required-keys check only.
			continue
		}
		compiled[name] = schema
	}
}

func mustDecode(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		panic(fmt.Sprintf("contracts: decoding embedded schema: %v", err))
	}
	return v
}

// Validate checks payload (already decoded to a generic any, typically via
// json.Unmarshal into map[string]any) against the named schema, returning a
// *ContractValidationError on failure, labeled for the caller's message.
func Validate(payload any, name Name, label string) error {
	schema := compiled[name]
	var errs []string
	if schema != nil {
		errs = validateWithSchema(payload, schema)
	} else {
		errs = fallbackRequiredCheck(payload, name)
	}
	if len(errs) == 0 {
		return nil
	}
	if len(errs) > maxReportedErrors {
		errs = errs[:maxReportedErrors]
	}
	return &ContractValidationError{Label: label, Errors: errs}
}

func validateWithSchema(payload any, schema *jsonschema.Schema) []string {
	err := schema.Validate(payload)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	basic := ve.BasicOutput()
	var errs []string
	for _, e := range basic.Errors {
		loc := strings.TrimPrefix(e.InstanceLocation, "/")
		loc = strings.ReplaceAll(loc, "/", ".")
		if loc == "" {
			loc = "<root>"
		}
		errs = append(errs, fmt.Sprintf("%s: %s", loc, e.Error))
	}
	sort.Strings(errs)
	if len(errs) == 0 {
		errs = []string{err.Error()}
	}
	return errs
}

func fallbackRequiredCheck(payload any, name Name) []string {
	obj, ok := payload.(map[string]any)
	if !ok {
		return []string{"<root>: payload must be an object"}
	}
	required := requiredKeys(name)
	var errs []string
	for _, key := range required {
		if _, present := obj[key]; !present {
			errs = append(errs, fmt.Sprintf("<root>: missing required key '%s'", key))
		}
	}
	return errs
}

func requiredKeys(name Name) []string {
	switch name {
	case StateSchema:
		return []string{"schema_version", "device_id", "awoke_on", "day", "purpose", "status", "tasks", "hardware_requests", "incidents", "artifacts"}
	case WorkOrderSchema:
		return []string{"schema_version", "cycle_id", "created_on", "device_id", "objective", "constraints", "allowed_paths", "context", "result_path", "result_schema_version"}
	case WorkerResultSchema:
		return []string{"schema_version", "cycle_id", "status", "summary"}
	default:
		return nil
	}
}

// ValidateStruct marshals v to JSON and back to a generic any before
// validating, so callers can pass typed structs directly.
func ValidateStruct(v any, name Name, label string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s for validation: %w", label, err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("re-decoding %s for validation: %w", label, err)
	}
	return Validate(generic, name, label)
}
