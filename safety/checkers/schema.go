package checkers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ridgeline-ai/gatehouse/policy"
	"github.com/ridgeline-ai/gatehouse/safety"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaChecker validates the call's parameters against a JSON schema
// supplied in the check config under "schema".
type SchemaChecker struct {
	schema *jsonschema.Schema
}

func NewSchemaChecker(cfg map[string]any) (*SchemaChecker, error) {
	raw, ok := cfg["schema"].(map[string]any)
	if !ok {
		return &SchemaChecker{}, nil
	}

	// Round-trip through JSON so YAML-decoded values conform to what the
	// compiler expects.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: unmarshal: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	sch, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return &SchemaChecker{schema: sch}, nil
}

func (c *SchemaChecker) Name() string { return "schema" }

func (c *SchemaChecker) Check(_ context.Context, call *policy.ToolCall) (*safety.Result, error) {
	if c.schema == nil {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusSkipped,
			Message:     "no schema configured",
		}, nil
	}

	// Normalize parameters through JSON so numeric types match the
	// validator's expectations.
	data, err := json.Marshal(call.Parameters)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal parameters: %w", err)
	}
	var params any
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("schema: unmarshal parameters: %w", err)
	}

	if err := c.schema.Validate(params); err != nil {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusFailed,
			Message:     fmt.Sprintf("parameters failed schema validation: %v", err),
			Risk:        policy.RiskMedium,
			Suggestions: []string{"fix the parameters to match the tool's schema"},
		}, nil
	}

	return &safety.Result{
		CheckerName: c.Name(),
		Status:      safety.StatusPassed,
		Message:     "parameters match schema",
		Risk:        policy.RiskNone,
	}, nil
}
