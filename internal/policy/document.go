package policy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/shared"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://wissel.local/schemas/rules.schema.json"

//go:embed rules.schema.json
var rulesSchema string

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(rulesSchema)); err != nil {
		return nil, fmt.Errorf("rules schema load failed: %w", err)
	}
	return c.Compile(schemaURL)
})

// ValidateDocument checks the shape of a JSON rule document. Semantic problems such as
// distributions that do not sum to the block size are left to [ValidateAll].
func ValidateDocument(data []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidRules, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidRules, err)
	}
	return nil
}

// ParseRuleDocument decodes a rule set from JSON (validated against the schema) or TOML.
// Format is chosen by the file extension of name; anything other than .toml is treated as JSON.
func ParseRuleDocument(name string, data []byte) (models.RuleSet, error) {
	var rules models.RuleSet

	if strings.HasSuffix(strings.ToLower(name), ".toml") {
		if _, err := toml.Decode(string(data), &rules); err != nil {
			return rules, fmt.Errorf("%w: %v", shared.ErrInvalidRules, err)
		}
	} else {
		if err := ValidateDocument(data); err != nil {
			return rules, err
		}
		if err := json.Unmarshal(data, &rules); err != nil {
			return rules, fmt.Errorf("%w: %v", shared.ErrInvalidRules, err)
		}
	}

	if err := rules.Validate(); err != nil {
		return rules, fmt.Errorf("%w: %v", shared.ErrInvalidRules, err)
	}
	return rules, nil
}
