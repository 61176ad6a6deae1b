// Package masking turns raw events into masked records by calling an
// external classify-and-redact service per a declarative field policy.
package masking

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Method is a masking method applied to a single field.
type Method string

const (
	// MethodRedact replaces the whole value.
	MethodRedact Method = "redact"

	// MethodPartialMask masks characters but keeps the value's shape.
	MethodPartialMask Method = "partial_mask"

	// MethodTokenize replaces the value with a stable pseudonym.
	MethodTokenize Method = "tokenize"
)

// knownMethods is the closed set of methods the redaction service accepts.
var knownMethods = map[Method]bool{
	MethodRedact:      true,
	MethodPartialMask: true,
	MethodTokenize:    true,
}

// Policy maps payload field names to masking methods. The same policy
// instance is shared verbatim between the streaming path and the backfill
// processor so the two can never drift.
type Policy struct {
	Fields map[string]Method `yaml:"fields"`
}

// LoadPolicy reads a policy file from disk and validates it.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

// Validate checks that every configured method is known.
func (p *Policy) Validate() error {
	if len(p.Fields) == 0 {
		return fmt.Errorf("policy has no fields")
	}
	for field, method := range p.Fields {
		if !knownMethods[method] {
			return fmt.Errorf("field %q: %w: %q", field, ErrUnknownMethod, method)
		}
	}
	return nil
}

// FieldNames returns the configured field names in deterministic order.
func (p *Policy) FieldNames() []string {
	names := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
