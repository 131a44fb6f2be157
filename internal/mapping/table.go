// Package mapping loads the field-mapping document that translates report
// columns into output event fields.
//
// The document is a JSON object of the form:
//
//	{"map": {"scan_stun.ip": "source.ip", "severity": "event.severity", ...}}
//
// Keys are either "<type>.<field>" for a type-specific mapping or a bare
// "<field>" shared across all report types. Values are either a literal
// target field name or a directive of the form "&name(arg,...)" or "&name"
// naming a conversion function.
package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// RuleKind discriminates mapping rule variants.
type RuleKind int

const (
	// RuleLiteral assigns the value under a target field name.
	RuleLiteral RuleKind = iota
	// RuleDirective invokes a named conversion function.
	RuleDirective
)

// Rule is one parsed mapping entry.
type Rule struct {
	Kind   RuleKind
	Target string   // literal target field name
	Func   string   // directive function name
	Args   []string // directive arguments
}

// Known reports whether name is a registered directive function. A
// directive with an unknown name parses fine but produces no output.
func Known(name string) bool {
	switch name {
	case "timestamp", "tags", "labels":
		return true
	}
	return false
}

// document is the on-disk mapping shape.
type document struct {
	Map map[string]string `json:"map"`
}

// Table is the loaded mapping table. Read-only for the duration of a run.
type Table struct {
	rules map[string]Rule
	types map[string]struct{}
}

// Parse parses a mapping document. Each value is parsed once into its Rule
// variant; directives with unregistered names are kept and logged by nobody,
// they simply drop their field at transform time.
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing mapping document: %w", err)
	}
	if doc.Map == nil {
		return nil, fmt.Errorf("mapping document has no \"map\" object")
	}

	t := &Table{
		rules: make(map[string]Rule, len(doc.Map)),
		types: make(map[string]struct{}),
	}
	for key, value := range doc.Map {
		t.rules[key] = parseRule(value)
		if typ, _, ok := strings.Cut(key, "."); ok {
			t.types[typ] = struct{}{}
		}
	}
	return t, nil
}

// Load reads and parses the mapping document at path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mapping document: %w", err)
	}
	return Parse(data)
}

// Resolve looks up the rule for a field in resolution order: the exact
// "type.field" entry wins over a bare "field" entry.
func (t *Table) Resolve(reportType, field string) (Rule, bool) {
	if r, ok := t.rules[reportType+"."+field]; ok {
		return r, true
	}
	if r, ok := t.rules[field]; ok {
		return r, true
	}
	return Rule{}, false
}

// HasType reports whether any type-specific entry exists for reportType.
// Reports of types without an entry are skipped entirely rather than
// emitted with an improvised schema.
func (t *Table) HasType(reportType string) bool {
	_, ok := t.types[reportType]
	return ok
}

// Len returns the number of mapping entries.
func (t *Table) Len() int {
	return len(t.rules)
}

// parseRule turns a mapping value into its variant. Directive syntax is
// "&name(a,b)" or "&name"; anything else is a literal target name.
func parseRule(value string) Rule {
	if !strings.HasPrefix(value, "&") {
		return Rule{Kind: RuleLiteral, Target: value}
	}

	body := value[1:]
	if open := strings.IndexByte(body, '('); open > 0 {
		close := strings.IndexByte(body[open:], ')')
		if close > 1 {
			name := body[:open]
			args := strings.Split(body[open+1:open+close], ",")
			for i := range args {
				args[i] = strings.TrimSpace(args[i])
			}
			return Rule{Kind: RuleDirective, Func: name, Args: args}
		}
	}
	// "&name" without arguments, or malformed parentheses: the function
	// name is everything up to the first "(".
	name := body
	if open := strings.IndexByte(body, '('); open >= 0 {
		name = body[:open]
	}
	if name == "" {
		// a lone "&" is not a directive
		return Rule{Kind: RuleLiteral, Target: value}
	}
	return Rule{Kind: RuleDirective, Func: name}
}
