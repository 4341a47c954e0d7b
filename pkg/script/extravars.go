package script

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseExtraVars merges -e/--extra-vars values into a single map.
// Each value is one of:
//
//	@path            a YAML or JSON file of variables
//	{"k": "v"}       an inline JSON or YAML mapping
//	k1=v1 k2=v2      whitespace separated key=value pairs
//
// Later values override earlier ones.
func ParseExtraVars(values []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{})

	for _, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}

		var parsed map[string]interface{}
		var err error
		switch {
		case strings.HasPrefix(value, "@"):
			parsed, err = parseVarsFile(strings.TrimPrefix(value, "@"))
		case strings.HasPrefix(value, "{"):
			parsed, err = parseVarsDocument([]byte(value))
		default:
			parsed, err = parseKeyValues(value)
		}
		if err != nil {
			return nil, err
		}

		for k, v := range parsed {
			vars[k] = v
		}
	}

	return vars, nil
}

func parseVarsFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read extra vars file: %w", err)
	}
	vars, err := parseVarsDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vars, nil
}

func parseVarsDocument(data []byte) (map[string]interface{}, error) {
	var vars map[string]interface{}
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("failed to parse extra vars: %w", err)
	}
	if vars == nil {
		vars = map[string]interface{}{}
	}
	return vars, nil
}

func parseKeyValues(value string) (map[string]interface{}, error) {
	vars := make(map[string]interface{})
	for _, pair := range strings.Fields(value) {
		key, val, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid extra var %q: expected key=value", pair)
		}
		vars[key] = val
	}
	return vars, nil
}
