// Package skills is the Skill Execution Fabric (§4.5): YAML-declared
// skills loaded from app.yml manifests, invoked through a request-array
// contract with per-request cancellation and a billing hook. Grounded on
// rakunlabs's service/schema.go for schema sanitization and the teacher's
// directory-scan-at-boot pattern.
package skills

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/openmates/core/internal/provider"
)

// Pricing describes how one skill's usage is billed; the exact currency
// unit (credits) lives in internal/billing.
type Pricing struct {
	CreditsPerCall  float64 `yaml:"credits_per_call"`
	CreditsPerToken float64 `yaml:"credits_per_token"`
}

// ToolSchema is the JSON-schema-shaped parameter declaration surfaced to
// the model; ID is auto-injected by the fabric, never authored in YAML.
type ToolSchema struct {
	Type       string                 `yaml:"type"`
	Properties map[string]interface{} `yaml:"properties"`
	Required   []string               `yaml:"required"`
}

// Manifest is one app.yml: an app groups one or more skills under one
// app_id; each skill carries its own class_path, stage and pricing.
type Manifest struct {
	AppID string `yaml:"app_id"`
	Skills []SkillDef `yaml:"skills"`
}

// SkillDef is a single skill declared inside an app.yml.
type SkillDef struct {
	SkillID    string   `yaml:"skill_id"`
	ClassPath  string   `yaml:"class_path"`
	Stage      string   `yaml:"stage"` // e.g. "beta", "stable"
	ToolSchema ToolSchema `yaml:"tool_schema"`
	Pricing    Pricing  `yaml:"pricing"`
}

// LoadManifests walks dir for app.yml files and parses each into a
// Manifest; a malformed manifest is skipped with a logged warning rather
// than aborting the whole directory scan.
func LoadManifests(dir string) ([]Manifest, error) {
	var out []Manifest
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Base(path) != "app.yml" {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Printf("reading %s: %v", path, err)
			return nil
		}
		var m Manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			logger.Printf("parsing %s: %v", path, err)
			return nil
		}
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning skills dir: %w", err)
	}
	return out, nil
}

// injectRequestID guarantees every "requests: [...]" array-of-objects item
// carries an "id" field, whether or not the manifest author declared one —
// the fabric correlates results back to requests by this field (§4.5
// "Tool-schema auto-injection"), so it must live on requests[].items, not
// the schema root, and accept either a string or integer caller-assigned
// identifier.
func injectRequestID(schema ToolSchema) ToolSchema {
	requestsProp, ok := schema.Properties["requests"].(map[string]interface{})
	if !ok || requestsProp["type"] != "array" {
		return schema
	}
	items, ok := requestsProp["items"].(map[string]interface{})
	if !ok {
		return schema
	}
	itemProps, ok := items["properties"].(map[string]interface{})
	if !ok {
		itemProps = map[string]interface{}{}
		items["properties"] = itemProps
	}
	if _, exists := itemProps["id"]; exists {
		return schema
	}
	itemProps["id"] = map[string]interface{}{
		"type":        []string{"string", "integer"},
		"description": "caller-assigned identifier for this request, echoed back in the result",
	}
	return schema
}

// ToProviderTools converts every skill across all loaded manifests into the
// provider-facing tool schema the Provider Streaming Adapter sends upstream
// (§4.4), auto-injecting requests[].items.id along the way.
func ToProviderTools(manifests []Manifest) []provider.ToolSchema {
	var out []provider.ToolSchema
	for _, m := range manifests {
		for _, sk := range m.Skills {
			schema := injectRequestID(sk.ToolSchema)
			out = append(out, provider.ToolSchema{
				Name:        sk.SkillID,
				Description: fmt.Sprintf("%s.%s", m.AppID, sk.SkillID),
				Parameters: map[string]interface{}{
					"type":       schema.Type,
					"properties": schema.Properties,
					"required":   schema.Required,
				},
			})
		}
	}
	return out
}
