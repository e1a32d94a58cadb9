// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"notification-pipeline/internal/common/validation"
	"notification-pipeline/internal/models"
)

var registrySchema = validation.MustCompile(Schema)

// LoadRegistry reads a registry file and checks it against Schema.
func LoadRegistry(path string) (*TemplateRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*TemplateRegistry, error) {
	res, err := registrySchema.ValidateBytes(data)
	if err != nil {
		return nil, fmt.Errorf("registry is not valid JSON: %w", err)
	}
	if !res.Valid {
		return nil, fmt.Errorf("registry does not match schema: %s", strings.Join(res.GetErrorMessages(), "; "))
	}

	var reg TemplateRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Validate checks the rules the schema cannot express.
func Validate(reg *TemplateRegistry) error {
	if len(reg.Templates) == 0 {
		return fmt.Errorf("registry contains no templates")
	}

	seen := make(map[string]bool, len(reg.Templates))
	for _, t := range reg.Templates {
		key := t.Trigger + "/" + t.Channel
		if seen[key] {
			return fmt.Errorf("duplicate template: %s", key)
		}
		seen[key] = true

		if t.Channel == string(models.ChannelEmail) && (t.Subject == nil || *t.Subject == "") {
			return fmt.Errorf("template %s: email templates need a subject", key)
		}
	}
	return nil
}

// ToTemplate converts an entry to the stored form, applying defaults.
func (e TemplateEntry) ToTemplate() *models.Template {
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	priority := models.Priority(e.Priority)
	if priority == "" {
		priority = models.PriorityMedium
	}
	return &models.Template{
		Trigger:  e.Trigger,
		Channel:  models.Channel(e.Channel),
		Subject:  e.Subject,
		Body:     e.Body,
		Category: e.Category,
		Priority: priority,
		Enabled:  enabled,
	}
}

// Save writes the registry as indented JSON, stamping LastUpdated.
func Save(reg *TemplateRegistry, path string) error {
	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}
