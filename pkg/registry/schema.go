// pkg/registry/schema.go
package registry

// TemplateRegistry is the on-disk source of truth for notification templates.
type TemplateRegistry struct {
	Version     string          `json:"version"`
	LastUpdated string          `json:"lastUpdated"`
	Templates   []TemplateEntry `json:"templates"`
}

type TemplateEntry struct {
	Trigger  string  `json:"trigger"`
	Channel  string  `json:"channel"`
	Subject  *string `json:"subject,omitempty"`
	Body     string  `json:"body"`
	Category string  `json:"category"`
	Priority string  `json:"priority,omitempty"`
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`
}

// Schema is the JSON schema every registry file must satisfy.
const Schema = `{
  "type": "object",
  "required": ["version", "templates"],
  "properties": {
    "version": {"type": "string"},
    "lastUpdated": {"type": "string"},
    "templates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["trigger", "channel", "body", "category"],
        "properties": {
          "trigger": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
          "channel": {"type": "string", "enum": ["email", "sms", "push"]},
          "subject": {"type": "string"},
          "body": {"type": "string", "minLength": 1},
          "category": {"type": "string", "minLength": 1},
          "priority": {"type": "string", "enum": ["critical", "high", "medium", "low"]},
          "enabled": {"type": "boolean"}
        },
        "additionalProperties": false
      }
    }
  }
}`
