package plugin

import "github.com/xeipuuv/gojsonschema"

// manifestSchemaJSON is the structural cross-check run against a decoded
// manifest document, catching the type/range errors yaml.v3's strict
// decode doesn't (KnownFields only rejects unrecognized keys, it
// doesn't constrain value shape).
const manifestSchemaJSON = `{
  "type": "object",
  "required": ["name", "version", "execution_mode", "framework_version", "entry_point"],
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z][a-z0-9_-]*$"},
    "version": {"type": "string"},
    "execution_mode": {"type": "string", "enum": ["trusted", "sandboxed", "legacy"]},
    "framework_version": {"type": "string"},
    "entry_point": {"type": "string"},
    "requires": {"type": "array", "items": {"type": "string"}},
    "permissions": {"type": "array", "items": {"type": "string"}},
    "resources": {
      "type": "object",
      "properties": {
        "timeout_seconds": {"type": "integer", "minimum": 0},
        "max_memory_mb": {"type": "integer", "minimum": 0},
        "max_disk_mb": {"type": "integer", "minimum": 0},
        "rate_limit": {
          "type": "object",
          "properties": {
            "calls": {"type": "integer", "minimum": 0},
            "period_seconds": {"type": "integer", "minimum": 0}
          }
        }
      }
    },
    "filesystem": {
      "type": "object",
      "properties": {
        "allowed_paths": {"type": "array", "items": {"type": "string"}},
        "denied_paths": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

var manifestSchema = gojsonschema.NewStringLoader(manifestSchemaJSON)

// validateSchema cross-checks a manifest document (as decoded JSON, so
// the JSON Schema library's type model applies) against manifestSchema.
func validateSchema(doc any) ([]string, error) {
	docLoader := gojsonschema.NewGoLoader(doc)
	result, err := gojsonschema.Validate(manifestSchema, docLoader)
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return msgs, nil
}
