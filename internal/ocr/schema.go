package ocr

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const submitResponseSchema = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": {"type": "string", "minLength": 1}
  }
}`

// A COMPLETED status must carry output.transcript; other statuses may omit output.
const statusResponseSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"enum": ["InProgress", "IN_QUEUE", "IN_PROGRESS", "COMPLETED", "FAILED", "CANCELLED", "TIME_OUT"]},
    "output": {
      "type": ["object", "null"],
      "properties": {
        "transcript": {"type": "string"}
      }
    }
  },
  "if": {"properties": {"status": {"const": "COMPLETED"}}},
  "then": {
    "required": ["output"],
    "properties": {
      "output": {"type": "object", "required": ["transcript"]}
    }
  }
}`

var (
	submitSchema = jsonschema.MustCompileString("ocr-submit.json", submitResponseSchema)
	statusSchema = jsonschema.MustCompileString("ocr-status.json", statusResponseSchema)
)

// decodeValidated checks raw against schema and then decodes it into out.
func decodeValidated(schema *jsonschema.Schema, raw []byte, out any) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", ErrMalformedResponse, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: json does not match schema: %v", ErrMalformedResponse, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrMalformedResponse, err)
	}
	return nil
}
