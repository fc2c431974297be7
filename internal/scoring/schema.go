package scoring

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const multipleChoiceKeyJSON = `{
  "type": "object",
  "required": ["correct"],
  "properties": {
    "correct": {"type": "string", "minLength": 1}
  }
}`

const checkboxKeyJSON = `{
  "type": "object",
  "required": ["correct"],
  "properties": {
    "correct": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1}
    }
  }
}`

type keySchema struct {
	schema *jsonschema.Schema
}

var (
	multipleChoiceKeySchema = keySchema{schema: jsonschema.MustCompileString("https://grading.local/schemas/multiple_choice_key.json", multipleChoiceKeyJSON)}
	checkboxKeySchema       = keySchema{schema: jsonschema.MustCompileString("https://grading.local/schemas/checkbox_key.json", checkboxKeyJSON)}
)

func (k keySchema) validate(raw []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var document interface{}
	if err := decoder.Decode(&document); err != nil {
		return err
	}
	return k.schema.Validate(document)
}
