package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/llm"
	"github.com/veritas-engine/veritas/pkg/models"
)

// classificationSchema constrains the model's JSON reply. Anything that does
// not validate is discarded and the rule-stage result stands.
const classificationSchema = `{
  "type": "object",
  "required": ["intent_class", "confidence"],
  "additionalProperties": false,
  "properties": {
    "intent_class": {
      "type": "string",
      "enum": ["quick_answer", "explanation", "analysis", "research"]
    },
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "domains": {
      "type": "array",
      "items": {"type": "string"},
      "maxItems": 5
    }
  }
}`

var compiledClassificationSchema = mustCompileSchema(classificationSchema)

func mustCompileSchema(raw string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		panic(fmt.Sprintf("classification schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("classification.json", doc); err != nil {
		panic(fmt.Sprintf("classification schema: %v", err))
	}
	schema, err := c.Compile("classification.json")
	if err != nil {
		panic(fmt.Sprintf("classification schema: %v", err))
	}
	return schema
}

const classificationSystemPrompt = `Du klassifizierst Anfragen an ein Rechercheystem für deutsches Verwaltungs-, Bau- und Umweltrecht.
Antworte ausschließlich mit einem JSON-Objekt nach diesem Schema:
{"intent_class": "quick_answer|explanation|analysis|research", "confidence": 0.0-1.0, "domains": ["..."]}
Keine Erklärungen, kein Markdown.`

// llmClassification is the validated fallback verdict.
type llmClassification struct {
	IntentClass models.IntentClass
	Confidence  float64
	Domains     []string
}

// classifyWithLLM asks the model for a structured second opinion. Every
// failure path returns an error so the caller can fall back to the rule
// result; this function never degrades the pipeline.
func classifyWithLLM(ctx context.Context, client llm.Client, model, query string) (*llmClassification, error) {
	out, err := client.Complete(ctx, &llm.GenerateInput{
		Model:           model,
		MaxOutputTokens: 128,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: classificationSystemPrompt},
			{Role: llm.RoleUser, Content: query},
		},
	})
	if err != nil {
		return nil, err
	}

	raw := stripCodeFence(out.Text)
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, errkind.Wrap(errkind.KindDataIntegrity, "classification reply is not JSON", err)
	}
	if err := compiledClassificationSchema.Validate(doc); err != nil {
		return nil, errkind.Wrap(errkind.KindDataIntegrity, "classification reply failed schema validation", err)
	}

	obj := doc.(map[string]any)
	verdict := &llmClassification{
		IntentClass: models.IntentClass(obj["intent_class"].(string)),
	}
	if v, ok := obj["confidence"].(float64); ok {
		verdict.Confidence = v
	}
	if ds, ok := obj["domains"].([]any); ok {
		for _, d := range ds {
			if s, ok := d.(string); ok && s != "" {
				verdict.Domains = append(verdict.Domains, s)
			}
		}
	}
	return verdict, nil
}

// stripCodeFence removes a surrounding markdown fence local models often add
// despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
