package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/gemini"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

// transactionsSchema is the contract for model output. The same shape is
// sent to Gemini as ResponseSchema.
const transactionsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["date", "description", "amount"],
    "properties": {
      "date": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
      "description": {"type": "string", "minLength": 1},
      "amount": {"type": "number"},
      "classification": {"enum": ["income", "expense", "", null]},
      "reference": {"type": ["string", "null"]}
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("transactions.json", strings.NewReader(transactionsSchema)); err != nil {
		panic(fmt.Sprintf("extraction: add schema: %v", err))
	}
	schema, err := compiler.Compile("transactions.json")
	if err != nil {
		panic(fmt.Sprintf("extraction: compile schema: %v", err))
	}
	return schema
}

// responseSchema mirrors transactionsSchema in Gemini's schema dialect.
func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"date":        {Type: genai.TypeString, Description: "Transaction date, YYYY-MM-DD"},
				"description": {Type: genai.TypeString, Description: "Description exactly as printed"},
				"amount":      {Type: genai.TypeNumber, Description: "Signed amount: positive for money in, negative for money out"},
				"classification": {
					Type:        genai.TypeString,
					Enum:        []string{"income", "expense"},
					Description: "income for money in, expense for money out",
				},
				"reference": {Type: genai.TypeString, Description: "Transaction reference printed on the statement, if any"},
			},
			Required: []string{"date", "description", "amount"},
		},
	}
}

type modelTransaction struct {
	Date           string          `json:"date"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	Classification *string         `json:"classification"`
	Reference      *string         `json:"reference"`
}

// ParseModelOutput cleans, schema-validates and decodes a model answer.
// Either an array or an object with a "transactions" array is accepted.
func ParseModelOutput(raw string) ([]domain.CandidateTransaction, error) {
	clean := []byte(gemini.CleanJSON(raw))

	var peek map[string]json.RawMessage
	if bytes.HasPrefix(clean, []byte("{")) {
		if err := json.Unmarshal(clean, &peek); err != nil {
			return nil, fmt.Errorf("ParseModelOutput: unmarshal object: %w", err)
		}
		inner, ok := peek["transactions"]
		if !ok {
			return nil, fmt.Errorf("ParseModelOutput: object without transactions field")
		}
		clean = inner
	}

	dec := json.NewDecoder(bytes.NewReader(clean))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("ParseModelOutput: unmarshal JSON: %w", err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("ParseModelOutput: json does not match schema: %w", err)
	}

	var rows []modelTransaction
	if err := json.Unmarshal(clean, &rows); err != nil {
		return nil, fmt.Errorf("ParseModelOutput: decode rows: %w", err)
	}

	out := make([]domain.CandidateTransaction, 0, len(rows))
	for i, r := range rows {
		d, err := civil.ParseDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("ParseModelOutput: row %d date %q: %w", i, r.Date, err)
		}
		c := domain.CandidateTransaction{
			Date:        d,
			Description: strings.TrimSpace(r.Description),
			Amount:      r.Amount,
		}
		if r.Classification != nil {
			c.Classification = domain.Classification(*r.Classification)
		}
		if r.Reference != nil {
			c.Reference = strings.TrimSpace(*r.Reference)
		}
		out = append(out, c)
	}
	return out, nil
}
