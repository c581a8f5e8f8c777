package services

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildInvoiceJSONSchema liefert das Schema für das normalisierte
// Extraktions-Ergebnis als generische Map. Alle Beträge sind bewusst Strings,
// der Extraktor liefert sie so und die DB speichert sie so.
func BuildInvoiceJSONSchema() map[string]any {
	itemProps := map[string]any{
		"item_description": map[string]any{"type": "string"},
		"quantity":         map[string]any{"type": "string"},
		"unit_price":       map[string]any{"type": "string"},
		"total_amount":     map[string]any{"type": "string"},
	}
	props := map[string]any{
		"invoice_number": map[string]any{"type": "string", "minLength": 1},
		"invoice_date":   map[string]any{"type": "string"},
		"customer_name":  map[string]any{"type": "string"},
		"vendor_name":    map[string]any{"type": "string"},
		"total_amount":   map[string]any{"type": "string"},
		"items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":       "object",
				"properties": itemProps,
				"required":   []string{"item_description", "quantity", "unit_price", "total_amount"},
			},
		},
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   []string{"invoice_number", "invoice_date", "customer_name", "vendor_name", "total_amount", "items"},
	}
}

// ValidateAgainstSchema validiert data gegen schemaMap.
func ValidateAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
