package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"invoice-hand/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// extractionPrompt zwingt das Modell zu einem strikten JSON-Objekt in snake_case.
const extractionPrompt = `
Extract the following fields from the invoice and return ONLY a strict JSON object in snake_case with this exact top-level structure:
{
    "invoice_date": "",
    "invoice_number": "",
    "customer_name": "",
    "vendor_name": "",
    "total_amount": "",
    "items": [
        {
            "item_description": "",
            "quantity": "",
            "unit_price": "",
            "total_amount": ""
        }
    ]
}

IMPORTANT FORMATTING RULES:
- invoice_date: Must be in YYYY-MM-DD format (e.g., "2025-01-15"). Convert any date format to this standard.
- invoice_number: Extract as-is from the invoice
- customer_name: The company/person being billed (Bill To)
- vendor_name: The company issuing the invoice (From)
- total_amount: Final total amount as string number (e.g., "1234.56")
- items: Array of all line items with descriptions, quantities, unit prices, and amounts

Do not include any markdown, code blocks, explanations, or additional keys. Return only the JSON object.
`

// Extractor kapselt den Aufruf der OpenAI Chat-Completions-API mit Bild-Eingabe.
type Extractor struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewExtractor erstellt einen neuen OpenAI-Extractor.
func NewExtractor(cfg *config.Config, logger *zap.Logger) *Extractor {
	return &Extractor{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Extraktors zurück.
func (e *Extractor) Name() string {
	return "openai"
}

// ExtractInvoice schickt das Bild als Data-URL an die Chat-Completions-API und
// gibt den Antwort-Text der ersten Choice zurück.
func (e *Extractor) ExtractInvoice(ctx context.Context, image []byte) (string, error) {
	rid := uuid.New().String()
	start := time.Now()
	log := e.Logger.With(zap.String("req_id", rid), zap.String("model", e.Config.OpenAIModel))

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
	body := map[string]any{
		"model":       e.Config.OpenAIModel,
		"max_tokens":  e.Config.OpenAIMaxTokens,
		"temperature": e.Config.OpenAITemp,
		"messages": []map[string]any{
			{"role": "system", "content": extractionPrompt},
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": "Extract invoice data as JSON."},
					{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
				},
			},
		},
	}

	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(e.Config.OpenAIBaseURL, "/") + "/chat/completions"
	log.Debug("Rufe OpenAI Chat-Completions-API auf.", zap.Int("image_bytes", len(image)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+e.Config.OpenAIAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai status %d: %s", resp.StatusCode, string(raw))
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}

	log.Info("Extraktion abgeschlossen",
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
		zap.Int("content_len", len(cc.Choices[0].Message.Content)))
	return cc.Choices[0].Message.Content, nil
}
