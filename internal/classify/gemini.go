package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"masarif/internal/core"
	"masarif/internal/log"
)

// GeminiClassifier labels transactions with a Gemini model. Model failures
// are returned to the caller, who decides whether to apply the fallback.
type GeminiClassifier struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *log.Logger
}

func NewGeminiClassifier(ctx context.Context, model string, timeout time.Duration, logger *log.Logger) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClassifier{
		client:  client,
		model:   model,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (g *GeminiClassifier) Classify(ctx context.Context, description string, amount core.Money, currency string) (core.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildPrompt(description, amount, currency)},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return core.Classification{}, fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return core.Classification{}, fmt.Errorf("empty response from model")
	}

	cls, err := parseClassification(raw)
	if err != nil {
		g.logger.Warn("Discarding unparseable model response", "error", err)
		return core.Classification{}, err
	}
	return cls, nil
}

func buildPrompt(description string, amount core.Money, currency string) string {
	var b strings.Builder
	b.WriteString("Categorize this transaction and extract merchant information.\n\n")
	fmt.Fprintf(&b, "Description: %s\n", description)
	fmt.Fprintf(&b, "Amount: %.2f %s\n\n", amount.Abs().Units(), currency)
	b.WriteString("Pick exactly one category from this list:\n")
	for _, c := range core.Categories {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString("\nAlso extract the merchant name (if identifiable) and the transaction type (purchase, withdrawal, transfer, etc.).\n")
	b.WriteString("Respond with a single JSON object and nothing else. Do NOT use ```json or any Markdown.\n")
	b.WriteString(`{"category": "category_name", "merchant": "merchant_name", "transaction_type": "type", "confidence": 0.95}`)
	b.WriteString("\n")
	return b.String()
}

// parseClassification decodes the model's JSON, stripping Markdown fences
// the model sometimes adds despite instructions. The category is normalized
// against the closed list and the confidence clamped to [0, 1].
func parseClassification(raw string) (core.Classification, error) {
	clean := cleanModelJSON(raw)

	var payload struct {
		Category        string  `json:"category"`
		Merchant        string  `json:"merchant"`
		TransactionType string  `json:"transaction_type"`
		Confidence      float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		return core.Classification{}, fmt.Errorf("unmarshal model response: %w", err)
	}

	cls := core.Classification{
		Category:        core.NormalizeCategory(payload.Category),
		Merchant:        strings.TrimSpace(payload.Merchant),
		TransactionType: strings.TrimSpace(payload.TransactionType),
		Confidence:      payload.Confidence,
	}
	if cls.Merchant == "" {
		cls.Merchant = core.MerchantUnknown
	}
	if cls.TransactionType == "" {
		cls.TransactionType = "unknown"
	}
	if cls.Confidence < 0 {
		cls.Confidence = 0
	}
	if cls.Confidence > 1 {
		cls.Confidence = 1
	}
	return cls, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// If the model wrapped the object in prose, keep only the outermost braces.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
