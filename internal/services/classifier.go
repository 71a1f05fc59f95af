package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"drink-check-bot/internal/models"

	"google.golang.org/genai"
)

const classifierPrompt = `Analyze this photo for a water drinking reminder verification.
Expected gesture: %q

Respond in JSON ONLY:
{
  "hasBottle": boolean,
  "hasFace": boolean,
  "isDrinking": boolean,
  "gestureMatch": boolean,
  "isRealPhoto": boolean,
  "isSafe": boolean,
  "confidence": 0-100,
  "reason": "brief explanation"
}`

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// GeminiClassifier asks a Gemini model to check the photo
type GeminiClassifier struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClassifier creates a Gemini API client
func NewGeminiClassifier(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClassifier{client: client, model: model, timeout: timeout}, nil
}

// Classify sends the photo and prompt; the call is bounded by the configured timeout
func (c *GeminiClassifier) Classify(ctx context.Context, data []byte, expectedGesture string) (*models.ValidationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(fmt.Sprintf(classifierPrompt, expectedGesture)),
			genai.NewPartFromBytes(data, photoMimeType),
		}, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to classify photo: %w", err)
	}
	return ParseValidationResult(resp.Text())
}

// ParseValidationResult extracts the first JSON object from a model reply
func ParseValidationResult(text string) (*models.ValidationResult, error) {
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return nil, errors.New("classifier reply contains no JSON object")
	}

	var result models.ValidationResult
	if err := json.Unmarshal([]byte(match), &result); err != nil {
		return nil, fmt.Errorf("failed to decode classifier reply: %w", err)
	}
	result.Error = ""
	return &result, nil
}
