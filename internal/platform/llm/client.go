// Package llm adapts the external LLM used to adjudicate among retrieval
// candidates. The model returns free-form text; the first balanced JSON
// object in the response is extracted and parsed against a fixed shape.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// ErrUnconfigured is returned when no LLM API URL was provided. The pipeline
// treats it as an adjudicator failure and falls back to the top candidate.
var ErrUnconfigured = fmt.Errorf("llm client not configured")

// SourceInput is the source-code side of an adjudication request.
type SourceInput struct {
	Code        string
	System      string
	Term        string
	Description string
}

// CandidateInput is one retrieval candidate presented to the model.
type CandidateInput struct {
	Code       string
	Title      string
	Definition string
}

// Judgment is the parsed adjudication verdict. SelectedCode is nil when the
// model judged no candidate acceptable.
type Judgment struct {
	SelectedCode *string `json:"selected_code"`
	Confidence   float64 `json:"confidence"`
	Equivalence  string  `json:"equivalence"`
	Reasoning    string  `json:"reasoning"`
}

// Client calls the LLM over HTTP.
type Client struct {
	http      *resty.Client
	model     string
	maxTokens int
	logger    zerolog.Logger
}

func NewClient(baseURL, apiKey, model string, maxTokens int, timeout time.Duration, logger zerolog.Logger) *Client {
	var rc *resty.Client
	if baseURL != "" {
		rc = resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetQueryParam("key", apiKey)
	}
	return &Client{http: rc, model: model, maxTokens: maxTokens, logger: logger}
}

type generatePart struct {
	Text string `json:"text"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
	Role  string         `json:"role,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
}

type generateRequest struct {
	Contents         []generateContent `json:"contents"`
	GenerationConfig generationConfig  `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
}

const promptTemplate = `You are a medical terminology expert mapping traditional medicine diagnoses to ICD-11 Traditional Medicine Module 2.

Source concept:
  code: %s
  system: %s
  term: %s
  description: %s

Candidate ICD-11 TM2 codes:
%s
Select the best matching candidate, or none if no candidate fits.
Respond with a single JSON object:
{"selected_code": "<candidate code or null>", "confidence": <0..1>, "equivalence": "EQUIVALENT|WIDER|NARROWER|INEXACT|UNMATCHED", "reasoning": "<one sentence>"}`

func buildPrompt(src SourceInput, candidates []CandidateInput) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "  %d. %s — %s", i+1, c.Code, c.Title)
		if c.Definition != "" {
			fmt.Fprintf(&b, ": %s", c.Definition)
		}
		b.WriteByte('\n')
	}
	return fmt.Sprintf(promptTemplate, src.Code, src.System, src.Term, src.Description, b.String())
}

// Adjudicate asks the model to pick among candidates. The returned judgment
// is syntactically valid but not yet checked against the candidate set; the
// pipeline enforces that.
func (c *Client) Adjudicate(ctx context.Context, src SourceInput, candidates []CandidateInput) (*Judgment, error) {
	if c.http == nil {
		return nil, ErrUnconfigured
	}

	var out generateResponse
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(generateRequest{
			Contents: []generateContent{
				{Role: "user", Parts: []generatePart{{Text: buildPrompt(src, candidates)}}},
			},
			GenerationConfig: generationConfig{MaxOutputTokens: c.maxTokens, Temperature: 0.1},
		}).
		SetResult(&out).
		Post(fmt.Sprintf("/models/%s:generateContent", c.model))
	if err != nil {
		return nil, fmt.Errorf("adjudication request: %w", err)
	}
	c.logger.Debug().
		Int("status", resp.StatusCode()).
		Dur("latency", time.Since(start)).
		Int("candidates", len(candidates)).
		Msg("llm adjudication call")

	if resp.IsError() {
		return nil, fmt.Errorf("adjudication request: status %d", resp.StatusCode())
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("adjudication response: no content")
	}

	return ParseJudgment(out.Candidates[0].Content.Parts[0].Text)
}

// ParseJudgment extracts the first balanced JSON object from free-form model
// output and parses it.
func ParseJudgment(text string) (*Judgment, error) {
	obj, ok := extractJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("adjudication response: no JSON object found")
	}

	var j Judgment
	if err := json.Unmarshal([]byte(obj), &j); err != nil {
		return nil, fmt.Errorf("adjudication response: %w", err)
	}

	j.Equivalence = strings.ToUpper(strings.TrimSpace(j.Equivalence))
	if j.SelectedCode != nil {
		code := strings.TrimSpace(*j.SelectedCode)
		if code == "" || strings.EqualFold(code, "null") {
			j.SelectedCode = nil
		} else {
			j.SelectedCode = &code
		}
	}
	if j.Confidence < 0 {
		j.Confidence = 0
	}
	if j.Confidence > 1 {
		j.Confidence = 1
	}
	return &j, nil
}

// extractJSONObject scans for the first balanced {...} in s, respecting
// string literals and escapes.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
