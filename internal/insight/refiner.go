package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"card-reward-advisor/internal/models"
)

// PromptTemplate frames the recommendation context for the language model.
const PromptTemplate = `You are a rewards optimization assistant. Summarize recommendations in bullet points with clear ordered card usage, caveats, and action items.
Context: %s`

// RefineContext is the payload handed to the refiner for summarization.
type RefineContext struct {
	Merchant        string                  `json:"merchant"`
	Amount          float64                 `json:"amount"`
	Channel         string                  `json:"channel"`
	Split           bool                    `json:"split"`
	Recommendations []models.Recommendation `json:"recommendations"`
	CommunityItems  []models.InsightItem    `json:"community_insights"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Refiner turns ranked recommendations into a short natural-language
// summary. It asks a local Ollama endpoint when one is configured and falls
// back to a deterministic local summary otherwise, so the output is always
// populated.
type Refiner struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

// NewRefiner creates a refiner. An empty endpoint disables the LLM path
// entirely and every call uses the local fallback.
func NewRefiner(endpoint, model string, timeout time.Duration) *Refiner {
	return &Refiner{
		endpoint:   endpoint,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Refine produces the summary text for the given context.
func (r *Refiner) Refine(ctx context.Context, rc RefineContext) string {
	if r.endpoint != "" {
		if answer := r.generate(ctx, rc); answer != "" {
			return answer
		}
	}
	return r.fallback(rc)
}

func (r *Refiner) generate(ctx context.Context, rc RefineContext) string {
	contextJSON, err := json.Marshal(rc)
	if err != nil {
		return ""
	}

	body, err := json.Marshal(generateRequest{
		Model:  r.model,
		Prompt: fmt.Sprintf(PromptTemplate, contextJSON),
		Stream: false,
	})
	if err != nil {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var payload generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Response)
}

// fallback builds a deterministic local summary from the top recommendations.
func (r *Refiner) fallback(rc RefineContext) string {
	var lines []string
	for i, rec := range rc.Recommendations {
		if i >= 3 {
			break
		}
		lines = append(lines, fmt.Sprintf(
			"%d. Use %s first (~%.2f savings, reason: %s).",
			i+1, rec.CardID, rec.Savings, rec.Reason,
		))
	}
	lines = append(lines,
		"",
		"No language model configured or reachable, so this is a local deterministic summary.",
	)
	return strings.Join(lines, "\n")
}
