// Package reasoning turns a violent detection set plus location context
// into a structured verdict from an external language-model service.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sentinel-edge-go/internal/models"
)

// Analyzer produces a verdict for a detection summary. Implementations
// report failures inside the verdict and never return an error.
type Analyzer interface {
	Analyze(ctx context.Context, summary Summary, location models.GeospatialSnapshot) models.Verdict
}

const maxResponseBytes = 1 << 20

const promptTemplate = `Analyze the following violent incident detected by drone surveillance:

Location Context:
- Latitude: %.6f
- Longitude: %.6f
- Terrain Type: %s
- Land Use: %s

Detection Information:
%s

Based on the above information, provide a detailed analysis of the situation.
Consider the number of people involved, types of violence observed, presence of weapons,
and how the terrain/location might affect the situation or response needed.

Respond with a single JSON object with these fields:
num_people (integer), violence_type (string), weapons_present (boolean),
weapon_types (list of strings), risk_level ("low", "medium" or "high"),
terrain_context (string), recommended_actions (list of strings).`

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Client calls an Ollama-compatible /api/generate endpoint
type Client struct {
	url        string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(url, model string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		url:        url,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// BuildPrompt renders the request prompt for summary at location
func BuildPrompt(summary Summary, location models.GeospatialSnapshot) string {
	terrain := string(location.TerrainType)
	if terrain == "" {
		terrain = "unknown"
	}
	landUse := location.LandUse
	if landUse == "" {
		landUse = models.UnknownLandUse
	}
	return fmt.Sprintf(promptTemplate, location.Latitude, location.Longitude, terrain, landUse, summary.Text())
}

// Analyze asks the service for a verdict. Any transport, status or decoding
// failure yields models.UnknownVerdict.
func (c *Client) Analyze(ctx context.Context, summary Summary, location models.GeospatialSnapshot) models.Verdict {
	verdict, err := c.analyze(ctx, summary, location)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", c.url).Msg("Reasoning service failed, using unknown verdict")
		return models.UnknownVerdict(err.Error())
	}
	return verdict
}

func (c *Client) analyze(ctx context.Context, summary Summary, location models.GeospatialSnapshot) (models.Verdict, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: BuildPrompt(summary, location),
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return models.Verdict{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return models.Verdict{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.Verdict{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Verdict{}, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var gen generateResponse
	if err := json.Unmarshal(raw, &gen); err != nil {
		return models.Verdict{}, fmt.Errorf("decode response: %w", err)
	}
	if gen.Error != "" {
		return models.Verdict{}, fmt.Errorf("service error: %s", gen.Error)
	}

	verdict, err := ParseVerdict(gen.Response)
	if err != nil {
		return models.Verdict{}, err
	}

	c.logger.Debug().
		Dur("latency", time.Since(start)).
		Str("risk_level", string(verdict.RiskLevel)).
		Msg("Reasoning verdict received")
	return verdict, nil
}

// ParseVerdict decodes and validates the JSON verdict produced by the model
func ParseVerdict(text string) (models.Verdict, error) {
	text = strings.TrimSpace(text)
	// Models sometimes wrap the object in prose or code fences
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var v models.Verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return models.Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}

	v.RiskLevel = models.RiskLevel(strings.ToLower(strings.TrimSpace(string(v.RiskLevel))))
	if !v.RiskLevel.IsValid() {
		return models.Verdict{}, fmt.Errorf("invalid risk level %q", v.RiskLevel)
	}
	if v.NumPeople < 0 {
		return models.Verdict{}, fmt.Errorf("invalid people count %d", v.NumPeople)
	}
	if v.WeaponTypes == nil {
		v.WeaponTypes = []string{}
	}
	if v.RecommendedActions == nil {
		v.RecommendedActions = []string{}
	}
	v.Error = ""
	return v, nil
}
