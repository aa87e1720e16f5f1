package correction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"schema-proxy/config"
	"schema-proxy/internal"
	"schema-proxy/types"
)

// getRequestID retrieves the request ID from context using internal package
func getRequestID(ctx context.Context) string {
	return internal.GetRequestID(ctx)
}

// chatRequest is the OpenAI-compatible completion request the correction
// provider speaks
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Service is the HTTP adapter implementing Client against an
// OpenAI-compatible correction provider. Stateless apart from endpoint
// health, which lives in the config layer.
type Service struct {
	cfg        *config.Config
	httpClient *http.Client
}

// NewService creates a new correction service. The http.Client carries no
// timeout of its own: the per-attempt deadline comes from the caller's
// context so the pipeline controls backpressure.
func NewService(cfg *config.Config) *Service {
	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

// Propose asks the provider for a corrected payload. Every failure mode is
// converted into a typed *Failure; the pipeline decides whether to retry.
func (s *Service) Propose(ctx context.Context, key types.EndpointKey, body types.Value, diff types.ValidationDiff) (types.Value, error) {
	requestID := getRequestID(ctx)

	endpoint := s.cfg.GetHealthyCorrectionEndpoint()
	if endpoint == "" {
		return types.Value{}, newFailure(ProviderUnreachable, fmt.Errorf("no correction endpoints configured"))
	}

	prompt := buildCorrectionPrompt(key, body, diff)

	req := chatRequest{
		Model: s.cfg.CorrectionModel,
		Messages: []chatMessage{
			{
				Role: "system",
				Content: "You are an API payload correction expert. Fix the invalid request body by renaming " +
					"misspelled fields, adding missing required fields, and removing fields the endpoint does not " +
					"accept, according to the provided validation report. Respond with ONLY the corrected JSON body, no explanation.",
			},
			{
				Role:    "user",
				Content: prompt,
			},
		},
		MaxTokens:   1000,
		Temperature: 0.1, // Low temperature for consistent corrections
	}

	log.Printf("🔧[%s] Sending correction request for %s to %s (model: %s)",
		requestID, key, endpoint, s.cfg.CorrectionModel)

	response, err := s.sendCorrectionRequest(ctx, endpoint, req)
	if err != nil {
		s.cfg.RecordEndpointFailure(endpoint)
		log.Printf("❌[%s] Correction request failed: %v", requestID, err)
		return types.Value{}, err
	}
	s.cfg.RecordEndpointSuccess(endpoint)

	candidate, err := parseCorrectedResponse(response)
	if err != nil {
		log.Printf("❌[%s] Failed to parse correction response: %v", requestID, err)
		return types.Value{}, err
	}

	log.Printf("✅[%s] Correction candidate received for %s", requestID, key)
	return candidate, nil
}

// buildCorrectionPrompt serializes the offending body, the diff, and the
// endpoint identity into a provider-agnostic correction request
func buildCorrectionPrompt(key types.EndpointKey, body types.Value, diff types.ValidationDiff) string {
	bodyJSON, _ := json.MarshalIndent(body, "", "  ")

	var report strings.Builder
	if len(diff.Missing) > 0 {
		fmt.Fprintf(&report, "Missing required fields: %s\n", strings.Join(diff.Missing, ", "))
	}
	if len(diff.Unexpected) > 0 {
		fmt.Fprintf(&report, "Unexpected fields not accepted by the endpoint: %s\n", strings.Join(diff.Unexpected, ", "))
	}
	for _, m := range diff.Mismatched {
		fmt.Fprintf(&report, "Wrong type for %s: expected %s, got %s\n", m.Path, m.Expected, m.Actual)
	}

	return fmt.Sprintf(`Fix this invalid request body for endpoint %s:

INVALID BODY:
%s

VALIDATION REPORT:
%s
Common fixes needed:
- Misspelled field names usually correspond to a missing required field with a similar name (e.g. 'src' should be 'source')
- Nested fields use dotted paths: 'name.first_name' means {"name": {"first_name": ...}}
- Preserve the original values when renaming fields
- Remove unexpected fields that have no required counterpart

Return ONLY the corrected request body as a single JSON object.`,
		key, string(bodyJSON), report.String())
}

// sendCorrectionRequest posts the completion request and classifies every
// transport or provider failure into the typed taxonomy
func (s *Service) sendCorrectionRequest(ctx context.Context, endpoint string, req chatRequest) (*chatResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, newFailure(ProviderRejected, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, newFailure(ProviderUnreachable, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if s.cfg.CorrectionAPIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.CorrectionAPIKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
			return nil, newFailure(ProviderTimeout, err)
		}
		return nil, newFailure(ProviderUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newFailure(ProviderRejected,
			fmt.Errorf("provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	var response chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, newFailure(MalformedResponse, err)
	}

	return &response, nil
}

// parseCorrectedResponse extracts the corrected body from the completion.
// Models wrap JSON in prose or code fences more often than not, so several
// extraction strategies are tried before giving up.
func parseCorrectedResponse(response *chatResponse) (types.Value, error) {
	if len(response.Choices) == 0 {
		return types.Value{}, newFailure(MalformedResponse, fmt.Errorf("no choices in correction response"))
	}

	content := response.Choices[0].Message.Content

	var jsonStr string

	// Strategy 1: widest brace-delimited span
	jsonStart := strings.Index(content, "{")
	jsonEnd := strings.LastIndex(content, "}") + 1
	if jsonStart != -1 && jsonEnd > jsonStart {
		jsonStr = content[jsonStart:jsonEnd]
	} else {
		// Strategy 2: ```json code block
		codeBlockStart := strings.Index(content, "```json")
		if codeBlockStart != -1 {
			codeBlockStart += 7 // Skip "```json"
			codeBlockEnd := strings.Index(content[codeBlockStart:], "```")
			if codeBlockEnd != -1 {
				jsonStr = strings.TrimSpace(content[codeBlockStart : codeBlockStart+codeBlockEnd])
			}
		} else {
			// Strategy 3: any code block that looks like an object
			codeBlockStart = strings.Index(content, "```")
			if codeBlockStart != -1 {
				codeBlockStart += 3
				codeBlockEnd := strings.Index(content[codeBlockStart:], "```")
				if codeBlockEnd != -1 {
					possible := strings.TrimSpace(content[codeBlockStart : codeBlockStart+codeBlockEnd])
					if strings.HasPrefix(possible, "{") && strings.HasSuffix(possible, "}") {
						jsonStr = possible
					}
				}
			}
		}
	}

	if jsonStr == "" {
		return types.Value{}, newFailure(MalformedResponse, fmt.Errorf("no JSON object found in correction response"))
	}

	candidate, err := types.DecodeValue([]byte(jsonStr))
	if err != nil {
		return types.Value{}, newFailure(MalformedResponse, fmt.Errorf("corrected body is not valid JSON: %v", err))
	}
	if candidate.Kind != types.KindObject {
		return types.Value{}, newFailure(MalformedResponse, fmt.Errorf("corrected body is %s, expected object", candidate.Kind))
	}

	return candidate, nil
}
