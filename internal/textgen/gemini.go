package textgen

import (
	"context"
	"errors"
	"strings"

	"github.com/inkfold/pilot/backend/internal/fault"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	opGeminiNew      = "textgen.gemini.new"
	opGenerate       = "textgen.generate"
	reasonMissingKey = "missing_api_key"
	reasonNoModels   = "no_models"
	reasonClient     = "client_init_failed"
	reasonExhausted  = "all_models_failed"
	reasonEmptyReply = "empty_reply"
)

var errMissingAPIKey = errors.New("api key is required")

// GeminiWriterConfig describes the Gemini-backed writer.
type GeminiWriterConfig struct {
	APIKey string
	Models []string
	Logger *zap.Logger
}

// GeminiWriter generates text through the Gemini API, falling back through an
// ordered model list when a model is rate limited or unavailable.
type GeminiWriter struct {
	client *genai.Client
	models []string
	logger *zap.Logger
}

// NewGeminiWriter constructs the writer and its API client.
func NewGeminiWriter(ctx context.Context, cfg GeminiWriterConfig) (*GeminiWriter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fault.Internal(opGeminiNew, reasonMissingKey, errMissingAPIKey)
	}
	if len(cfg.Models) == 0 {
		return nil, fault.Internal(opGeminiNew, reasonNoModels, nil)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fault.Upstream(opGeminiNew, reasonClient, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiWriter{client: client, models: cfg.Models, logger: logger}, nil
}

// GenerateText asks each configured model in order until one answers.
// Rate-limit and missing-model errors fall through to the next model; any
// other error aborts immediately.
func (w *GeminiWriter) GenerateText(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for _, model := range w.models {
		result, err := w.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
		if err != nil {
			if isRetryable(err) {
				w.logger.Warn("model unavailable, trying next", zap.String("model", model), zap.Error(err))
				lastErr = err
				continue
			}
			return "", fault.Upstream(opGenerate, reasonExhausted, err)
		}
		if result == nil || len(result.Candidates) == 0 ||
			result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
			lastErr = errors.New("empty candidate from " + model)
			continue
		}
		text := result.Candidates[0].Content.Parts[0].Text
		if strings.TrimSpace(text) == "" {
			lastErr = errors.New("blank text from " + model)
			continue
		}
		return text, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no model produced output")
	}
	return "", fault.Upstream(opGenerate, reasonExhausted, lastErr)
}

func isRetryable(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "429") ||
		strings.Contains(message, "rate limit") ||
		strings.Contains(message, "exhausted") ||
		strings.Contains(message, "404") ||
		strings.Contains(message, "not found")
}
