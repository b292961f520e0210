package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

const instrumentationName = "github.com/anonymous-cmd-os/palmistry/internal/oracle"

// DefaultModel is the multimodal model used when none is configured.
const DefaultModel = "gemini-2.5-flash-image"

var (
	errMissingAPIKey = errors.New("oracle: api key is required")
	errMissingDate   = errors.New("date of birth is empty")
)

// Request carries one reading's inputs to the model.
type Request struct {
	DateOfBirth string
	Left        EncodedImage
	Right       EncodedImage
}

// Client performs the single model round trip for a reading and returns the raw reply text.
type Client interface {
	Consult(ctx context.Context, req Request) (string, error)
}

// modelService is the subset of *genai.Models the client uses.
type modelService interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

// GenAIClient talks to Gemini through the Google GenAI SDK.
type GenAIClient struct {
	models modelService
	model  string
	tracer trace.Tracer
}

// ClientOption customises GenAIClient construction.
type ClientOption func(*GenAIClient)

// WithModel overrides the model name.
func WithModel(model string) ClientOption {
	return func(c *GenAIClient) {
		if model = strings.TrimSpace(model); model != "" {
			c.model = model
		}
	}
}

// withModelService swaps the SDK for a stub in tests.
func withModelService(models modelService) ClientOption {
	return func(c *GenAIClient) {
		c.models = models
	}
}

// NewGenAIClient creates the SDK client once with the supplied credential.
func NewGenAIClient(ctx context.Context, apiKey string, opts ...ClientOption) (*GenAIClient, error) {
	c := &GenAIClient{
		model:  DefaultModel,
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.models != nil {
		return c, nil
	}

	if strings.TrimSpace(apiKey) == "" {
		return nil, errMissingAPIKey
	}
	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: create genai client: %w", err)
	}
	c.models = sdk.Models
	return c, nil
}

// Model returns the configured model name.
func (c *GenAIClient) Model() string { return c.model }

// Consult sends the system instruction, both hand images and the reading prompt in one request.
// The reply text is returned as-is, or "" when the model produced none. There are no retries.
func (c *GenAIClient) Consult(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.DateOfBirth) == "" {
		return "", inputError("date of birth missing", errMissingDate)
	}
	left, err := req.Left.Bytes()
	if err != nil || len(left) == 0 {
		return "", inputError("left hand image unreadable", errors.Join(errEmptyImage, err))
	}
	right, err := req.Right.Bytes()
	if err != nil || len(right) == 0 {
		return "", inputError("right hand image unreadable", errors.Join(errEmptyImage, err))
	}

	ctx, span := c.tracer.Start(ctx, "oracle.consult", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("gen_ai.system", "gemini"),
		attribute.String("gen_ai.request.model", c.model),
	)

	parts := []*genai.Part{
		genai.NewPartFromBytes(left, req.Left.MediaType),
		genai.NewPartFromBytes(right, req.Right.MediaType),
		genai.NewPartFromText(ReadingPrompt(req.DateOfBirth)),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemInstruction(), genai.RoleUser),
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate content failed")
		return "", transportError(err)
	}
	if resp == nil {
		return "", nil
	}
	text := resp.Text()
	span.SetAttributes(attribute.Int("gen_ai.response.length", len(text)))
	return text, nil
}

// Ping checks that the configured model is reachable with the credential.
func (c *GenAIClient) Ping(ctx context.Context) error {
	if _, err := c.models.Get(ctx, c.model, nil); err != nil {
		return fmt.Errorf("oracle: model %s unavailable: %w", c.model, err)
	}
	return nil
}
