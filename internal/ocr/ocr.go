// Package ocr extracts certificate text through a vision-capable chat model.
package ocr

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certverify/internal/domainerr"
	"github.com/edvin/certverify/internal/llm"
	"github.com/edvin/certverify/internal/metrics"
	"github.com/edvin/certverify/internal/model"
)

// ErrEmptyExtraction is returned when the model produced no usable text.
var ErrEmptyExtraction = domainerr.New(domainerr.CodeUpstream, "no text could be extracted from the certificate")

const systemPrompt = "You transcribe certificates. Return only the text visible in the image, " +
	"preserving line breaks and reading order. Do not add commentary, headings, " +
	"markdown or explanations."

// Chatter is the subset of llm.Client used for extraction.
type Chatter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

type Extractor struct {
	logger  zerolog.Logger
	chat    Chatter
	timeout time.Duration
}

func NewExtractor(logger zerolog.Logger, chat Chatter, timeout time.Duration) *Extractor {
	return &Extractor{
		logger:  logger.With().Str("component", "ocr").Logger(),
		chat:    chat,
		timeout: timeout,
	}
}

// ExtractText returns the text of the artifact at artifactURL exactly as the
// model produced it. kind is the artifact kind before normalization and only
// shapes the prompt.
func (e *Extractor) ExtractText(ctx context.Context, artifactURL, kind string) (text string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveAdapter("ocr", "extract_text", start, err) }()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	instruction := "Transcribe this certificate."
	if kind == model.ArtifactKindPDF {
		instruction = "Transcribe this certificate. The image is the first page of a PDF."
	}
	zero := 0.0
	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Parts: []llm.ContentPart{
				llm.TextPart(instruction),
				llm.ImagePart(artifactURL),
			}},
		},
		Temperature: &zero,
	})
	if err != nil {
		var se *llm.StatusError
		if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != 429 {
			return "", domainerr.ErrUpstreamRejected.Because(err, "extract text")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", domainerr.Upstream(ctxErr, "extract text")
		}
		return "", domainerr.Upstream(err, "extract text")
	}

	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	if strings.TrimSpace(text) == "" {
		e.logger.Warn().Str("artifact_url", artifactURL).Msg("model returned no text")
		return "", ErrEmptyExtraction
	}
	return text, nil
}
