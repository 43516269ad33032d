// Package transform turns downloaded media into text: speech-to-text for
// audio and extraction plus summarization for documents.
package transform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/betzim/mediameter/internal/apperr"
	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

const (
	defaultTranscriptionModel = openai.Whisper1
	defaultSummaryModel       = "gpt-4o-mini"
	defaultSummaryLanguage    = "Hebrew"
	defaultTimeout            = 120 * time.Second

	// maxChunkChars bounds one summarization request.
	maxChunkChars      = 4000
	summaryMaxTokens   = 1500
	summaryTemperature = 0.7
)

// Options configures the OpenAI-backed services.
type Options struct {
	BaseURL            string
	APIKey             string
	TranscriptionModel string
	SummaryModel       string
	SummaryLanguage    string
	Timeout            time.Duration
}

// NewClient builds the shared go-openai client.
func NewClient(opts Options) *openai.Client {
	cfg := openai.DefaultConfig(strings.TrimSpace(opts.APIKey))
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(cfg)
}

// Transcript is the speech-to-text result.
type Transcript struct {
	Text    string
	Minutes float64
}

type audioClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Transcriber calls the transcription endpoint with verbose JSON output so
// the media duration comes back with the text.
type Transcriber struct {
	client audioClient
	model  string
}

// NewTranscriber wraps client. An empty model selects whisper-1.
func NewTranscriber(client audioClient, model string) *Transcriber {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultTranscriptionModel
	}
	return &Transcriber{client: client, model: model}
}

// Transcribe returns the text and duration in fractional minutes of the file at path.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (Transcript, error) {
	const op = "transform: transcribe"
	if t == nil || t.client == nil {
		return Transcript{}, apperr.Newf(apperr.KindExternalService, op, "transcriber not configured")
	}
	resp, errCall := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: path,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if errCall != nil {
		return Transcript{}, upstreamError(op, errCall)
	}
	return Transcript{
		Text:    strings.TrimSpace(resp.Text),
		Minutes: resp.Duration / 60,
	}, nil
}

// Summarizer condenses long text by summarizing chunks and then the joined
// partial summaries.
type Summarizer struct {
	client   chatClient
	model    string
	language string
}

// NewSummarizer wraps client.
func NewSummarizer(client chatClient, model, language string) *Summarizer {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultSummaryModel
	}
	language = strings.TrimSpace(language)
	if language == "" {
		language = defaultSummaryLanguage
	}
	return &Summarizer{client: client, model: model, language: language}
}

// Summarize returns a summary of text.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	const op = "transform: summarize"
	if s == nil || s.client == nil {
		return "", apperr.Newf(apperr.KindExternalService, op, "summarizer not configured")
	}
	chunks := SplitChunks(text, maxChunkChars)
	if len(chunks) == 0 {
		return "", apperr.Newf(apperr.KindEmptyContent, op, "nothing to summarize")
	}

	partials := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		summary, errAsk := s.ask(ctx, chunk)
		if errAsk != nil {
			return "", upstreamError(op, errAsk)
		}
		log.WithFields(log.Fields{"chunk": i + 1, "chunks": len(chunks)}).Debug("transform: chunk summarized")
		partials = append(partials, summary)
	}
	if len(partials) == 1 {
		return partials[0], nil
	}
	final, errFinal := s.ask(ctx, strings.Join(partials, "\n\n"))
	if errFinal != nil {
		return "", upstreamError(op, errFinal)
	}
	return final, nil
}

func (s *Summarizer) ask(ctx context.Context, text string) (string, error) {
	resp, errCall := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf("You are a helpful assistant that summarizes documents in %s. Be concise but comprehensive.", s.language),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Please summarize the following text in %s:\n\n%s", s.language, text),
			},
		},
		MaxTokens:   summaryMaxTokens,
		Temperature: summaryTemperature,
	})
	if errCall != nil {
		return "", errCall
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// SplitChunks splits text on whitespace into chunks of at most maxChars
// characters. A single word longer than maxChars forms its own chunk.
func SplitChunks(text string, maxChars int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if maxChars <= 0 {
		maxChars = maxChunkChars
	}
	var (
		chunks  []string
		current strings.Builder
		size    int
	)
	for _, word := range words {
		wordLen := utf8.RuneCountInString(word)
		if size > 0 && size+1+wordLen > maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
			size = 0
		}
		if size > 0 {
			current.WriteByte(' ')
			size++
		}
		current.WriteString(word)
		size += wordLen
	}
	if size > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// upstreamError classifies every upstream failure as ExternalService and
// keeps the upstream status and message for operators.
func upstreamError(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apperr.Newf(apperr.KindExternalService, op, "openai status %d (%s): %s: %w", apiErr.HTTPStatusCode, apiErr.Type, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return apperr.Newf(apperr.KindExternalService, op, "openai request status %d: %w", reqErr.HTTPStatusCode, err)
	}
	return apperr.New(apperr.KindExternalService, op, err)
}
