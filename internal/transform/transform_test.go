package transform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/betzim/mediameter/internal/apperr"
	openai "github.com/sashabaranov/go-openai"
)

type fakeAudio struct {
	resp openai.AudioResponse
	err  error
	req  openai.AudioRequest
}

func (f *fakeAudio) CreateTranscription(_ context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.req = req
	return f.resp, f.err
}

type fakeChat struct {
	prompts []string
	err     error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	f.prompts = append(f.prompts, req.Messages[len(req.Messages)-1].Content)
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "summary"}}},
	}, nil
}

func TestTranscriber_DurationInMinutes(t *testing.T) {
	fake := &fakeAudio{resp: openai.AudioResponse{Text: " hello ", Duration: 180}}
	out, err := NewTranscriber(fake, "").Transcribe(context.Background(), "/tmp/a.ogg")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if out.Text != "hello" || out.Minutes != 3 {
		t.Fatalf("unexpected transcript: %+v", out)
	}
	if fake.req.Model != openai.Whisper1 || fake.req.Format != openai.AudioResponseFormatVerboseJSON {
		t.Fatalf("unexpected request: %+v", fake.req)
	}
}

func TestTranscriber_UpstreamErrorIsExternalService(t *testing.T) {
	fake := &fakeAudio{err: &openai.APIError{HTTPStatusCode: 429, Message: "You exceeded your current quota"}}
	_, err := NewTranscriber(fake, "").Transcribe(context.Background(), "/tmp/a.ogg")
	if !errors.Is(err, apperr.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestSummarizer_ChunksAndResummarizes(t *testing.T) {
	word := strings.Repeat("a", 99)
	text := strings.TrimSpace(strings.Repeat(word+" ", 100))

	fake := &fakeChat{}
	summary, err := NewSummarizer(fake, "", "").Summarize(context.Background(), text)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary != "summary" {
		t.Fatalf("unexpected summary %q", summary)
	}
	// 10000 chars -> 3 chunks plus one final pass over the partials.
	if len(fake.prompts) != 4 {
		t.Fatalf("expected 4 completion calls, got %d", len(fake.prompts))
	}
}

func TestSplitChunks(t *testing.T) {
	chunks := SplitChunks("one two three four", 9)
	want := []string{"one two", "three", "four"}
	if len(chunks) != len(want) {
		t.Fatalf("unexpected chunks %q", chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
	if got := SplitChunks("  \n ", 10); got != nil {
		t.Fatalf("expected no chunks for blank text, got %q", got)
	}
}

func TestDocumentFormat(t *testing.T) {
	cases := []struct {
		mime, name, want string
		ok               bool
	}{
		{"application/pdf", "", FormatPDF, true},
		{"text/plain; charset=utf-8", "", FormatText, true},
		{"", "notes.txt", FormatText, true},
		{"application/octet-stream", "report.PDF", FormatPDF, true},
		{"application/vnd.ms-powerpoint", "deck.pptx", "", false},
	}
	for _, tc := range cases {
		got, ok := DocumentFormat(tc.mime, tc.name)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("DocumentFormat(%q, %q) = %q,%v want %q,%v", tc.mime, tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestExtractor_Text(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte("  hello world \n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	text, err := NewExtractor().Extract(context.Background(), path, FormatText)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestExtractor_BrokenPDFIsEmptyContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, []byte("not a pdf"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewExtractor().Extract(context.Background(), path, FormatPDF); !errors.Is(err, apperr.ErrEmptyContent) {
		t.Fatalf("expected empty content for unreadable pdf, got %v", err)
	}
}
