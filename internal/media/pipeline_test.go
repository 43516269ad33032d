package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/betzim/mediameter/internal/apperr"
	"github.com/betzim/mediameter/internal/db"
	"github.com/betzim/mediameter/internal/models"
	"github.com/betzim/mediameter/internal/quota"
	"github.com/betzim/mediameter/internal/replies"
	"github.com/betzim/mediameter/internal/transform"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Send(_ context.Context, _ string, text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return true
}

func (n *recordingNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return ""
	}
	return n.sent[len(n.sent)-1]
}

type fakeDownloader struct {
	payload []byte
	err     error
	calls   int
}

func (d *fakeDownloader) Download(_ context.Context, _ string, path string) (int64, error) {
	d.calls++
	if errWrite := os.WriteFile(path, d.payload, 0o600); errWrite != nil {
		return 0, errWrite
	}
	if d.err != nil {
		return int64(len(d.payload)), d.err
	}
	return int64(len(d.payload)), nil
}

type fakeTranscriber struct {
	out transform.Transcript
	err error
}

func (f *fakeTranscriber) Transcribe(context.Context, string) (transform.Transcript, error) {
	return f.out, f.err
}

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (string, error) {
	f.calls++
	return strings.Repeat("s", 500), nil
}

type fakeExtractor struct {
	text string
}

func (f *fakeExtractor) Extract(context.Context, string, string) (string, error) {
	return f.text, nil
}

type pipelineFixture struct {
	pipeline   *Pipeline
	store      *TempStore
	ledger     *quota.Ledger
	notifier   *recordingNotifier
	downloader *fakeDownloader
	summarizer *fakeSummarizer
}

func newFixture(t *testing.T, transcriber Transcriber, extractor Extractor) *pipelineFixture {
	t.Helper()
	conn, errOpen := db.Open("file:" + filepath.Join(t.TempDir(), "media.db"))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	pool, errPool := db.NewPool(conn, db.PoolOptions{})
	if errPool != nil {
		t.Fatalf("pool: %v", errPool)
	}
	t.Cleanup(pool.Close)

	store, errStore := NewTempStore(filepath.Join(t.TempDir(), "temp"))
	if errStore != nil {
		t.Fatalf("temp store: %v", errStore)
	}
	fx := &pipelineFixture{
		store:      store,
		ledger:     quota.NewLedger(pool, quota.Options{}),
		notifier:   &recordingNotifier{},
		downloader: &fakeDownloader{payload: make([]byte, 4096)},
		summarizer: &fakeSummarizer{},
	}
	if extractor == nil {
		extractor = &fakeExtractor{}
	}
	fx.pipeline = NewPipeline(store, fx.downloader, transcriber, fx.summarizer, extractor, fx.ledger, fx.notifier, Options{MinDocumentChars: 100})
	return fx
}

func (fx *pipelineFixture) register(t *testing.T, phone string) {
	t.Helper()
	if _, _, err := fx.ledger.Register(context.Background(), phone, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
}

func assertNoTempFiles(t *testing.T, store *TempStore, job Job) {
	t.Helper()
	if job.ArtifactPath != "" {
		if _, err := os.Stat(job.ArtifactPath); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected artifact %s to be removed, stat err=%v", job.ArtifactPath, err)
		}
	}
	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty temp dir, found %d entries", len(entries))
	}
}

func TestRun_VoiceMessageNewUser(t *testing.T) {
	fx := newFixture(t, &fakeTranscriber{out: transform.Transcript{Text: "hello there", Minutes: 3.0}}, nil)
	fx.register(t, "972500000100")

	job := fx.pipeline.Run(context.Background(), Request{
		MessageID: "m1", Recipient: "972500000100", Phone: "972500000100",
		Kind: KindVoice, Link: "https://media.example/voice.ogg", MimeType: "audio/ogg; codecs=opus",
	})

	if job.Outcome != OutcomeDelivered || job.Err != nil {
		t.Fatalf("expected delivered job, got outcome=%s err=%v", job.Outcome, job.Err)
	}
	if job.Phase != PhaseCleaning {
		t.Fatalf("expected final phase cleaning, got %s", job.Phase)
	}
	if !strings.Contains(fx.notifier.last(), "3.00 minutes used, 7.00 remaining") {
		t.Fatalf("unexpected usage reply %q", fx.notifier.last())
	}
	if fx.notifier.sent[0] != replies.AudioReceived || fx.notifier.sent[1] != "hello there" {
		t.Fatalf("unexpected reply order: %q", fx.notifier.sent)
	}
	assertNoTempFiles(t, fx.store, job)
}

func TestRun_InsufficientQuotaKeepsUsedAndCleansUp(t *testing.T) {
	fx := newFixture(t, &fakeTranscriber{out: transform.Transcript{Text: "words", Minutes: 2.0}}, nil)
	fx.register(t, "972500000101")
	ctx := context.Background()
	if _, err := fx.ledger.CheckAndDeduct(ctx, "972500000101", models.UsageAudio, 8.5, nil); err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	job := fx.pipeline.Run(ctx, Request{
		Recipient: "972500000101", Phone: "972500000101",
		Kind: KindAudio, Link: "https://media.example/a.mp3", MimeType: "audio/mpeg",
	})

	if !errors.Is(job.Err, apperr.ErrInsufficientQuota) || job.Outcome != OutcomeRejected {
		t.Fatalf("expected insufficient quota rejection, got outcome=%s err=%v", job.Outcome, job.Err)
	}
	if want := replies.InsufficientQuota(models.UsageAudio, 1.5); fx.notifier.last() != want {
		t.Fatalf("expected %q, got %q", want, fx.notifier.last())
	}
	acc, err := fx.ledger.Account(ctx, "972500000101")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acc.AudioMinutesUsed != 8.5 {
		t.Fatalf("expected used unchanged, got %v", acc.AudioMinutesUsed)
	}
	assertNoTempFiles(t, fx.store, job)
}

func TestRun_ShortDocumentSkipsSummarization(t *testing.T) {
	fx := newFixture(t, nil, &fakeExtractor{text: strings.Repeat("x", 50)})
	fx.register(t, "972500000102")

	job := fx.pipeline.Run(context.Background(), Request{
		Recipient: "972500000102", Phone: "972500000102",
		Kind: KindDocument, Link: "https://media.example/d.txt", MimeType: "text/plain",
	})

	if !errors.Is(job.Err, apperr.ErrEmptyContent) {
		t.Fatalf("expected empty content, got %v", job.Err)
	}
	if fx.summarizer.calls != 0 {
		t.Fatalf("expected no summarization call, got %d", fx.summarizer.calls)
	}
	if fx.notifier.last() != replies.EmptyDocument {
		t.Fatalf("unexpected reply %q", fx.notifier.last())
	}
	assertNoTempFiles(t, fx.store, job)
}

func TestRun_DocumentChargesSummaryLength(t *testing.T) {
	fx := newFixture(t, nil, &fakeExtractor{text: strings.Repeat("word ", 100)})
	fx.register(t, "972500000103")

	job := fx.pipeline.Run(context.Background(), Request{
		Recipient: "972500000103", Phone: "972500000103",
		Kind: KindDocument, Link: "https://media.example/d.pdf", MimeType: "application/pdf",
	})
	if job.Outcome != OutcomeDelivered {
		t.Fatalf("expected delivered, got %s (%v)", job.Outcome, job.Err)
	}
	if job.Usage.Amount != 0.5 || job.Usage.Used != 0.5 {
		t.Fatalf("expected 0.5 units charged, got %+v", job.Usage)
	}
	if !strings.HasSuffix(job.ArtifactPath, ".pdf") {
		t.Fatalf("expected pdf artifact, got %s", job.ArtifactPath)
	}
	assertNoTempFiles(t, fx.store, job)
}

func TestRun_MissingLinkShortCircuits(t *testing.T) {
	fx := newFixture(t, &fakeTranscriber{}, nil)

	job := fx.pipeline.Run(context.Background(), Request{Recipient: "972500000104", Phone: "972500000104", Kind: KindDocument})
	if !errors.Is(job.Err, apperr.ErrMissingLink) {
		t.Fatalf("expected missing link, got %v", job.Err)
	}
	if fx.downloader.calls != 0 {
		t.Fatalf("expected no download attempt")
	}
	if len(fx.notifier.sent) != 1 || fx.notifier.sent[0] != replies.MissingDocument {
		t.Fatalf("expected a single missing document reply, got %q", fx.notifier.sent)
	}
}

func TestRun_UnsupportedMimeBeforeDownload(t *testing.T) {
	fx := newFixture(t, &fakeTranscriber{}, nil)

	job := fx.pipeline.Run(context.Background(), Request{
		Recipient: "972500000105", Phone: "972500000105",
		Kind: KindDocument, Link: "https://media.example/deck.pptx",
		MimeType: "application/vnd.openxmlformats-officedocument.presentationml.presentation", FileName: "deck.pptx",
	})
	if !errors.Is(job.Err, apperr.ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", job.Err)
	}
	if fx.downloader.calls != 0 {
		t.Fatalf("expected no download attempt")
	}
}

func TestRun_DownloadFailureStillCleansUp(t *testing.T) {
	fx := newFixture(t, &fakeTranscriber{}, nil)
	fx.downloader.err = apperr.New(apperr.KindUnsupportedMedia, "test", apperr.ErrTooLarge)

	job := fx.pipeline.Run(context.Background(), Request{
		Recipient: "972500000106", Phone: "972500000106",
		Kind: KindAudio, Link: "https://media.example/huge.ogg",
	})
	if job.Outcome != OutcomeRejected {
		t.Fatalf("expected rejected, got %s", job.Outcome)
	}
	if fx.notifier.last() != replies.AudioTooLarge {
		t.Fatalf("unexpected reply %q", fx.notifier.last())
	}
	assertNoTempFiles(t, fx.store, job)
}

func TestRun_TinyAudioIsEmptyContent(t *testing.T) {
	fx := newFixture(t, &fakeTranscriber{out: transform.Transcript{Text: "x", Minutes: 0.1}}, nil)
	fx.downloader.payload = make([]byte, 200)

	job := fx.pipeline.Run(context.Background(), Request{
		Recipient: "972500000107", Phone: "972500000107",
		Kind: KindVoice, Link: "https://media.example/tiny.ogg",
	})
	if !errors.Is(job.Err, apperr.ErrEmptyContent) {
		t.Fatalf("expected empty content, got %v", job.Err)
	}
	if fx.notifier.last() != replies.EmptyAudio {
		t.Fatalf("unexpected reply %q", fx.notifier.last())
	}
	assertNoTempFiles(t, fx.store, job)
}

func TestRun_UpstreamFailureIsSystemBusy(t *testing.T) {
	fx := newFixture(t, &fakeTranscriber{err: apperr.Newf(apperr.KindExternalService, "test", "model overloaded")}, nil)
	fx.register(t, "972500000108")

	job := fx.pipeline.Run(context.Background(), Request{
		Recipient: "972500000108", Phone: "972500000108",
		Kind: KindAudio, Link: "https://media.example/a.ogg",
	})
	if job.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", job.Outcome)
	}
	if fx.notifier.last() != replies.SystemBusy {
		t.Fatalf("unexpected reply %q", fx.notifier.last())
	}
	assertNoTempFiles(t, fx.store, job)
}

func TestTempStore_UniquePaths(t *testing.T) {
	store, err := NewTempStore(t.TempDir())
	if err != nil {
		t.Fatalf("temp store: %v", err)
	}
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		p := store.NewPath(".ogg")
		if _, dup := seen[p]; dup {
			t.Fatalf("duplicate path %s", p)
		}
		seen[p] = struct{}{}
	}
	if errRemove := store.Remove(filepath.Join(store.Dir(), "missing.ogg")); errRemove != nil {
		t.Fatalf("expected removing a missing file to succeed, got %v", errRemove)
	}
}
