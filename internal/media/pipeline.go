// Package media runs one inbound media message through download,
// transformation, quota deduction, delivery and cleanup.
package media

import (
	"context"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/betzim/mediameter/internal/apperr"
	"github.com/betzim/mediameter/internal/models"
	"github.com/betzim/mediameter/internal/quota"
	"github.com/betzim/mediameter/internal/replies"
	"github.com/betzim/mediameter/internal/settings"
	"github.com/betzim/mediameter/internal/transform"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Kind is the inbound message type of a media job.
type Kind string

// Kind constants enumerate the media message types.
const (
	KindAudio    Kind = "audio"
	KindVoice    Kind = "voice"
	KindDocument Kind = "document"
)

// Phase is the pipeline step a job is in.
type Phase string

// Phase constants in execution order.
const (
	PhaseDownloading  Phase = "downloading"
	PhaseTransforming Phase = "transforming"
	PhaseMetering     Phase = "metering"
	PhaseNotifying    Phase = "notifying"
	PhaseCleaning     Phase = "cleaning"
)

// Outcome summarizes how a job ended.
type Outcome string

// Outcome constants.
const (
	// OutcomeDelivered means the result was charged and sent.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeRejected means a business rule stopped the job (quota, content, media type).
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed means an upstream or internal failure stopped the job.
	OutcomeFailed Outcome = "failed"
)

const (
	defaultMinAudioBytes    = 1000
	defaultMinDocumentChars = 100
)

// Request is one inbound media message.
type Request struct {
	MessageID string
	Recipient string // Raw sender id used for replies.
	Phone     string // Normalized phone used as the quota key.
	Kind      Kind
	Link      string
	MimeType  string
	FileName  string
}

// Job is the transient state of one pipeline run.
type Job struct {
	ID           string
	Request      Request
	ArtifactPath string
	Phase        Phase
	Outcome      Outcome
	Usage        quota.Usage
	Err          error
}

// Transcriber converts audio to text and duration.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (transform.Transcript, error)
}

// Summarizer condenses document text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Extractor reads text from a downloaded document.
type Extractor interface {
	Extract(ctx context.Context, path, format string) (string, error)
}

// Downloader stores a remote artifact at path.
type Downloader interface {
	Download(ctx context.Context, url, path string) (int64, error)
}

// Ledger is the quota check-and-deduct.
type Ledger interface {
	CheckAndDeduct(ctx context.Context, phone string, kind models.UsageKind, amount float64, detail map[string]string) (quota.Usage, error)
}

// Notifier delivers a text reply and reports success.
type Notifier interface {
	Send(ctx context.Context, to, text string) bool
}

// Options tunes content thresholds.
type Options struct {
	MinAudioBytes       int64
	MinDocumentChars    int
	LowBalanceThreshold float64
}

// Pipeline wires the collaborators of a media job.
type Pipeline struct {
	store       *TempStore
	downloader  Downloader
	transcriber Transcriber
	summarizer  Summarizer
	extractor   Extractor
	ledger      Ledger
	notifier    Notifier
	opts        Options
}

// NewPipeline constructs a Pipeline.
func NewPipeline(store *TempStore, downloader Downloader, transcriber Transcriber, summarizer Summarizer, extractor Extractor, ledger Ledger, notifier Notifier, opts Options) *Pipeline {
	if opts.MinAudioBytes <= 0 {
		opts.MinAudioBytes = defaultMinAudioBytes
	}
	if opts.MinDocumentChars <= 0 {
		opts.MinDocumentChars = defaultMinDocumentChars
	}
	if opts.LowBalanceThreshold <= 0 {
		opts.LowBalanceThreshold = settings.DefaultLowBalanceThreshold
	}
	return &Pipeline{
		store:       store,
		downloader:  downloader,
		transcriber: transcriber,
		summarizer:  summarizer,
		extractor:   extractor,
		ledger:      ledger,
		notifier:    notifier,
		opts:        opts,
	}
}

// result is what a transform step hands to metering and delivery.
type result struct {
	text   string
	amount float64
}

// Run executes the job. Every failure is turned into exactly one reply to
// the sender and the temporary artifact is removed on every path.
func (p *Pipeline) Run(ctx context.Context, req Request) (job Job) {
	job = Job{ID: uuid.NewString(), Request: req}
	logger := log.WithFields(log.Fields{"job_id": job.ID, "phone": req.Phone, "kind": req.Kind})

	usageKind := models.UsageAudio
	if req.Kind == KindDocument {
		usageKind = models.UsageDocument
	}

	ext, format, errValidate := p.validate(req)
	if errValidate != nil {
		p.fail(ctx, &job, logger, usageKind, errValidate)
		return job
	}

	if req.Kind == KindDocument {
		p.notify(ctx, req.Recipient, replies.DocumentQueued)
	} else {
		p.notify(ctx, req.Recipient, replies.AudioReceived)
	}

	job.ArtifactPath = p.store.NewPath(ext)
	defer func() {
		job.Phase = PhaseCleaning
		if errRemove := p.store.Remove(job.ArtifactPath); errRemove != nil {
			logger.WithError(errRemove).WithField("path", job.ArtifactPath).Warn("media: cleanup failed")
			return
		}
		logger.WithField("outcome", job.Outcome).Debug("media: job finished")
	}()

	job.Phase = PhaseDownloading
	size, errDownload := p.downloader.Download(ctx, req.Link, job.ArtifactPath)
	if errDownload != nil {
		p.fail(ctx, &job, logger, usageKind, errDownload)
		return job
	}
	logger.WithField("bytes", size).Debug("media: downloaded")

	job.Phase = PhaseTransforming
	var (
		out          result
		errTransform error
	)
	if req.Kind == KindDocument {
		out, errTransform = p.transformDocument(ctx, job.ArtifactPath, format)
	} else {
		out, errTransform = p.transformAudio(ctx, job.ArtifactPath, size)
	}
	if errTransform != nil {
		p.fail(ctx, &job, logger, usageKind, errTransform)
		return job
	}

	job.Phase = PhaseMetering
	usage, errDeduct := p.ledger.CheckAndDeduct(ctx, req.Phone, usageKind, out.amount, map[string]string{
		"job_id":     job.ID,
		"media_kind": string(req.Kind),
		"message_id": req.MessageID,
	})
	job.Usage = usage
	if errDeduct != nil {
		p.fail(ctx, &job, logger, usageKind, errDeduct)
		return job
	}

	job.Phase = PhaseNotifying
	p.notify(ctx, req.Recipient, out.text)
	if usageKind == models.UsageDocument {
		p.notify(ctx, req.Recipient, replies.DocumentUsage(usage))
	} else {
		p.notify(ctx, req.Recipient, replies.AudioUsage(usage, p.opts.LowBalanceThreshold))
	}
	job.Outcome = OutcomeDelivered
	logger.WithFields(log.Fields{"amount": usage.Amount, "remaining": usage.Remaining}).Info("media: job delivered")
	return job
}

func (p *Pipeline) validate(req Request) (ext, format string, err error) {
	const op = "media: validate"
	if strings.TrimSpace(req.Link) == "" {
		return "", "", apperr.New(apperr.KindUnsupportedMedia, op, apperr.ErrMissingLink)
	}
	if req.Kind == KindDocument {
		docFormat, ok := transform.DocumentFormat(req.MimeType, req.FileName)
		if !ok {
			return "", "", apperr.Newf(apperr.KindUnsupportedMedia, op, "%w: %q", apperr.ErrUnsupportedType, req.MimeType)
		}
		if docFormat == transform.FormatPDF {
			return ".pdf", docFormat, nil
		}
		return ".txt", docFormat, nil
	}
	return audioExtension(req.MimeType), "", nil
}

func (p *Pipeline) transformAudio(ctx context.Context, path string, size int64) (result, error) {
	const op = "media: transcribe"
	if size < p.opts.MinAudioBytes {
		return result{}, apperr.Newf(apperr.KindEmptyContent, op, "audio file is %d bytes", size)
	}
	transcript, errTranscribe := p.transcriber.Transcribe(ctx, path)
	if errTranscribe != nil {
		return result{}, errTranscribe
	}
	if strings.TrimSpace(transcript.Text) == "" {
		return result{}, apperr.Newf(apperr.KindEmptyContent, op, "empty transcript")
	}
	return result{text: transcript.Text, amount: transcript.Minutes}, nil
}

func (p *Pipeline) transformDocument(ctx context.Context, path, format string) (result, error) {
	const op = "media: summarize"
	text, errExtract := p.extractor.Extract(ctx, path, format)
	if errExtract != nil {
		return result{}, errExtract
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < p.opts.MinDocumentChars {
		return result{}, apperr.Newf(apperr.KindEmptyContent, op, "extracted %d characters", n)
	}
	summary, errSummarize := p.summarizer.Summarize(ctx, text)
	if errSummarize != nil {
		return result{}, errSummarize
	}
	if strings.TrimSpace(summary) == "" {
		return result{}, apperr.Newf(apperr.KindEmptyContent, op, "empty summary")
	}
	return result{text: summary, amount: float64(utf8.RuneCountInString(summary)) / 1000}, nil
}

// fail records err on the job and sends the matching reply.
func (p *Pipeline) fail(ctx context.Context, job *Job, logger *log.Entry, usageKind models.UsageKind, err error) {
	job.Err = err
	kind := apperr.KindOf(err)
	entry := logger.WithError(err).WithFields(log.Fields{"phase": job.Phase, "error_kind": kind})
	switch kind {
	case apperr.KindInsufficientQuota, apperr.KindSubscriptionExpired, apperr.KindEmptyContent, apperr.KindUnsupportedMedia:
		job.Outcome = OutcomeRejected
		entry.Info("media: job rejected")
	default:
		job.Outcome = OutcomeFailed
		entry.Error("media: job failed")
	}
	p.notify(ctx, job.Request.Recipient, replies.ForError(err, usageKind, job.Usage.Remaining))
}

func (p *Pipeline) notify(ctx context.Context, to, text string) {
	if p.notifier == nil {
		return
	}
	p.notifier.Send(ctx, to, text)
}

var audioExtensions = map[string]string{
	"audio/ogg":   ".ogg",
	"audio/opus":  ".ogg",
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/mp4":   ".m4a",
	"audio/m4a":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/aac":   ".m4a",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/webm":  ".webm",
	"audio/flac":  ".flac",
}

// audioExtension picks a file extension the transcription service accepts.
func audioExtension(mimeType string) string {
	mediaType := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, errParse := mime.ParseMediaType(mediaType); errParse == nil {
		mediaType = parsed
	}
	if ext, ok := audioExtensions[mediaType]; ok {
		return ext
	}
	return ".ogg"
}
