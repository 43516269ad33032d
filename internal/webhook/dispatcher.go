// Package webhook receives gateway events, routes each message to the menu
// router or the media pipeline and acknowledges the request exactly once.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/betzim/mediameter/internal/media"
	"github.com/betzim/mediameter/internal/menu"
	"github.com/betzim/mediameter/internal/models"
	"github.com/betzim/mediameter/internal/quota"
	"github.com/betzim/mediameter/internal/ratelimit"
	"github.com/betzim/mediameter/internal/replies"
	"github.com/betzim/mediameter/internal/settings"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Ledger registers senders and reads their balance.
type Ledger interface {
	Register(ctx context.Context, phone string, plan models.PaymentPlan) (quota.Account, bool, error)
	Account(ctx context.Context, phone string) (quota.Account, error)
}

// MediaRunner executes one media job.
type MediaRunner interface {
	Run(ctx context.Context, req media.Request) media.Job
}

// Notifier delivers a text reply and reports success.
type Notifier interface {
	Send(ctx context.Context, to, text string) bool
}

// Limiter throttles inbound messages per sender.
type Limiter interface {
	AllowPhone(ctx context.Context, phone string) (ratelimit.Result, error)
}

// Options configures a Dispatcher.
type Options struct {
	BotNumber           string
	LowBalanceThreshold float64
}

// Dispatcher is the gin handler for POST /webhook.
type Dispatcher struct {
	ledger   Ledger
	pipeline MediaRunner
	notifier Notifier
	limiter  Limiter
	botPhone string
	opts     Options
}

// NewDispatcher constructs a Dispatcher. limiter may be nil.
func NewDispatcher(ledger Ledger, pipeline MediaRunner, notifier Notifier, limiter Limiter, opts Options) *Dispatcher {
	if opts.LowBalanceThreshold <= 0 {
		opts.LowBalanceThreshold = settings.DefaultLowBalanceThreshold
	}
	return &Dispatcher{
		ledger:   ledger,
		pipeline: pipeline,
		notifier: notifier,
		limiter:  limiter,
		botPhone: quota.NormalizePhone(opts.BotNumber),
		opts:     opts,
	}
}

// RegisterRoutes mounts the webhook endpoint.
func (d *Dispatcher) RegisterRoutes(r gin.IRoutes) {
	r.POST("/webhook", d.Handle)
}

// responder guarantees a single HTTP response per request.
type responder struct {
	mu   sync.Mutex
	c    *gin.Context
	done bool
}

func (r *responder) ack() {
	r.write(http.StatusOK, gin.H{"status": "ok"})
}

func (r *responder) fail(errorID string) {
	r.write(http.StatusInternalServerError, gin.H{"error": "Internal server error", "errorId": errorID})
}

func (r *responder) write(status int, body gin.H) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done || r.c.Writer.Written() {
		r.done = true
		return
	}
	r.done = true
	r.c.JSON(status, body)
}

// Handle processes every message of the envelope in order and acknowledges.
func (d *Dispatcher) Handle(c *gin.Context) {
	errorID := uuid.NewString()
	logger := log.WithField("error_id", errorID)
	resp := &responder{c: c}
	// Jobs outlive a dropped gateway connection; only timeouts bound them.
	ctx := context.WithoutCancel(c.Request.Context())

	var current string
	defer func() {
		if rec := recover(); rec != nil {
			logger.WithFields(log.Fields{"panic": rec, "recipient": current}).
				Errorf("webhook: recovered from panic\n%s", debug.Stack())
			d.sendGenericError(ctx, current)
			resp.fail(errorID)
			return
		}
		resp.ack()
	}()

	raw, errRead := c.GetRawData()
	if errRead != nil {
		logger.WithError(errRead).Warn("webhook: read body failed")
		return
	}
	var env Envelope
	if errDecode := json.Unmarshal(raw, &env); errDecode != nil {
		logger.WithError(errDecode).WithField("bytes", len(raw)).Warn("webhook: malformed payload acknowledged")
		return
	}

	class := Classify(env)
	logger = logger.WithFields(log.Fields{"event": class.String(), "messages": len(env.Messages)})
	switch class {
	case EventStatus:
		logger.Debug("webhook: status event ignored")
		return
	case EventUnrecognized:
		logger.WithFields(log.Fields{"type": env.Event.Type, "event_name": env.Event.Event}).Info("webhook: unrecognized event ignored")
		return
	}

	for _, msg := range env.Messages {
		current = msg.From
		if errProcess := d.process(ctx, logger, msg); errProcess != nil {
			logger.WithError(errProcess).WithFields(log.Fields{"recipient": msg.From, "message_id": msg.ID}).
				Error("webhook: message processing failed")
			d.sendGenericError(ctx, msg.From)
			resp.fail(errorID)
			return
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, logger *log.Entry, msg Message) error {
	phone := quota.NormalizePhone(msg.From)
	entry := logger.WithFields(log.Fields{"phone": phone, "message_id": msg.ID, "message_type": msg.Type})

	if msg.FromMe || (d.botPhone != "" && phone == d.botPhone) {
		entry.Debug("webhook: self message suppressed")
		return nil
	}
	if phone == "" {
		entry.WithField("from", msg.From).Warn("webhook: sender without phone number ignored")
		return nil
	}
	if d.limiter != nil {
		result, errLimit := d.limiter.AllowPhone(ctx, phone)
		if errLimit != nil {
			entry.WithError(errLimit).Warn("webhook: rate limit check failed, allowing")
		} else if !result.Allowed {
			entry.WithField("reset", result.Reset).Warn("webhook: rate limited message dropped")
			return nil
		}
	}

	acc, created, errRegister := d.ledger.Register(ctx, phone, models.PlanFree)
	if errRegister != nil {
		return fmt.Errorf("register sender: %w", errRegister)
	}
	if created {
		entry.Info("webhook: new sender registered")
		d.send(ctx, msg.From, replies.Welcome(acc.AudioMinutesLimit))
		d.send(ctx, msg.From, replies.MainMenu)
	}

	switch kind := msg.Kind(); kind {
	case KindText:
		d.handleText(ctx, entry, msg, phone)
	case KindAudio, KindVoice, KindDocument:
		attachment := msg.Attachment()
		job := d.pipeline.Run(ctx, media.Request{
			MessageID: msg.ID,
			Recipient: msg.From,
			Phone:     phone,
			Kind:      media.Kind(kind),
			Link:      attachment.Link,
			MimeType:  attachment.MimeType,
			FileName:  attachment.FileName,
		})
		entry.WithFields(log.Fields{"job_id": job.ID, "outcome": job.Outcome}).Info("webhook: media message handled")
	default:
		entry.Info("webhook: unsupported message type, sending main menu")
		d.send(ctx, msg.From, replies.MainMenu)
	}
	return nil
}

func (d *Dispatcher) handleText(ctx context.Context, entry *log.Entry, msg Message, phone string) {
	action := menu.Resolve(msg.Body())
	entry.WithField("action", action.String()).Debug("webhook: text routed")
	switch action {
	case menu.ShowAudioPrompt:
		d.send(ctx, msg.From, replies.AudioPrompt)
	case menu.ShowDocPrompt:
		d.send(ctx, msg.From, replies.DocPrompt)
	case menu.ShowServices:
		d.send(ctx, msg.From, replies.Services)
	case menu.ShowAbout:
		d.send(ctx, msg.From, replies.About)
	case menu.ShowMainMenu:
		d.send(ctx, msg.From, replies.MainMenu)
	case menu.ShowAccount:
		acc, errAccount := d.ledger.Account(ctx, phone)
		if errAccount != nil {
			entry.WithError(errAccount).Error("webhook: account lookup failed")
			d.send(ctx, msg.From, replies.AccountUnavailable)
			return
		}
		d.send(ctx, msg.From, replies.Account(acc, d.opts.LowBalanceThreshold))
	default:
		d.send(ctx, msg.From, replies.MenuIntro)
		d.send(ctx, msg.From, replies.MainMenu)
	}
}

func (d *Dispatcher) send(ctx context.Context, to, text string) {
	if d.notifier == nil {
		return
	}
	d.notifier.Send(ctx, to, text)
}

func (d *Dispatcher) sendGenericError(ctx context.Context, to string) {
	if to == "" || quota.NormalizePhone(to) == d.botPhone {
		return
	}
	d.send(ctx, to, replies.GenericError)
}
