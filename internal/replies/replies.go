// Package replies holds the user-facing message catalog.
package replies

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/betzim/mediameter/internal/apperr"
	"github.com/betzim/mediameter/internal/models"
	"github.com/betzim/mediameter/internal/quota"
	"github.com/betzim/mediameter/internal/settings"
)

const purchaseURL = settings.PurchaseURL

const (
	MainMenu = "*👻 Welcome!*\n\n" +
		"Choose one of the options below:\n\n" +
		"1️⃣ Transcribe voice messages\n" +
		"2️⃣ Summarize documents\n" +
		"3️⃣ More services\n" +
		"4️⃣ About us\n\n" +
		"_Reply with the number of your choice_"

	Services = "*🛠️ More services*\n\n" +
		"1️⃣ Translation\n" +
		"2️⃣ Text and conversation summaries\n" +
		"3️⃣ Image generation\n" +
		"4️⃣ Back to the main menu\n\n" +
		"_Reply with the number of your choice_"

	About = "*About us*\n\n" +
		"We transcribe your voice messages so you never have to sit through them again.\n\n" +
		"✅ Fast\n✅ Accurate\n✅ Available 24/7\n\n" +
		"_Type \"menu\" to return to the main menu_"

	AudioPrompt    = "🎙️ Please forward a voice or audio message."
	DocPrompt      = "📄 Please send a text (.txt) or PDF document to summarize."
	MenuIntro      = "Here is our main menu:"
	AudioReceived  = "Your audio was received and is being processed. The result is on its way."
	DocumentQueued = "Your document is queued for processing. We will send the summary shortly."

	MissingAudio        = "Sorry, we could not get the audio file. Please try again."
	MissingDocument     = "Sorry, we could not get the link to the document. Please try sending it again."
	UnsupportedDocument = "This file type is not supported. Please send a PDF or TXT document."
	DocumentTooLarge    = "The document is too large. Please send a smaller document (up to 20MB)."
	AudioTooLarge       = "The audio file is too large. Please send a shorter recording."
	EmptyDocument       = "Sorry, we could not extract readable text from the document. Please try another document."
	EmptyAudio          = "Sorry, the recording seems to be empty or unclear. Please try a different recording."
	SystemBusy          = "Sorry, the system is busy right now. Please try again in a few minutes."
	GenericError        = "Sorry, something went wrong while processing your message. Please try again later."
	AccountUnavailable  = "Sorry, we could not load your account details right now. Please try again later."
)

// Welcome greets a newly registered user.
func Welcome(audioMinutes float64) string {
	return fmt.Sprintf("Welcome! You are registered on the free plan with %.2f minutes of audio transcription.", audioMinutes)
}

// InsufficientQuota tells the user the charge did not fit.
func InsufficientQuota(kind models.UsageKind, remaining float64) string {
	if kind == models.UsageDocument {
		return fmt.Sprintf("You do not have enough document units left (%.2f remaining). Add more units to keep using the service: %s", remaining, purchaseURL)
	}
	return fmt.Sprintf("You do not have enough time left (%.2f minutes remaining). Add more minutes to keep using the service: %s", remaining, purchaseURL)
}

// SubscriptionExpired is the renewal prompt.
func SubscriptionExpired() string {
	return "Your subscription has expired. Renew it to keep using the service: " + purchaseURL
}

// AudioUsage reports a committed audio deduction.
func AudioUsage(u quota.Usage, lowBalance float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This transcription used %.2f minutes.\n%.2f minutes used, %.2f remaining.", u.Amount, u.Used, u.Remaining)
	if u.Remaining <= lowBalance {
		b.WriteString("\n\n" + lowBalanceHint())
	}
	return b.String()
}

// DocumentUsage reports a committed document deduction.
func DocumentUsage(u quota.Usage) string {
	return fmt.Sprintf("This summary used %.2f units.\n%.2f units used, %.2f remaining.", u.Amount, u.Used, u.Remaining)
}

// Account renders the balance command reply.
func Account(acc quota.Account, lowBalance float64) string {
	var b strings.Builder
	b.WriteString("Your account:\n")
	fmt.Fprintf(&b, "▪️ Plan: %s\n", acc.Plan)
	fmt.Fprintf(&b, "▪️ Total minutes: %.2f\n", acc.AudioMinutesLimit)
	fmt.Fprintf(&b, "▪️ Minutes used: %.2f\n", acc.AudioMinutesUsed)
	fmt.Fprintf(&b, "▪️ Minutes left: %.2f\n", acc.Remaining(models.UsageAudio))
	fmt.Fprintf(&b, "▪️ Document units left: %.2f of %.2f\n", acc.Remaining(models.UsageDocument), acc.DocumentUnitsLimit)
	if acc.SubscriptionEndDate != nil {
		fmt.Fprintf(&b, "▪️ Subscription ends: %s\n", acc.SubscriptionEndDate.Format(time.DateOnly))
	}
	if acc.Remaining(models.UsageAudio) <= lowBalance {
		b.WriteString("\n" + lowBalanceHint())
	}
	return b.String()
}

func lowBalanceHint() string {
	return "You are running low on transcription minutes. Add more to keep enjoying the service: " + purchaseURL
}

// ForError maps a pipeline failure to exactly one user-facing message.
// remaining is only used for InsufficientQuota.
func ForError(err error, kind models.UsageKind, remaining float64) string {
	isDocument := kind == models.UsageDocument
	switch apperr.KindOf(err) {
	case apperr.KindInsufficientQuota:
		return InsufficientQuota(kind, remaining)
	case apperr.KindSubscriptionExpired:
		return SubscriptionExpired()
	case apperr.KindEmptyContent:
		if isDocument {
			return EmptyDocument
		}
		return EmptyAudio
	case apperr.KindUnsupportedMedia:
		return unsupportedMessage(err, isDocument)
	case apperr.KindExternalService:
		return SystemBusy
	default:
		return GenericError
	}
}

func unsupportedMessage(err error, isDocument bool) string {
	switch {
	case errors.Is(err, apperr.ErrTooLarge) && isDocument:
		return DocumentTooLarge
	case errors.Is(err, apperr.ErrTooLarge):
		return AudioTooLarge
	case errors.Is(err, apperr.ErrMissingLink) && isDocument:
		return MissingDocument
	case isDocument:
		return UnsupportedDocument
	default:
		return MissingAudio
	}
}
