package replies

import (
	"strings"
	"testing"

	"github.com/betzim/mediameter/internal/apperr"
	"github.com/betzim/mediameter/internal/models"
	"github.com/betzim/mediameter/internal/quota"
)

func TestAudioUsage_Format(t *testing.T) {
	msg := AudioUsage(quota.Usage{Kind: models.UsageAudio, Amount: 3, Used: 3, Limit: 10, Remaining: 7}, 2)
	if !strings.Contains(msg, "3.00 minutes used, 7.00 remaining") {
		t.Fatalf("unexpected usage text %q", msg)
	}
	if strings.Contains(msg, "running low") {
		t.Fatalf("did not expect a low balance hint in %q", msg)
	}

	low := AudioUsage(quota.Usage{Kind: models.UsageAudio, Amount: 1, Used: 8.5, Limit: 10, Remaining: 1.5}, 2)
	if !strings.Contains(low, "running low") {
		t.Fatalf("expected a low balance hint in %q", low)
	}
}

func TestForError(t *testing.T) {
	cases := []struct {
		err  error
		kind models.UsageKind
		want string
	}{
		{apperr.New(apperr.KindEmptyContent, "x", nil), models.UsageDocument, EmptyDocument},
		{apperr.New(apperr.KindEmptyContent, "x", nil), models.UsageAudio, EmptyAudio},
		{apperr.New(apperr.KindUnsupportedMedia, "x", apperr.ErrTooLarge), models.UsageDocument, DocumentTooLarge},
		{apperr.New(apperr.KindUnsupportedMedia, "x", apperr.ErrMissingLink), models.UsageDocument, MissingDocument},
		{apperr.New(apperr.KindUnsupportedMedia, "x", apperr.ErrUnsupportedType), models.UsageDocument, UnsupportedDocument},
		{apperr.New(apperr.KindUnsupportedMedia, "x", apperr.ErrMissingLink), models.UsageAudio, MissingAudio},
		{apperr.New(apperr.KindExternalService, "x", nil), models.UsageAudio, SystemBusy},
		{apperr.New(apperr.KindSubscriptionExpired, "x", nil), models.UsageAudio, SubscriptionExpired()},
	}
	for i, tc := range cases {
		if got := ForError(tc.err, tc.kind, 0); got != tc.want {
			t.Fatalf("case %d: got %q, want %q", i, got, tc.want)
		}
	}

	if got := ForError(apperr.New(apperr.KindInsufficientQuota, "x", nil), models.UsageAudio, 1.5); !strings.Contains(got, "1.50 minutes remaining") {
		t.Fatalf("unexpected insufficient quota text %q", got)
	}
}
