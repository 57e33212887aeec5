package flows

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/esimflow/internal/upstream"
)

// Delivery channels accepted by the challenge endpoint.
const (
	ChannelEmail = "EMAIL"
	ChannelSMS   = "SMS"
)

// MFAMetrics carries metric IDs needed by MFA flows.
type MFAMetrics struct {
	ChallengeSent       int
	ChallengeFailure    int
	VerifySuccess       int
	VerifyFailure       int
	ReplayRejected      int
	MemberLookupFailure int
	RateLimitHit        int
}

// MFAEvents carries audit event names used by MFA flows.
type MFAEvents struct {
	ChallengeSent    string
	ChallengeFailure string
	VerifySuccess    string
	VerifyFailure    string
	ReplayRejected   string
	RateLimited      string
	MemberLookup     string
}

// MFAErrors carries host-level sentinel errors used by MFA flows.
type MFAErrors struct {
	EngineNotReady     error
	MissingInput       error
	ChallengeFailed    error
	VerificationFailed error
	ChallengeConsumed  error
	RateLimited        error
	MemberLookupFailed error
}

// MFADeps captures challenge, verification and member lookup dependencies.
type MFADeps struct {
	RefTTL time.Duration

	SendChallenge func(ctx context.Context, accessToken, channel string) (string, error)
	ValidateCode  func(ctx context.Context, accessToken, ref, code string) (string, error)
	MemberProfile func(ctx context.Context, accessToken, signature string) (*upstream.Member, error)

	// Ref tracking and throttling are skipped when nil.
	IssueRef        func(ctx context.Context, sessionID, ref string, ttl time.Duration) error
	ConsumeRef      func(ctx context.Context, sessionID, ref string) error
	IsRefConsumed   func(error) bool
	CheckRate       func(ctx context.Context, sessionID, ip string) error
	IncrementRate   func(ctx context.Context, sessionID, ip string) error
	IsRateLimited   func(error) bool
	ClientIPFromCtx func(context.Context) string

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics MFAMetrics
	Events  MFAEvents
	Errors  MFAErrors
}

func (d *MFADeps) defaults() {
	if d.MetricInc == nil {
		d.MetricInc = noopMetric
	}
	if d.EmitAudit == nil {
		d.EmitAudit = noopAudit
	}
	if d.ClientIPFromCtx == nil {
		d.ClientIPFromCtx = func(context.Context) string { return "" }
	}
	if d.IsRefConsumed == nil {
		d.IsRefConsumed = func(error) bool { return false }
	}
	if d.IsRateLimited == nil {
		d.IsRateLimited = func(error) bool { return false }
	}
}

// chargeChallenge rejects an exhausted budget without writing, then
// charges one send before it reaches upstream. Sends the carrier rejects
// are charged too. The increment is authoritative when concurrent sends
// pass CheckRate together.
func (d *MFADeps) chargeChallenge(ctx context.Context, sessionID, ip string) error {
	if d.CheckRate != nil {
		if err := d.CheckRate(ctx, sessionID, ip); err != nil {
			return err
		}
	}
	if d.IncrementRate != nil {
		return d.IncrementRate(ctx, sessionID, ip)
	}
	return nil
}

// NormalizeChannel upper-cases channel and defaults it to EMAIL. ok is
// false for unknown channels.
func NormalizeChannel(channel string) (string, bool) {
	channel = strings.ToUpper(strings.TrimSpace(channel))
	switch channel {
	case "":
		return ChannelEmail, true
	case ChannelEmail, ChannelSMS:
		return channel, true
	default:
		return "", false
	}
}

// RunSendChallenge asks upstream to deliver a one-time code and returns
// the challenge ref. With a sessionID the ref is recorded as issued to it.
func RunSendChallenge(ctx context.Context, sessionID, accessToken, channel string, deps MFADeps) (string, error) {
	deps.defaults()
	if deps.SendChallenge == nil {
		return "", deps.Errors.EngineNotReady
	}
	if accessToken == "" {
		return "", upstream.Validation(upstream.OpMFAChallenge, "Missing access token", deps.Errors.MissingInput)
	}
	ch, ok := NormalizeChannel(channel)
	if !ok {
		return "", upstream.Validation(upstream.OpMFAChallenge, "Unsupported channel", deps.Errors.MissingInput)
	}

	ip := deps.ClientIPFromCtx(ctx)
	if err := deps.chargeChallenge(ctx, sessionID, ip); err != nil {
		if deps.IsRateLimited(err) {
			deps.MetricInc(deps.Metrics.RateLimitHit)
			deps.EmitAudit(ctx, deps.Events.RateLimited, false, sessionID, deps.Errors.RateLimited, nil)
			return "", deps.Errors.RateLimited
		}
		return "", err
	}

	ref, err := deps.SendChallenge(ctx, accessToken, ch)
	if err != nil {
		ue := upstream.Classify(upstream.OpMFAChallenge, err, deps.Errors.ChallengeFailed)
		deps.MetricInc(deps.Metrics.ChallengeFailure)
		deps.EmitAudit(ctx, deps.Events.ChallengeFailure, false, sessionID, deps.Errors.ChallengeFailed, func() map[string]string {
			return map[string]string{"channel": ch, "kind": ue.Kind.String()}
		})
		return "", ue
	}

	if sessionID != "" && deps.IssueRef != nil {
		if err := deps.IssueRef(ctx, sessionID, ref, deps.RefTTL); err != nil {
			return "", err
		}
	}

	deps.MetricInc(deps.Metrics.ChallengeSent)
	deps.EmitAudit(ctx, deps.Events.ChallengeSent, true, sessionID, nil, func() map[string]string {
		return map[string]string{"channel": ch}
	})
	return ref, nil
}

// RunVerifyCode submits code for ref and returns the MFA signature. With a
// sessionID the ref is consumed first, so each ref is submitted upstream
// at most once.
func RunVerifyCode(ctx context.Context, sessionID, accessToken, ref, code string, deps MFADeps) (string, error) {
	deps.defaults()
	if deps.ValidateCode == nil {
		return "", deps.Errors.EngineNotReady
	}
	code = strings.TrimSpace(code)
	if accessToken == "" || ref == "" || code == "" {
		return "", upstream.Validation(upstream.OpMFAVerify, "Missing code or ref", deps.Errors.MissingInput)
	}

	if sessionID != "" && deps.ConsumeRef != nil {
		if err := deps.ConsumeRef(ctx, sessionID, ref); err != nil {
			if deps.IsRefConsumed(err) {
				deps.MetricInc(deps.Metrics.ReplayRejected)
				deps.EmitAudit(ctx, deps.Events.ReplayRejected, false, sessionID, deps.Errors.ChallengeConsumed, nil)
				return "", deps.Errors.ChallengeConsumed
			}
			return "", err
		}
	}

	signature, err := deps.ValidateCode(ctx, accessToken, ref, code)
	if err != nil {
		ue := upstream.Classify(upstream.OpMFAVerify, err, deps.Errors.VerificationFailed)
		deps.MetricInc(deps.Metrics.VerifyFailure)
		deps.EmitAudit(ctx, deps.Events.VerifyFailure, false, sessionID, deps.Errors.VerificationFailed, func() map[string]string {
			return map[string]string{"kind": ue.Kind.String()}
		})
		return "", ue
	}

	deps.MetricInc(deps.Metrics.VerifySuccess)
	deps.EmitAudit(ctx, deps.Events.VerifySuccess, true, sessionID, nil, nil)
	return signature, nil
}

// RunMemberLookup resolves the member profile. signature may be empty.
func RunMemberLookup(ctx context.Context, sessionID, accessToken, signature string, deps MFADeps) (*upstream.Member, error) {
	deps.defaults()
	if deps.MemberProfile == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if accessToken == "" {
		return nil, upstream.Validation(upstream.OpMemberInfo, "Missing access token", deps.Errors.MissingInput)
	}

	member, err := deps.MemberProfile(ctx, accessToken, signature)
	if err != nil {
		ue := upstream.Classify(upstream.OpMemberInfo, err, deps.Errors.MemberLookupFailed)
		deps.MetricInc(deps.Metrics.MemberLookupFailure)
		deps.EmitAudit(ctx, deps.Events.MemberLookup, false, sessionID, deps.Errors.MemberLookupFailed, func() map[string]string {
			return map[string]string{"kind": ue.Kind.String()}
		})
		return nil, ue
	}
	return member, nil
}
