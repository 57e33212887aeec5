package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/esimflow/internal/upstream"
)

// Saga step names, in execution order.
const (
	StepReserve       = "reserve"
	StepSwap          = "swap"
	StepDownloadToken = "download_token"
)

// Artifact is the output of a completed provisioning run.
type Artifact struct {
	ActivationCode string `json:"activationCode"`
	SSN            string `json:"ssn"`
	LPAString      string `json:"lpaString"`
	DownloadID     string `json:"downloadId,omitempty"`
	Host           string `json:"host,omitempty"`
	MatchingID     string `json:"matchingId,omitempty"`
}

// ProvisionMetrics carries metric IDs needed by the provisioning flow.
type ProvisionMetrics struct {
	Started int
	Success int
	Failure int
}

// ProvisionEvents carries audit event names used by the provisioning flow.
type ProvisionEvents struct {
	Success string
	Failure string
}

// ProvisionErrors carries host-level sentinel errors used by the
// provisioning flow.
type ProvisionErrors struct {
	EngineNotReady     error
	MissingInput       error
	ProvisioningFailed error
}

// ProvisionDeps captures the three saga steps.
type ProvisionDeps struct {
	ReserveESim   func(ctx context.Context, accessToken, signature, memberID string) (*upstream.Reservation, error)
	SwapSim       func(ctx context.Context, accessToken, signature, activationCode string) (*upstream.SwapResult, error)
	DownloadToken func(ctx context.Context, accessToken, signature, ssn string) (*upstream.DownloadToken, error)

	// BeforeStep runs before each step. An error aborts the run as is,
	// without classifying it as a step failure.
	BeforeStep func(ctx context.Context, sessionID, step string) error
	// OnStep is called after each step completes successfully.
	OnStep func(step string)
	// StepTimeout bounds each step. Zero means only ctx bounds it.
	StepTimeout time.Duration

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics ProvisionMetrics
	Events  ProvisionEvents
	Errors  ProvisionErrors
}

// RunProvision executes reserve, swap and download-token in order and
// stops at the first failure. Nothing is compensated; a returned error is
// an *upstream.Error whose Step names the failing step. The artifact is
// returned only when all three steps succeeded.
func RunProvision(ctx context.Context, sessionID, accessToken, signature, memberID string, deps ProvisionDeps) (*Artifact, error) {
	if deps.ReserveESim == nil || deps.SwapSim == nil || deps.DownloadToken == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.OnStep == nil {
		deps.OnStep = func(string) {}
	}
	if deps.BeforeStep == nil {
		deps.BeforeStep = func(context.Context, string, string) error { return nil }
	}
	if accessToken == "" || signature == "" || memberID == "" {
		return nil, upstream.Validation(upstream.OpReserveESim, "Missing access token, MFA signature or member id", deps.Errors.MissingInput)
	}

	deps.MetricInc(deps.Metrics.Started)

	fail := func(op, step string, err error) error {
		ue := upstream.Classify(op, err, deps.Errors.ProvisioningFailed).WithStep(step)
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, sessionID, deps.Errors.ProvisioningFailed, func() map[string]string {
			return map[string]string{
				"step":   step,
				"kind":   ue.Kind.String(),
				"member": memberID,
			}
		})
		return ue
	}

	if err := deps.BeforeStep(ctx, sessionID, StepReserve); err != nil {
		return nil, err
	}
	stepCtx, cancel := deps.stepContext(ctx)
	reservation, err := deps.ReserveESim(stepCtx, accessToken, signature, memberID)
	cancel()
	if err != nil {
		return nil, fail(upstream.OpReserveESim, StepReserve, err)
	}
	deps.OnStep(StepReserve)

	if err := deps.BeforeStep(ctx, sessionID, StepSwap); err != nil {
		return nil, err
	}
	stepCtx, cancel = deps.stepContext(ctx)
	_, err = deps.SwapSim(stepCtx, accessToken, signature, reservation.ActivationCode)
	cancel()
	if err != nil {
		return nil, fail(upstream.OpSwapSim, StepSwap, err)
	}
	deps.OnStep(StepSwap)

	if err := deps.BeforeStep(ctx, sessionID, StepDownloadToken); err != nil {
		return nil, err
	}
	stepCtx, cancel = deps.stepContext(ctx)
	token, err := deps.DownloadToken(stepCtx, accessToken, signature, reservation.SSN)
	cancel()
	if err != nil {
		return nil, fail(upstream.OpDownloadToken, StepDownloadToken, err)
	}
	deps.OnStep(StepDownloadToken)

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, sessionID, nil, func() map[string]string {
		return map[string]string{"member": memberID}
	})

	return &Artifact{
		ActivationCode: reservation.ActivationCode,
		SSN:            reservation.SSN,
		LPAString:      token.LPAString,
		DownloadID:     token.ID,
		Host:           token.Host,
		MatchingID:     token.MatchingID,
	}, nil
}

func (d ProvisionDeps) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.StepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.StepTimeout)
}
