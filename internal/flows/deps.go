package flows

import "context"

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Auth      AuthDeps
	MFA       MFADeps
	Provision ProvisionDeps
}

// AuditFunc emits one audit event. sessionID may be empty for stateless
// gateway calls.
type AuditFunc func(ctx context.Context, eventType string, success bool, sessionID string, err error, metadata func() map[string]string)

func noopMetric(int) {}

func noopAudit(context.Context, string, bool, string, error, func() map[string]string) {}
