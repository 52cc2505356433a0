package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.OTP.Challenges != nil && s.deps.Tokens.Tokens != nil
}

func (s Service) SendOTP(ctx context.Context, in OTPSendInput) OTPSendResult {
	return RunSendOTP(ctx, in, s.deps.OTP)
}

func (s Service) VerifyOTP(ctx context.Context, in OTPVerifyInput) OTPVerifyResult {
	return RunVerifyOTP(ctx, in, s.deps.OTP)
}

func (s Service) Issue(ctx context.Context, userID string, client ClientInfo) IssueResult {
	return RunIssue(ctx, userID, client, s.deps.Tokens)
}

func (s Service) Rotate(ctx context.Context, presented string, client ClientInfo) RotateResult {
	return RunRotate(ctx, presented, client, s.deps.Tokens)
}

func (s Service) Revoke(ctx context.Context, presented, reason string) RevokeResult {
	return RunRevoke(ctx, presented, reason, s.deps.Tokens)
}

func (s Service) RevokeAll(ctx context.Context, userID, reason string) (int64, error) {
	return RunRevokeAll(ctx, userID, reason, s.deps.Tokens)
}
