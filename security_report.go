package goGuard

import "github.com/MrEthical07/goGuard/internal/security"

type SecurityReport = security.Report

// SecurityReport describes the active configuration's security posture.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config

	policies := make([]security.PolicyInput, 0, len(cfg.RateLimit.Policies))
	for _, p := range cfg.RateLimit.Policies {
		policies = append(policies, security.PolicyInput{
			Name:     p.Name,
			Limit:    p.Limit,
			Window:   p.Window,
			FailOpen: p.FailOpen,
		})
	}

	return security.BuildReport(security.ReportInput{
		ProductionMode:   cfg.ProductionMode,
		SigningAlgorithm: cfg.JWT.SigningMethod,
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.Tokens.RefreshTTL,
		OTPHash: security.HashReport{
			Memory:      cfg.OTP.Hash.Memory,
			Time:        cfg.OTP.Hash.Time,
			Parallelism: cfg.OTP.Hash.Parallelism,
			SaltLength:  cfg.OTP.Hash.SaltLength,
			KeyLength:   cfg.OTP.Hash.KeyLength,
		},
		OTPCodeDigits:        cfg.OTP.CodeDigits,
		OTPMaxAttempts:       cfg.OTP.MaxAttempts,
		OTPLockout:           cfg.OTP.LockoutDuration,
		ResendCooldown:       cfg.OTP.ResendCooldown,
		PhoneHourlyLimit:     cfg.OTP.PhoneHourlyLimit,
		IPHourlyLimit:        cfg.OTP.IPHourlyLimit,
		Policies:             policies,
		IdempotencyRecordTTL: cfg.Idempotency.RecordTTL,
		AuditEnabled:         cfg.Audit.Enabled,
		AuditDropIfFull:      cfg.Audit.DropIfFull,
	})
}
