package security

import (
	"sort"
	"time"
)

type HashReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type PolicyInput struct {
	Name     string
	Limit    int
	Window   time.Duration
	FailOpen bool
}

// Report summarizes the security posture of a configuration.
type Report struct {
	ProductionMode       bool
	SigningAlgorithm     string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	OTPHash              HashReport
	OTPCodeDigits        int
	OTPMaxAttempts       int
	OTPLockout           time.Duration
	OTPThrottlesActive   bool
	FailOpenPolicies     []string
	FailClosedPolicies   []string
	IdempotencyRecordTTL time.Duration
	AuditEnabled         bool
	Warnings             []string
}

type ReportInput struct {
	ProductionMode       bool
	SigningAlgorithm     string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	OTPHash              HashReport
	OTPCodeDigits        int
	OTPMaxAttempts       int
	OTPLockout           time.Duration
	ResendCooldown       time.Duration
	PhoneHourlyLimit     int
	IPHourlyLimit        int
	Policies             []PolicyInput
	IdempotencyRecordTTL time.Duration
	AuditEnabled         bool
	AuditDropIfFull      bool
}

func BuildReport(input ReportInput) Report {
	r := Report{
		ProductionMode:       input.ProductionMode,
		SigningAlgorithm:     input.SigningAlgorithm,
		AccessTTL:            input.AccessTTL,
		RefreshTTL:           input.RefreshTTL,
		OTPHash:              input.OTPHash,
		OTPCodeDigits:        input.OTPCodeDigits,
		OTPMaxAttempts:       input.OTPMaxAttempts,
		OTPLockout:           input.OTPLockout,
		OTPThrottlesActive:   input.ResendCooldown > 0 && input.PhoneHourlyLimit > 0 && input.IPHourlyLimit > 0,
		IdempotencyRecordTTL: input.IdempotencyRecordTTL,
		AuditEnabled:         input.AuditEnabled,
	}

	for _, p := range input.Policies {
		if p.FailOpen {
			r.FailOpenPolicies = append(r.FailOpenPolicies, p.Name)
		} else {
			r.FailClosedPolicies = append(r.FailClosedPolicies, p.Name)
		}
	}
	sort.Strings(r.FailOpenPolicies)
	sort.Strings(r.FailClosedPolicies)

	if !r.OTPThrottlesActive {
		r.Warnings = append(r.Warnings, "one or more OTP send throttles are disabled")
	}
	if input.OTPMaxAttempts > 5 {
		r.Warnings = append(r.Warnings, "OTP attempt cap above 5")
	}
	if input.AccessTTL > 15*time.Minute {
		r.Warnings = append(r.Warnings, "access tokens outlive 15 minutes")
	}
	if !input.AuditEnabled {
		r.Warnings = append(r.Warnings, "security events are stored but not published")
	} else if input.AuditDropIfFull {
		r.Warnings = append(r.Warnings, "security event publishing drops when the buffer is full")
	}
	for _, p := range input.Policies {
		if p.FailOpen && (p.Name == "strict" || p.Name == "otp_send" || p.Name == "otp_verify" || p.Name == "token_refresh") {
			r.Warnings = append(r.Warnings, "credential policy "+p.Name+" fails open")
		}
	}

	return r
}
