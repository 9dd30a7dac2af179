package checkers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ridgeline-ai/gatehouse/policy"
	"github.com/ridgeline-ai/gatehouse/safety"
)

// Pre-compiled secret patterns. A hit is an overridable failure.
var secretPatterns = []struct {
	re     *regexp.Regexp
	detail string
}{
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), "AWS access key id"},
	{regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`), "private key"},
	{regexp.MustCompile(`(?i)\b(password|passwd|secret|api_key|apikey|access_token)\s*[=:]\s*\S+`), "credential assignment"},
	{regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-._~+/]{20,}`), "bearer token"},
	{regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`), "GitHub token"},
}

// Pre-compiled PII patterns. A hit is a warning.
var piiPatterns = []struct {
	re     *regexp.Regexp
	detail string
}{
	{regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`), "SSN"},
	{regexp.MustCompile(`\b4\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "credit card (Visa)"},
	{regexp.MustCompile(`\b5[1-5]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "credit card (Mastercard)"},
	{regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`), "email address"},
	{regexp.MustCompile(`\b\d{3}[-\s.]\d{3}[-\s.]\d{4}\b`), "phone number"},
}

// SensitiveDataChecker scans string parameter values for secrets and PII.
type SensitiveDataChecker struct{}

func NewSensitiveDataChecker(_ map[string]any) (*SensitiveDataChecker, error) {
	return &SensitiveDataChecker{}, nil
}

func (c *SensitiveDataChecker) Name() string { return "sensitive_data" }

func (c *SensitiveDataChecker) Check(ctx context.Context, call *policy.ToolCall) (*safety.Result, error) {
	var secrets, pii []string
	for key, v := range call.Parameters {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		for _, p := range secretPatterns {
			if p.re.MatchString(s) {
				secrets = append(secrets, fmt.Sprintf("%s in parameter %q", p.detail, key))
			}
		}
		for _, p := range piiPatterns {
			if p.re.MatchString(s) {
				pii = append(pii, fmt.Sprintf("%s in parameter %q", p.detail, key))
			}
		}
	}

	switch {
	case len(secrets) > 0:
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusFailed,
			Message:     "secrets detected: " + strings.Join(secrets, "; "),
			Risk:        policy.RiskHigh,
			CanOverride: true,
			Suggestions: []string{"redact the secret or pass it through a secret manager"},
		}, nil
	case len(pii) > 0:
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusWarning,
			Message:     "PII detected: " + strings.Join(pii, "; "),
			Risk:        policy.RiskMedium,
			CanOverride: true,
		}, nil
	default:
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusPassed,
			Message:     "no sensitive data detected",
			Risk:        policy.RiskNone,
		}, nil
	}
}
