package models

import "time"

// CallStatus marks whether a metered provider call succeeded.
type CallStatus string

const (
	CallStatusOK    CallStatus = "ok"
	CallStatusError CallStatus = "error"
)

// ProviderCallDraft is the accounting record for one outbound call to a
// paid or metered provider. One record exists per call, success or
// failure; budget-enforcement collaborators consume these.
type ProviderCallDraft struct {
	ID                  string         `json:"id"`
	UserID              string         `json:"user_id"`
	Purpose             string         `json:"purpose"`
	Provider            string         `json:"provider"`
	Model               string         `json:"model"`
	InputTokens         *int           `json:"input_tokens,omitempty"`
	OutputTokens        *int           `json:"output_tokens,omitempty"`
	CostEstimateCredits *float64       `json:"cost_estimate_credits,omitempty"`
	CostEstimateUSD     *float64       `json:"cost_estimate_usd,omitempty"`
	Meta                map[string]any `json:"meta,omitempty"`
	StartedAt           time.Time      `json:"started_at"`
	EndedAt             time.Time      `json:"ended_at"`
	Status              CallStatus     `json:"status"`
	Error               string         `json:"error,omitempty"`
}

// Duration returns the wall-clock time the call took.
func (d ProviderCallDraft) Duration() time.Duration {
	return d.EndedAt.Sub(d.StartedAt)
}
