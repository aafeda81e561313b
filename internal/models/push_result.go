package models

import (
	"encoding/json"
	"fmt"
)

// DeliveryOutcome captures the delivery result for one recipient.
type DeliveryOutcome struct {
	Recipient Recipient       `json:"recipient"`
	Success   bool            `json:"success"`
	MessageID string          `json:"message_id,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Response  json.RawMessage `json:"-"`
}

// AggregateResult is the outcome of one dispatch across all recipients.
type AggregateResult struct {
	DispatchID string            `json:"dispatch_id"`
	Success    bool              `json:"success"`
	Delivered  int               `json:"delivered"`
	Failed     int               `json:"failed"`
	Outcomes   []DeliveryOutcome `json:"outcomes"`
	Summary    string            `json:"summary"`
}

// SummaryNoRecipients is reported when no admin has a delivery address on file.
const SummaryNoRecipients = "no recipients registered"

// Aggregate folds per-recipient outcomes into a result. An empty slice is
// never successful.
func Aggregate(dispatchID string, outcomes []DeliveryOutcome) AggregateResult {
	res := AggregateResult{
		DispatchID: dispatchID,
		Outcomes:   outcomes,
	}
	for _, o := range outcomes {
		if o.Success {
			res.Delivered++
		} else {
			res.Failed++
		}
	}
	if len(outcomes) == 0 {
		res.Summary = SummaryNoRecipients
		return res
	}
	res.Success = res.Failed == 0
	res.Summary = fmt.Sprintf("%t: %d delivered, %d failed", res.Success, res.Delivered, res.Failed)
	return res
}
