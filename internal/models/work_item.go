package models

import "time"

// Timestamp field names stamped by lifecycle transitions.
const (
	FieldPaymentPendingAt   = "payment_pending_at"
	FieldPaidAt             = "paid_at"
	FieldSlotBookedAt       = "slot_booked_at"
	FieldAssignedAt         = "assigned_at"
	FieldEnRouteAt          = "en_route_at"
	FieldCollectedAt        = "collected_at"
	FieldCollectionFailedAt = "collection_failed_at"
	FieldInTransitAt        = "in_transit_at"
	FieldDeliveredAt        = "delivered_at"
	FieldReceivedAt         = "received_at"
	FieldSampleIssueAt      = "sample_issue_at"
	FieldProcessingAt       = "processing_at"
	FieldResultsPartialAt   = "results_partial_at"
	FieldResultsReadyAt     = "results_ready_at"
	FieldResultsUploadedAt  = "results_uploaded_at"
	FieldReviewedAt         = "reviewed_at"
	FieldClosedAt           = "closed_at"
	FieldCancelledAt        = "cancelled_at"
	FieldExpiredAt          = "expired_at"
	FieldStartedAt          = "started_at"
	FieldCompletedAt        = "completed_at"
)

type WorkItem struct {
	ID                 string     `json:"id"`
	Kind               Kind       `json:"kind"`
	Status             Status     `json:"status"`
	RiskTier           RiskTier   `json:"risk_tier"`
	RequiredSkill      string     `json:"required_skill,omitempty"`
	Area               string     `json:"area,omitempty"`
	RequestedBy        string     `json:"requested_by,omitempty"`
	LabID              string     `json:"lab_id,omitempty"`
	FastingRequired    bool       `json:"fasting_required"`
	AssignedWorkerID   string     `json:"assigned_worker_id,omitempty"`
	PreviousWorkerIDs  []string   `json:"previous_worker_ids"`
	Deadline           *time.Time `json:"deadline,omitempty"`
	CollectionAttempts int        `json:"collection_attempts"`
	CollectedTubeCount int        `json:"collected_tube_count"`
	ReceivedTubeCount  int        `json:"received_tube_count"`
	FastingViolation   bool       `json:"fasting_violation"`
	TubeCountMismatch  bool       `json:"tube_count_mismatch"`
	FailureReason      string     `json:"failure_reason,omitempty"`
	IssueReason        string     `json:"issue_reason,omitempty"`
	CancelReason       string     `json:"cancel_reason,omitempty"`
	CriticalValue      bool       `json:"critical_value"`
	CriticalAckAt      *time.Time `json:"critical_ack_at,omitempty"`
	ResultsDueAt       *time.Time `json:"results_due_at,omitempty"`
	TurnaroundAlerted  bool       `json:"turnaround_alerted"`
	CriticalAlerted    bool       `json:"critical_alerted"`
	MaxBouncesAlerted  bool       `json:"max_bounces_alerted"`
	Milestones         Milestones `json:"milestones"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Milestones holds one timestamp per lifecycle stage, keyed by the Field* names.
type Milestones struct {
	PaymentPendingAt   *time.Time `json:"payment_pending_at,omitempty"`
	PaidAt             *time.Time `json:"paid_at,omitempty"`
	SlotBookedAt       *time.Time `json:"slot_booked_at,omitempty"`
	AssignedAt         *time.Time `json:"assigned_at,omitempty"`
	EnRouteAt          *time.Time `json:"en_route_at,omitempty"`
	CollectedAt        *time.Time `json:"collected_at,omitempty"`
	CollectionFailedAt *time.Time `json:"collection_failed_at,omitempty"`
	InTransitAt        *time.Time `json:"in_transit_at,omitempty"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
	ReceivedAt         *time.Time `json:"received_at,omitempty"`
	SampleIssueAt      *time.Time `json:"sample_issue_at,omitempty"`
	ProcessingAt       *time.Time `json:"processing_at,omitempty"`
	ResultsPartialAt   *time.Time `json:"results_partial_at,omitempty"`
	ResultsReadyAt     *time.Time `json:"results_ready_at,omitempty"`
	ResultsUploadedAt  *time.Time `json:"results_uploaded_at,omitempty"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	ExpiredAt          *time.Time `json:"expired_at,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

func (m *Milestones) slot(field string) **time.Time {
	switch field {
	case FieldPaymentPendingAt:
		return &m.PaymentPendingAt
	case FieldPaidAt:
		return &m.PaidAt
	case FieldSlotBookedAt:
		return &m.SlotBookedAt
	case FieldAssignedAt:
		return &m.AssignedAt
	case FieldEnRouteAt:
		return &m.EnRouteAt
	case FieldCollectedAt:
		return &m.CollectedAt
	case FieldCollectionFailedAt:
		return &m.CollectionFailedAt
	case FieldInTransitAt:
		return &m.InTransitAt
	case FieldDeliveredAt:
		return &m.DeliveredAt
	case FieldReceivedAt:
		return &m.ReceivedAt
	case FieldSampleIssueAt:
		return &m.SampleIssueAt
	case FieldProcessingAt:
		return &m.ProcessingAt
	case FieldResultsPartialAt:
		return &m.ResultsPartialAt
	case FieldResultsReadyAt:
		return &m.ResultsReadyAt
	case FieldResultsUploadedAt:
		return &m.ResultsUploadedAt
	case FieldReviewedAt:
		return &m.ReviewedAt
	case FieldClosedAt:
		return &m.ClosedAt
	case FieldCancelledAt:
		return &m.CancelledAt
	case FieldExpiredAt:
		return &m.ExpiredAt
	case FieldStartedAt:
		return &m.StartedAt
	case FieldCompletedAt:
		return &m.CompletedAt
	}
	return nil
}

// Set stamps field with t. It reports false for an unknown field.
func (m *Milestones) Set(field string, t time.Time) bool {
	p := m.slot(field)
	if p == nil {
		return false
	}
	*p = &t
	return true
}

// Get returns the timestamp for field, or nil if unset or unknown.
func (m *Milestones) Get(field string) *time.Time {
	p := m.slot(field)
	if p == nil {
		return nil
	}
	return *p
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	c := *w
	c.PreviousWorkerIDs = append([]string(nil), w.PreviousWorkerIDs...)
	c.Deadline = cloneTime(w.Deadline)
	c.CriticalAckAt = cloneTime(w.CriticalAckAt)
	c.ResultsDueAt = cloneTime(w.ResultsDueAt)
	c.Milestones = w.Milestones.clone()
	return &c
}

func (m Milestones) clone() Milestones {
	out := Milestones{}
	for _, f := range AllMilestoneFields {
		if t := m.Get(f); t != nil {
			out.Set(f, *t)
		}
	}
	return out
}

// AllMilestoneFields lists every Field* name.
var AllMilestoneFields = []string{
	FieldPaymentPendingAt, FieldPaidAt, FieldSlotBookedAt, FieldAssignedAt, FieldEnRouteAt,
	FieldCollectedAt, FieldCollectionFailedAt, FieldInTransitAt, FieldDeliveredAt, FieldReceivedAt,
	FieldSampleIssueAt, FieldProcessingAt, FieldResultsPartialAt, FieldResultsReadyAt,
	FieldResultsUploadedAt, FieldReviewedAt, FieldClosedAt, FieldCancelledAt, FieldExpiredAt,
	FieldStartedAt, FieldCompletedAt,
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
