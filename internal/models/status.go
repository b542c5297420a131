package models

import "time"

type Status string

// Lab order lifecycle. The string values are persisted and must not change.
const (
	StatusOrdered              Status = "ORDERED"
	StatusPaymentPending       Status = "PAYMENT_PENDING"
	StatusPaymentCompleted     Status = "PAYMENT_COMPLETED"
	StatusSlotBooked           Status = "SLOT_BOOKED"
	StatusPhlebotomistAssigned Status = "PHLEBOTOMIST_ASSIGNED"
	StatusPhlebotomistEnRoute  Status = "PHLEBOTOMIST_EN_ROUTE"
	StatusSampleCollected      Status = "SAMPLE_COLLECTED"
	StatusCollectionFailed     Status = "COLLECTION_FAILED"
	StatusSampleInTransit      Status = "SAMPLE_IN_TRANSIT"
	StatusDeliveredToLab       Status = "DELIVERED_TO_LAB"
	StatusSampleReceived       Status = "SAMPLE_RECEIVED"
	StatusSampleIssue          Status = "SAMPLE_ISSUE"
	StatusProcessing           Status = "PROCESSING"
	StatusResultsPartial       Status = "RESULTS_PARTIAL"
	StatusResultsReady         Status = "RESULTS_READY"
	StatusResultsUploaded      Status = "RESULTS_UPLOADED"
	StatusDoctorReviewed       Status = "DOCTOR_REVIEWED"
	StatusClosed               Status = "CLOSED"
	StatusCancelled            Status = "CANCELLED"
	StatusExpired              Status = "EXPIRED"
)

// Consultation lifecycle. CANCELLED and EXPIRED are shared with lab orders.
const (
	StatusPendingAssignment Status = "PENDING_ASSIGNMENT"
	StatusDoctorAssigned    Status = "DOCTOR_ASSIGNED"
	StatusInConsultation    Status = "IN_CONSULTATION"
	StatusCompleted         Status = "COMPLETED"
)

type Kind string

const (
	KindLabOrder     Kind = "LAB_ORDER"
	KindConsultation Kind = "CONSULTATION"
)

type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

type Role string

const (
	RoleDoctor       Role = "DOCTOR"
	RolePhlebotomist Role = "PHLEBOTOMIST"
	RolePartnerLab   Role = "PARTNER_LAB"
	RoleOperator     Role = "OPERATOR"
	RolePatient      Role = "PATIENT"
)

// WorkerRole returns the role of worker that serves items of kind k.
func (k Kind) WorkerRole() Role {
	if k == KindConsultation {
		return RoleDoctor
	}
	return RolePhlebotomist
}

// MaxBounces bounds the number of breach-driven reassignments of one item.
const MaxBounces = 3

// Assignment SLA windows by risk tier.
const (
	SLALow    = 4 * time.Hour
	SLAMedium = 2 * time.Hour
	SLAHigh   = 1 * time.Hour
)

// Lab SLA constants.
const (
	LabResultTurnaround    = 48 * time.Hour
	LabEscalationThreshold = 72 * time.Hour
	LabCriticalAckWindow   = 1 * time.Hour
)

// DefaultSLAWindows returns a fresh copy of the assignment SLA table.
func DefaultSLAWindows() map[RiskTier]time.Duration {
	return map[RiskTier]time.Duration{
		RiskLow:    SLALow,
		RiskMedium: SLAMedium,
		RiskHigh:   SLAHigh,
	}
}
