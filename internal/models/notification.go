package models

import "time"

type Channel string

const (
	ChannelPush     Channel = "PUSH"
	ChannelSMS      Channel = "SMS"
	ChannelEmail    Channel = "EMAIL"
	ChannelWhatsApp Channel = "WHATSAPP"
)

// Notification event types.
const (
	EventAssignmentNew          = "assignment.new"
	EventAssignmentRevoked      = "assignment.revoked"
	EventAssignmentCancelled    = "assignment.cancelled"
	EventNoEligibleWorker       = "assignment.no_eligible"
	EventHighRiskNonSenior      = "assignment.high_risk_non_senior"
	EventSLABreach              = "sla.breach"
	EventSLAMaxBounces          = "sla.max_bounces"
	EventSLAUnresolved          = "sla.unresolved"
	EventFastingViolation       = "collection.fasting_violation"
	EventTubeCountMismatch      = "collection.tube_mismatch"
	EventCollectionAttempts     = "collection.attempts_exceeded"
	EventSampleIssue            = "collection.sample_issue"
	EventCriticalResult         = "lab.critical_result"
	EventLabTurnaroundBreach    = "lab.turnaround_breach"
	EventCriticalUnacknowledged = "lab.critical_unacknowledged"
)

// Notification is a message for one recipient. Delivery is best effort.
type Notification struct {
	ID          string                 `json:"id"`
	RecipientID string                 `json:"recipient_id"`
	Role        Role                   `json:"role"`
	Channel     Channel                `json:"channel"`
	EventType   string                 `json:"event_type"`
	ItemID      string                 `json:"item_id,omitempty"`
	Urgent      bool                   `json:"urgent"`
	Title       string                 `json:"title"`
	Body        string                 `json:"body"`
	Data        map[string]interface{} `json:"data,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
