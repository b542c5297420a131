// Package workflow holds the compiled-in lifecycle graphs for work items.
package workflow

import "care-dispatch/internal/models"

// Table is a directed graph of allowed status transitions. Cycles such as
// COLLECTION_FAILED -> PHLEBOTOMIST_ASSIGNED are ordinary edges.
type Table map[models.Status][]models.Status

var labOrderTable = Table{
	models.StatusOrdered:              {models.StatusPaymentPending, models.StatusCancelled},
	models.StatusPaymentPending:       {models.StatusPaymentCompleted, models.StatusCancelled, models.StatusExpired},
	models.StatusPaymentCompleted:     {models.StatusSlotBooked, models.StatusCancelled},
	models.StatusSlotBooked:           {models.StatusPhlebotomistAssigned, models.StatusCancelled, models.StatusExpired},
	models.StatusPhlebotomistAssigned: {models.StatusPhlebotomistEnRoute, models.StatusCancelled},
	models.StatusPhlebotomistEnRoute:  {models.StatusSampleCollected, models.StatusCollectionFailed},
	models.StatusCollectionFailed:     {models.StatusPhlebotomistAssigned, models.StatusCancelled},
	models.StatusSampleCollected:      {models.StatusSampleInTransit},
	models.StatusSampleInTransit:      {models.StatusDeliveredToLab},
	models.StatusDeliveredToLab:       {models.StatusSampleReceived, models.StatusSampleIssue},
	models.StatusSampleReceived:       {models.StatusProcessing, models.StatusSampleIssue},
	models.StatusSampleIssue:          {models.StatusSlotBooked, models.StatusCancelled},
	models.StatusProcessing:           {models.StatusResultsPartial, models.StatusResultsReady},
	models.StatusResultsPartial:       {models.StatusResultsReady},
	models.StatusResultsReady:         {models.StatusResultsUploaded},
	models.StatusResultsUploaded:      {models.StatusDoctorReviewed, models.StatusClosed},
	models.StatusDoctorReviewed:       {models.StatusClosed},
	models.StatusClosed:               {},
	models.StatusCancelled:            {},
	models.StatusExpired:              {},
}

var consultationTable = Table{
	models.StatusPendingAssignment: {models.StatusDoctorAssigned, models.StatusCancelled, models.StatusExpired},
	models.StatusDoctorAssigned:    {models.StatusInConsultation, models.StatusCancelled},
	models.StatusInConsultation:    {models.StatusCompleted},
	models.StatusCompleted:         {},
	models.StatusCancelled:         {},
	models.StatusExpired:           {},
}

var timestampFields = map[models.Status]string{
	models.StatusPaymentPending:       models.FieldPaymentPendingAt,
	models.StatusPaymentCompleted:     models.FieldPaidAt,
	models.StatusSlotBooked:           models.FieldSlotBookedAt,
	models.StatusPhlebotomistAssigned: models.FieldAssignedAt,
	models.StatusPhlebotomistEnRoute:  models.FieldEnRouteAt,
	models.StatusSampleCollected:      models.FieldCollectedAt,
	models.StatusCollectionFailed:     models.FieldCollectionFailedAt,
	models.StatusSampleInTransit:      models.FieldInTransitAt,
	models.StatusDeliveredToLab:       models.FieldDeliveredAt,
	models.StatusSampleReceived:       models.FieldReceivedAt,
	models.StatusSampleIssue:          models.FieldSampleIssueAt,
	models.StatusProcessing:           models.FieldProcessingAt,
	models.StatusResultsPartial:       models.FieldResultsPartialAt,
	models.StatusResultsReady:         models.FieldResultsReadyAt,
	models.StatusResultsUploaded:      models.FieldResultsUploadedAt,
	models.StatusDoctorReviewed:       models.FieldReviewedAt,
	models.StatusClosed:               models.FieldClosedAt,
	models.StatusCancelled:            models.FieldCancelledAt,
	models.StatusExpired:              models.FieldExpiredAt,
	models.StatusDoctorAssigned:       models.FieldAssignedAt,
	models.StatusInConsultation:       models.FieldStartedAt,
	models.StatusCompleted:            models.FieldCompletedAt,
}

// TableFor returns the lifecycle graph for kind, or nil for an unknown kind.
func TableFor(kind models.Kind) Table {
	switch kind {
	case models.KindLabOrder:
		return labOrderTable
	case models.KindConsultation:
		return consultationTable
	}
	return nil
}

// IsValidTransition reports whether from -> to is an edge of kind's lifecycle.
// Unknown kinds and statuses yield false.
func IsValidTransition(kind models.Kind, from, to models.Status) bool {
	for _, next := range TableFor(kind)[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns a copy of the statuses reachable from status in one step.
func Next(kind models.Kind, status models.Status) []models.Status {
	return append([]models.Status(nil), TableFor(kind)[status]...)
}

// IsTerminal reports whether status is a known status with no outgoing edges.
func IsTerminal(kind models.Kind, status models.Status) bool {
	next, ok := TableFor(kind)[status]
	return ok && len(next) == 0
}

// TimestampField names the milestone stamped on entering status ("" if none).
func TimestampField(status models.Status) string {
	return timestampFields[status]
}

// AssignedStatus is the status an item enters when a worker takes it. It is
// also the status in which the worker's SLA deadline runs.
func AssignedStatus(kind models.Kind) models.Status {
	if kind == models.KindConsultation {
		return models.StatusDoctorAssigned
	}
	return models.StatusPhlebotomistAssigned
}

// AssignableFrom lists the pre-assignment statuses an item may be placed from.
func AssignableFrom(kind models.Kind) []models.Status {
	if kind == models.KindConsultation {
		return []models.Status{models.StatusPendingAssignment}
	}
	return []models.Status{models.StatusSlotBooked, models.StatusCollectionFailed}
}

// IsAssignable reports whether an item in status may be handed to a worker.
func IsAssignable(kind models.Kind, status models.Status) bool {
	for _, s := range AssignableFrom(kind) {
		if s == status {
			return true
		}
	}
	return false
}

var openStatuses = map[models.Status]bool{
	models.StatusPhlebotomistAssigned: true,
	models.StatusPhlebotomistEnRoute:  true,
	models.StatusDoctorAssigned:       true,
	models.StatusInConsultation:       true,
}

// HoldsRosterSlot reports whether an item in status still occupies its
// worker's daily booking.
func HoldsRosterSlot(status models.Status) bool {
	return openStatuses[status]
}

// OpenStatuses lists the statuses counted as a worker's open assignments.
func OpenStatuses() []models.Status {
	return []models.Status{
		models.StatusPhlebotomistAssigned,
		models.StatusPhlebotomistEnRoute,
		models.StatusDoctorAssigned,
		models.StatusInConsultation,
	}
}

// AwaitingStatuses lists, across kinds, the statuses watched for SLA breaches.
func AwaitingStatuses() []models.Status {
	return []models.Status{
		AssignedStatus(models.KindLabOrder),
		AssignedStatus(models.KindConsultation),
	}
}
