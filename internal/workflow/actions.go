package workflow

import "care-dispatch/internal/models"

var actionNames = map[models.Status]string{
	models.StatusPaymentPending:       "request_payment",
	models.StatusPaymentCompleted:     "confirm_payment",
	models.StatusSlotBooked:           "book_slot",
	models.StatusPhlebotomistAssigned: "assign",
	models.StatusPhlebotomistEnRoute:  "start_route",
	models.StatusSampleCollected:      "mark_collected",
	models.StatusCollectionFailed:     "mark_failed",
	models.StatusSampleInTransit:      "start_transit",
	models.StatusDeliveredToLab:       "mark_delivered",
	models.StatusSampleReceived:       "mark_received",
	models.StatusSampleIssue:          "report_issue",
	models.StatusProcessing:           "start_processing",
	models.StatusResultsPartial:       "upload_partial_results",
	models.StatusResultsReady:         "mark_results_ready",
	models.StatusResultsUploaded:      "upload_results",
	models.StatusDoctorReviewed:       "review",
	models.StatusClosed:               "close",
	models.StatusCancelled:            "cancel",
	models.StatusExpired:              "expire",
	models.StatusDoctorAssigned:       "assign",
	models.StatusInConsultation:       "start_consultation",
	models.StatusCompleted:            "complete",
}

// AvailableActions names the actions that are legal from the item's current
// status. A failed collection offers "rebook" rather than "assign".
func AvailableActions(item *models.WorkItem) []string {
	if item == nil {
		return nil
	}
	next := TableFor(item.Kind)[item.Status]
	actions := make([]string, 0, len(next))
	for _, to := range next {
		name := actionNames[to]
		if item.Status == models.StatusCollectionFailed && to == models.StatusPhlebotomistAssigned {
			name = "rebook"
		}
		if item.Status == models.StatusSampleIssue && to == models.StatusSlotBooked {
			name = "rebook_collection"
		}
		if name != "" {
			actions = append(actions, name)
		}
	}
	if to := AssignedStatus(item.Kind); item.Status == to {
		actions = append(actions, "reassign")
	}
	return actions
}
