package appointments

import "time"

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusRequested Status = "requested"
	StatusConfirmed Status = "confirmed"
	StatusCanceled  Status = "canceled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

// Terminal reports whether the appointment can no longer change via replies.
func (s Status) Terminal() bool {
	switch s {
	case StatusCanceled, StatusCompleted, StatusNoShow:
		return true
	default:
		return false
	}
}

// Appointment is a scheduled on-site visit.
type Appointment struct {
	ID              string
	LeadID          string
	ContactID       string
	StartAt         time.Time
	Status          Status
	RescheduleToken string
	CalendarEventID string
}
