package appointments

import (
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/haulops-crm/internal/messaging/compliance"
)

// ErrInvalidTransition is returned when a reply intent cannot move an
// appointment out of its current state.
var ErrInvalidTransition = errors.New("appointments: invalid transition")

const (
	windowSlack         = 12 * time.Hour
	defaultWindowLength = 24 * time.Hour
)

// Transition applies a confirmation-loop intent to the current status.
//
//	requested|confirmed + confirm -> confirmed
//	requested|confirmed + decline -> requested
//
// Terminal states and unknown intents are rejected.
func Transition(current Status, intent compliance.Intent) (Status, error) {
	if current.Terminal() {
		return current, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, current)
	}
	if current != StatusRequested && current != StatusConfirmed {
		return current, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, current)
	}
	switch intent {
	case compliance.IntentConfirm:
		return StatusConfirmed, nil
	case compliance.IntentDecline:
		return StatusRequested, nil
	default:
		return current, fmt.Errorf("%w: no intent", ErrInvalidTransition)
	}
}

// ConfirmationWindow bounds the appointment start times a reply received at
// now may refer to: [now-12h, now+maxWindow+12h]. A non-positive maxWindow
// falls back to 24h.
func ConfirmationWindow(now time.Time, maxWindow time.Duration) (time.Time, time.Time) {
	if maxWindow <= 0 {
		maxWindow = defaultWindowLength
	}
	return now.Add(-windowSlack), now.Add(maxWindow + windowSlack)
}

// InWindow reports whether the appointment may be acted on by a reply at now.
func (a Appointment) InWindow(now time.Time, maxWindow time.Duration) bool {
	from, to := ConfirmationWindow(now, maxWindow)
	return !a.StartAt.Before(from) && !a.StartAt.After(to)
}
