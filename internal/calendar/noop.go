package calendar

import "context"

// Noop is used when no Google credentials are configured. Deletes succeed so
// the decline flow is unaffected; resyncs report ErrNotConfigured.
type Noop struct{}

func (Noop) DeleteEvent(context.Context, string) error { return nil }

func (Noop) Resync(context.Context) error { return ErrNotConfigured }
