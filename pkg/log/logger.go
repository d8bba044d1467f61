package log

// Logger receives journal events. Pass NoopLogger to disable the journal.
type Logger interface {
	// Log records an event. Implementations must be safe for concurrent
	// use and must not block for long; parallel steps log from workers.
	Log(event Event)
}

// NoopLogger discards all events. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
