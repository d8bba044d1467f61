package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors journal events into an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter. A nil logger uses slog.Default().
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("run", event.RunID),
		slog.String("category", event.Category.String()),
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device", event.DeviceID))
	}
	if event.StepIndex >= 0 {
		attrs = append(attrs, slog.Int("step", event.StepIndex))
	}

	switch {
	case event.Run != nil:
		attrs = append(attrs, slog.String("phase", event.Run.Phase.String()))
		if event.Run.Execution != "" {
			attrs = append(attrs, slog.String("execution", event.Run.Execution))
		}
		if event.Run.Status != "" {
			attrs = append(attrs, slog.String("status", event.Run.Status))
		}
		if event.Run.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.Run.Reason))
		}
		if len(event.Run.Excluded) > 0 {
			attrs = append(attrs, slog.Any("excluded", event.Run.Excluded))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Mode != nil:
		attrs = append(attrs,
			slog.String("mode", event.Mode.Mode.Mode().Key()),
			slog.String("result", event.Mode.Result.String()),
			slog.Duration("duration", event.Mode.Duration),
		)
		if event.Mode.Error != "" {
			attrs = append(attrs, slog.String("error", event.Mode.Error))
		}
	case event.Measurement != nil:
		attrs = append(attrs, slog.String("mode", event.Measurement.Mode.Mode().Key()))
		if event.Measurement.Failed {
			attrs = append(attrs,
				slog.String("kind", event.Measurement.Kind),
				slog.String("failure", event.Measurement.Failure),
			)
		} else {
			attrs = append(attrs, slog.Float64("mbps", event.Measurement.Mbps))
		}
		if event.Measurement.Port != 0 {
			attrs = append(attrs, slog.Int("port", event.Measurement.Port))
		}
	case event.Exclusion != nil:
		attrs = append(attrs,
			slog.Int("failures", event.Exclusion.Failures),
			slog.String("reason", event.Exclusion.Reason),
		)
	case event.Error != nil:
		attrs = append(attrs, slog.String("error", event.Error.Message))
		if event.Error.Kind != "" {
			attrs = append(attrs, slog.String("kind", event.Error.Kind))
		}
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "journal", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
