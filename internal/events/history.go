package events

import "context"

// Recorder persists events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// HistorySink stores session events, skipping notify-mode detections.
type HistorySink struct {
	store Recorder
}

func NewHistorySink(store Recorder) *HistorySink {
	return &HistorySink{store: store}
}

func (h *HistorySink) Name() string { return "history" }

func (h *HistorySink) Handle(ctx context.Context, ev Event) error {
	if ev.SessionID == "" {
		return nil
	}
	return h.store.Record(ctx, ev)
}
