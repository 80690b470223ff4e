package serialmux

import (
	"context"
	"fmt"

	"github.com/banshee-data/standoff/internal/monitoring"
	"github.com/banshee-data/standoff/internal/perception"
)

// HandleEvent routes one sensor line into the inbox. Rejected readings are
// logged and returned; the inbox keeps its previous value.
func HandleEvent(inbox *perception.Inbox, payload string) error {
	switch ClassifyPayload(payload) {
	case EventTypeRange:
		r, err := ParseRange(payload)
		if err != nil {
			return fmt.Errorf("failed to parse range: %w", err)
		}
		if err := inbox.UpdateRange(r); err != nil {
			monitoring.Warnf("dropping range %v: %v", r, err)
			return err
		}
	case EventTypeTarget:
		obs, err := ParseTarget(payload)
		if err != nil {
			return fmt.Errorf("failed to parse target: %w", err)
		}
		if err := inbox.UpdateObservation(obs); err != nil {
			monitoring.Warnf("dropping observation %+v: %v", obs, err)
			return err
		}
	case EventTypeCommand:
		// echo of our own thruster output on a shared bus
	default:
		monitoring.Logf("unknown event type: %s", payload)
	}
	return nil
}

// Consume feeds every line from mux into inbox until ctx is done or the mux
// closes.
func Consume(ctx context.Context, mux Link, inbox *perception.Inbox) {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := HandleEvent(inbox, line); err != nil {
				monitoring.Logf("error handling event: %v", err)
			}
		}
	}
}
