// Package notify delivers fill notifications to users once a settlement
// has committed. Every implementation is best effort.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xtrntr/spotex/internal/exchange"
	"github.com/xtrntr/spotex/internal/models"
)

// EventOrderMatched names the event carried by every fill message
const EventOrderMatched = "OrderMatched"

// Message is the wire shape of a fill notification
type Message struct {
	Event   string      `json:"event"`
	Channel string      `json:"channel"`
	Payload models.Fill `json:"payload"`
}

// Channel is the private channel a user's fills are addressed to
func Channel(userID int64) string {
	return fmt.Sprintf("private-user.%d", userID)
}

func encode(fill models.Fill) ([]byte, error) {
	return json.Marshal(Message{
		Event:   EventOrderMatched,
		Channel: Channel(fill.UserID),
		Payload: fill,
	})
}

// Multi fans a fill out to several notifiers and joins their errors
type Multi []exchange.Notifier

func (m Multi) Notify(ctx context.Context, fill models.Fill) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, fill); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ exchange.Notifier = Multi(nil)
	_ exchange.Notifier = Nop{}
	_ exchange.Notifier = (*Hub)(nil)
	_ exchange.Notifier = (*KafkaPublisher)(nil)
)

// Nop drops every fill
type Nop struct{}

func (Nop) Notify(context.Context, models.Fill) error { return nil }
