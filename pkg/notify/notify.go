// Package notify carries method invocations to the external observer that
// tracks designer categories.
package notify

import (
	"context"
	"errors"

	"github.com/ritzau/category-sync/pkg/logging"
	"github.com/ritzau/category-sync/pkg/pubsub"
)

// MethodRegisterDesignerAttributes is the observer method receiving category changes
const MethodRegisterDesignerAttributes = "RegisterDesignerAttributes"

// ErrDelivery marks a call the observer did not accept
var ErrDelivery = errors.New("notification not delivered")

// Endpoint invokes a named method on the observer. A nil error means the
// call was delivered, not that the observer has durably processed it.
type Endpoint interface {
	Invoke(ctx context.Context, method string, args ...interface{}) error
}

// PublisherEndpoint turns invocations into events on the designer_attributes topic
type PublisherEndpoint struct {
	publisher pubsub.Publisher
}

// NewPublisherEndpoint creates an endpoint that publishes through p
func NewPublisherEndpoint(p pubsub.Publisher) *PublisherEndpoint {
	return &PublisherEndpoint{publisher: p}
}

func (e *PublisherEndpoint) Invoke(ctx context.Context, method string, args ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	call := pubsub.RemoteCall{Method: method, Args: args}
	if err := e.publisher.Publish(pubsub.TopicDesignerAttributes, method, call); err != nil {
		return errors.Join(ErrDelivery, err)
	}
	return nil
}

// LogEndpoint only logs invocations; used for one-shot CLI runs without an observer
type LogEndpoint struct{}

func (LogEndpoint) Invoke(ctx context.Context, method string, args ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logging.InfoContext(ctx, "observer call", "method", method, "args", len(args))
	return nil
}
