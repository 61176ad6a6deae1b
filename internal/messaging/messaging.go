// Package messaging defines the broker-facing contract for pipeline
// components, so they publish without being coupled to a specific broker
// implementation.
package messaging

import "context"

// Publisher publishes messages to subjects with delivery confirmation.
// The dead-letter router depends on this rather than on a broker client.
type Publisher interface {
	// Publish sends a message to the specified subject.
	Publish(ctx context.Context, subject string, data []byte) error
}
