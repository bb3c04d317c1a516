// Package channels implements the outbound senders behind notification
// fan-out. Each sender speaks one channel and reports failures as either
// transient (retryable) or permanent (hard bounce, never retried).
package channels

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidewatch/go-hazard-alerts/internal/models"
)

type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindPermanent ErrorKind = "permanent"
)

// SendError tags a provider failure with its retry class.
type SendError struct {
	Kind ErrorKind
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s send error: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func Transient(err error) error {
	return &SendError{Kind: ErrorKindTransient, Err: err}
}

func Permanent(err error) error {
	return &SendError{Kind: ErrorKindPermanent, Err: err}
}

// IsTransient reports whether an error should be retried. Unclassified
// errors (network failures outside a SendError) count as transient.
func IsTransient(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind == ErrorKindTransient
	}
	return true
}

// Message is a rendered notification, tagged by the channel it was rendered
// for. Subject is only meaningful for email.
type Message struct {
	Channel models.Channel
	Subject string
	Body    string
}

// Result reports a successful hand-off to the provider.
type Result struct {
	ProviderMessageID string
}

// Sender delivers one rendered message to one address. Implementations
// must distinguish transient from permanent failures via SendError.
type Sender interface {
	Channel() models.Channel
	Send(ctx context.Context, address string, msg Message) (Result, error)
}

// CallCanceller is implemented by voice senders that can abandon calls not
// yet connected, e.g. after an alert is acknowledged.
type CallCanceller interface {
	CancelCall(ctx context.Context, providerMessageID string) error
}
