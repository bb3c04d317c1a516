package models

import (
	"fmt"
	"time"
)

type DeliveryStatus string

const (
	DeliveryStatusQueued    DeliveryStatus = "queued"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusRead      DeliveryStatus = "read"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusBounced   DeliveryStatus = "bounced"
)

// DeliveryLog records one send attempt for one (alert, contact, channel,
// step). Retries append new rows with a higher attempt number; rows are
// never rewritten once a terminal delivery status lands, preserving the
// audit trail.
type DeliveryLog struct {
	ID                string
	AlertID           string
	ContactID         string
	Channel           Channel
	StepIndex         int
	Attempt           int // 1-based
	Status            DeliveryStatus
	ProviderMessageID string
	ErrorDetail       string
	QueuedAt          time.Time
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ReadAt            *time.Time
}

// IdempotencyKey identifies a logical notification: everything about an
// attempt except the attempt number. Two dispatches sharing a key within a
// step must collapse into one provider call.
func IdempotencyKey(alertID, contactID string, ch Channel, stepIndex int) string {
	return fmt.Sprintf("%s|%s|%s|%d", alertID, contactID, ch, stepIndex)
}
