package model

import (
	"time"
)

// JobKind tags every queued job with the processor that handles it.
type JobKind string

const (
	JobNotifyDeliverymanMail JobKind = "NotifyDeliverymanMail"
)

// NotifyDeliverymanPayload is the snapshot taken when the job is enqueued.
type NotifyDeliverymanPayload struct {
	Delivery NotifyDeliverySnapshot `json:"delivery"`
}

type NotifyDeliverySnapshot struct {
	Deliveryman DeliverymanInfo  `json:"deliveryman"`
	Recipient   RecipientAddress `json:"recipient"`
	Product     string           `json:"product"`
	StartDate   string           `json:"start_date"`
}

// NewNotifyDeliverymanPayload copies what the mail needs out of d. The
// start date carries whatever offset the row was read back with, so the
// worker converts it to its notification zone before rendering.
func NewNotifyDeliverymanPayload(d *Delivery) NotifyDeliverymanPayload {
	snap := NotifyDeliverySnapshot{Product: d.Product}
	if d.Deliveryman != nil {
		snap.Deliveryman = *d.Deliveryman
	}
	if d.Recipient != nil {
		snap.Recipient = *d.Recipient
	}
	if d.StartDate != nil {
		snap.StartDate = d.StartDate.Format(time.RFC3339)
	}
	return NotifyDeliverymanPayload{Delivery: snap}
}

// Mail is what the worker hands to the mail transport.
type Mail struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Context  map[string]string `json:"context"`
}
