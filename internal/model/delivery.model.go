package model

import (
	"errors"
	"strings"
	"time"
)

// DeliveryState is derived from the delivery's date markers, never stored.
type DeliveryState string

const (
	DeliveryStateCreated   DeliveryState = "created"
	DeliveryStateStarted   DeliveryState = "started"
	DeliveryStateDelivered DeliveryState = "delivered"
	DeliveryStateCanceled  DeliveryState = "canceled"
)

type Delivery struct {
	ID            int64             `json:"id"`
	RecipientID   int64             `json:"recipient_id"`
	DeliverymanID int64             `json:"deliveryman_id"`
	SignatureID   *int64            `json:"signature_id"`
	Product       string            `json:"product"`
	StartDate     *time.Time        `json:"start_date"`
	EndDate       *time.Time        `json:"end_date"`
	CanceledAt    *time.Time        `json:"canceled_at"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Deliveryman   *DeliverymanInfo  `json:"deliveryman,omitempty"`
	Recipient     *RecipientAddress `json:"recipient,omitempty"`
	Signature     *SignatureFile    `json:"signature,omitempty"`
	Problems      []ProblemSummary  `json:"problems"`
}

func (d *Delivery) State() DeliveryState {
	switch {
	case d.CanceledAt != nil:
		return DeliveryStateCanceled
	case d.EndDate != nil:
		return DeliveryStateDelivered
	case d.StartDate != nil:
		return DeliveryStateStarted
	default:
		return DeliveryStateCreated
	}
}

// DeliverymanInfo is the deliveryman as joined onto a delivery.
type DeliverymanInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type RecipientAddress struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement"`
}

type SignatureFile struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

type ProblemSummary struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
}

type CreateDeliveryRequest struct {
	RecipientID   int64      `json:"recipient_id"`
	DeliverymanID int64      `json:"deliveryman_id"`
	Product       string     `json:"product"`
	StartDate     *time.Time `json:"start_date"`
}

func (r CreateDeliveryRequest) Validate() error {
	if r.RecipientID <= 0 {
		return errors.New("recipient_id is required")
	}
	if r.DeliverymanID <= 0 {
		return errors.New("deliveryman_id is required")
	}
	if strings.TrimSpace(r.Product) == "" {
		return errors.New("product is required")
	}
	return nil
}

// UpdateDeliveryRequest is a partial patch; nil fields are left untouched.
type UpdateDeliveryRequest struct {
	RecipientID   *int64     `json:"recipient_id"`
	DeliverymanID *int64     `json:"deliveryman_id"`
	Product       *string    `json:"product"`
	StartDate     *time.Time `json:"start_date"`
}

func (r UpdateDeliveryRequest) Validate() error {
	if r.RecipientID != nil && *r.RecipientID <= 0 {
		return errors.New("recipient_id must be positive")
	}
	if r.DeliverymanID != nil && *r.DeliverymanID <= 0 {
		return errors.New("deliveryman_id must be positive")
	}
	if r.Product != nil && strings.TrimSpace(*r.Product) == "" {
		return errors.New("product must not be empty")
	}
	return nil
}

// DeliveryFilter controls List queries.
type DeliveryFilter struct {
	DeliverymanID *int64
	Product       string // case-insensitive substring
	States        []DeliveryState
	Limit         int // default 20
	Offset        int
}

// DeliveryChanges is the persistence-level patch applied by Update.
type DeliveryChanges struct {
	RecipientID   *int64
	DeliverymanID *int64
	SignatureID   *int64
	Product       *string
	StartDate     *time.Time
	EndDate       *time.Time
	CanceledAt    *time.Time
}
