package model

import (
	"errors"
	"strings"
	"time"
)

type DeliveryProblem struct {
	ID          int64     `json:"id"`
	DeliveryID  int64     `json:"delivery_id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreateProblemRequest struct {
	Description string `json:"description"`
}

func (r CreateProblemRequest) Validate() error {
	if strings.TrimSpace(r.Description) == "" {
		return errors.New("description is required")
	}
	return nil
}
