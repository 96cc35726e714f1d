package model

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

type Deliveryman struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarID  *int64    `json:"avatar_id"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateDeliverymanRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	AvatarID *int64 `json:"avatar_id"`
}

func (r CreateDeliverymanRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return errors.New("email is invalid")
	}
	return nil
}

type Recipient struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Street     string    `json:"street"`
	Number     string    `json:"number"`
	Complement string    `json:"complement"`
	State      string    `json:"state"`
	City       string    `json:"city"`
	ZipCode    string    `json:"zip_code"`
	CreatedAt  time.Time `json:"created_at"`
}

type CreateRecipientRequest struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement"`
	State      string `json:"state"`
	City       string `json:"city"`
	ZipCode    string `json:"zip_code"`
}

func (r CreateRecipientRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return errors.New("name is required")
	case strings.TrimSpace(r.Street) == "":
		return errors.New("street is required")
	case strings.TrimSpace(r.Number) == "":
		return errors.New("number is required")
	case strings.TrimSpace(r.City) == "":
		return errors.New("city is required")
	case strings.TrimSpace(r.State) == "":
		return errors.New("state is required")
	case strings.TrimSpace(r.ZipCode) == "":
		return errors.New("zip_code is required")
	}
	return nil
}
