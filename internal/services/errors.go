package services

import (
	"errors"
	"fmt"

	"github.com/nimasrn/courier-dispatch/internal/repository"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTimeWindow = errors.New("start date is outside business hours")
	ErrQuotaExceeded     = errors.New("deliveryman reached the active delivery limit")
	ErrInvalidTransition = errors.New("invalid delivery transition")
	ErrDuplicateEmail    = errors.New("email already registered")
)

func validationError(err error) error {
	return fmt.Errorf("%w: %s", ErrValidation, err.Error())
}

// mapRepositoryError turns repository sentinels into service error kinds and
// passes anything else through unchanged.
func mapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrDeliveryNotFound),
		errors.Is(err, repository.ErrProblemNotFound),
		errors.Is(err, repository.ErrDeliverymanNotFound),
		errors.Is(err, repository.ErrRecipientNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, err.Error())
	case errors.Is(err, repository.ErrDuplicateEmail):
		return fmt.Errorf("%w: %s", ErrDuplicateEmail, err.Error())
	}
	return err
}
