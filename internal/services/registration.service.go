package services

import (
	"context"

	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
)

type DeliverymanRepository interface {
	Create(ctx context.Context, req model.CreateDeliverymanRequest) (*model.Deliveryman, error)
}

type RecipientRepository interface {
	Create(ctx context.Context, req model.CreateRecipientRequest) (*model.Recipient, error)
}

// RegistrationService registers the parties a delivery refers to.
type RegistrationService struct {
	deliverymen DeliverymanRepository
	recipients  RecipientRepository
}

func NewRegistrationService(deliverymen DeliverymanRepository, recipients RecipientRepository) *RegistrationService {
	return &RegistrationService{deliverymen: deliverymen, recipients: recipients}
}

func (s *RegistrationService) RegisterDeliveryman(ctx context.Context, req model.CreateDeliverymanRequest) (*model.Deliveryman, error) {
	if err := req.Validate(); err != nil {
		return nil, validationError(err)
	}
	dm, err := s.deliverymen.Create(ctx, req)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	logger.Info("deliveryman registered", "deliveryman_id", dm.ID)
	return dm, nil
}

func (s *RegistrationService) RegisterRecipient(ctx context.Context, req model.CreateRecipientRequest) (*model.Recipient, error) {
	if err := req.Validate(); err != nil {
		return nil, validationError(err)
	}
	rc, err := s.recipients.Create(ctx, req)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	logger.Info("recipient registered", "recipient_id", rc.ID)
	return rc, nil
}
