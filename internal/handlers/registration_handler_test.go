package handlers

import (
	"context"
	"fmt"
	"testing"

	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockRegistrationService struct {
	mock.Mock
}

func (m *MockRegistrationService) RegisterDeliveryman(ctx context.Context, req model.CreateDeliverymanRequest) (*model.Deliveryman, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Deliveryman), args.Error(1)
}

func (m *MockRegistrationService) RegisterRecipient(ctx context.Context, req model.CreateRecipientRequest) (*model.Recipient, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Recipient), args.Error(1)
}

func TestRegistrationHandler_CreateDeliveryman(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := new(MockRegistrationService)
		handler := NewRegistrationHandler(svc)
		svc.On("RegisterDeliveryman", mock.Anything, model.CreateDeliverymanRequest{Name: "Ana", Email: "ana@courier.test"}).
			Return(&model.Deliveryman{ID: 1, Name: "Ana", Email: "ana@courier.test"}, nil)

		ctx := setupTestContext("POST", "/deliverymen", []byte(`{"name":"Ana","email":"ana@courier.test"}`), nil)
		handler.CreateDeliveryman(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("duplicate email", func(t *testing.T) {
		svc := new(MockRegistrationService)
		handler := NewRegistrationHandler(svc)
		svc.On("RegisterDeliveryman", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: ana@courier.test", services.ErrDuplicateEmail))

		ctx := setupTestContext("POST", "/deliverymen", []byte(`{"name":"Ana","email":"ana@courier.test"}`), nil)
		handler.CreateDeliveryman(ctx)

		assert.Equal(t, 409, ctx.Response.StatusCode())
	})
}

func TestRegistrationHandler_CreateRecipient(t *testing.T) {
	svc := new(MockRegistrationService)
	handler := NewRegistrationHandler(svc)
	svc.On("RegisterRecipient", mock.Anything, mock.MatchedBy(func(r model.CreateRecipientRequest) bool {
		return r.Name == "Bia" && r.City == "Recife"
	})).Return(nil, fmt.Errorf("%w: zip_code is required", services.ErrValidation))

	ctx := setupTestContext("POST", "/recipients", []byte(`{"name":"Bia","street":"Rua A","number":"1","city":"Recife","state":"PE"}`), nil)
	handler.CreateRecipient(ctx)

	assert.Equal(t, 400, ctx.Response.StatusCode())
	assert.Contains(t, errorBody(t, ctx), "zip_code is required")
	svc.AssertExpectations(t)
}
