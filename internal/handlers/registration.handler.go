package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/courier-dispatch/internal/model"
	xhttp "github.com/nimasrn/courier-dispatch/pkg/http"
)

type RegistrationService interface {
	RegisterDeliveryman(ctx context.Context, req model.CreateDeliverymanRequest) (*model.Deliveryman, error)
	RegisterRecipient(ctx context.Context, req model.CreateRecipientRequest) (*model.Recipient, error)
}

type RegistrationHandler struct {
	svc RegistrationService
}

func RegisterRegistrationRoutes(e *router.Group, h *RegistrationHandler) {
	e.POST("/deliverymen", h.CreateDeliveryman)
	e.POST("/recipients", h.CreateRecipient)
}

func NewRegistrationHandler(registrationService RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{svc: registrationService}
}

func (h *RegistrationHandler) CreateDeliveryman(ctx *xhttp.RequestCtx) {
	var req model.CreateDeliverymanRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	dm, err := h.svc.RegisterDeliveryman(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, dm)
}

func (h *RegistrationHandler) CreateRecipient(ctx *xhttp.RequestCtx) {
	var req model.CreateRecipientRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	rc, err := h.svc.RegisterRecipient(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, rc)
}
