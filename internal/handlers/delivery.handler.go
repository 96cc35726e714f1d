package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/internal/services"
	xhttp "github.com/nimasrn/courier-dispatch/pkg/http"
)

type DeliveryService interface {
	Create(ctx context.Context, req model.CreateDeliveryRequest) (*model.Delivery, error)
	Get(ctx context.Context, id int64) (*model.Delivery, error)
	List(ctx context.Context, filter model.DeliveryFilter) ([]*model.Delivery, error)
	Update(ctx context.Context, id int64, req model.UpdateDeliveryRequest) (*model.Delivery, error)
	Destroy(ctx context.Context, id int64) error
	SetStartDate(ctx context.Context, id int64, at time.Time, opts ...services.TransitionOption) (*model.Delivery, error)
	SetEndDate(ctx context.Context, id int64, at time.Time, signatureID *int64, opts ...services.TransitionOption) (*model.Delivery, error)
	Cancel(ctx context.Context, id int64, at time.Time) (*model.Delivery, error)
	ListForDeliveryman(ctx context.Context, deliverymanID int64, done bool, limit, offset int) ([]*model.Delivery, error)
	AddProblem(ctx context.Context, deliveryID int64, description string) (*model.DeliveryProblem, error)
	ListProblems(ctx context.Context, deliveryID int64) ([]*model.DeliveryProblem, error)
	ListAllProblems(ctx context.Context, limit, offset int) ([]*model.DeliveryProblem, error)
	CancelByProblem(ctx context.Context, problemID int64) error
}

type DeliveryHandler struct {
	svc DeliveryService
	loc *time.Location
	now func() time.Time
}

func RegisterDeliveryRoutes(e *router.Group, h *DeliveryHandler) {
	e.POST("/deliveries", h.CreateDelivery)
	e.GET("/deliveries", h.ListDeliveries)
	e.GET("/deliveries/{id}", h.GetDelivery)
	e.PUT("/deliveries/{id}", h.UpdateDelivery)
	e.DELETE("/deliveries/{id}", h.DestroyDelivery)
	e.POST("/deliveries/{id}/start", h.StartDelivery)
	e.POST("/deliveries/{id}/end", h.EndDelivery)
	e.POST("/deliveries/{id}/cancel", h.CancelDelivery)

	e.GET("/deliverymen/{deliveryman_id}/deliveries", h.ListDeliverymanDeliveries)
	e.POST("/deliverymen/{deliveryman_id}/deliveries/{id}/start", h.StartDelivery)
	e.POST("/deliverymen/{deliveryman_id}/deliveries/{id}/end", h.EndDelivery)
}

// NewDeliveryHandler reads request dates without an offset in loc; nil
// means the process's local zone.
func NewDeliveryHandler(deliveryService DeliveryService, loc *time.Location) *DeliveryHandler {
	if loc == nil {
		loc = time.Local
	}
	return &DeliveryHandler{
		svc: deliveryService,
		loc: loc,
		now: time.Now,
	}
}

type createDeliveryRequest struct {
	RecipientID   int64        `json:"recipient_id"`
	DeliverymanID int64        `json:"deliveryman_id"`
	Product       string       `json:"product"`
	StartDate     *requestTime `json:"start_date"`
}

type updateDeliveryRequest struct {
	RecipientID   *int64       `json:"recipient_id"`
	DeliverymanID *int64       `json:"deliveryman_id"`
	Product       *string      `json:"product"`
	StartDate     *requestTime `json:"start_date"`
}

type transitionRequest struct {
	Date        *requestTime `json:"date"`
	SignatureID *int64       `json:"signature_id"`
}

type listDeliveriesResponse struct {
	Items []*model.Delivery `json:"items"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *DeliveryHandler) CreateDelivery(ctx *xhttp.RequestCtx) {
	var req createDeliveryRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	d, err := h.svc.Create(ctx, model.CreateDeliveryRequest{
		RecipientID:   req.RecipientID,
		DeliverymanID: req.DeliverymanID,
		Product:       req.Product,
		StartDate:     req.StartDate.In(h.loc),
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, d)
}

func (h *DeliveryHandler) ListDeliveries(ctx *xhttp.RequestCtx) {
	var f model.DeliveryFilter

	if v := query(ctx, "deliveryman_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.DeliverymanID = &id
		}
	}
	f.Product = query(ctx, "q")
	if v := query(ctx, "state"); v != "" {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.States = append(f.States, model.DeliveryState(part))
			}
		}
	}
	f.Limit = queryInt(ctx, "limit")
	f.Offset = queryInt(ctx, "offset")

	items, err := h.svc.List(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, listDeliveriesResponse{Items: items})
}

func (h *DeliveryHandler) GetDelivery(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	d, err := h.svc.Get(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, d)
}

func (h *DeliveryHandler) UpdateDelivery(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	var req updateDeliveryRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	d, err := h.svc.Update(ctx, id, model.UpdateDeliveryRequest{
		RecipientID:   req.RecipientID,
		DeliverymanID: req.DeliverymanID,
		Product:       req.Product,
		StartDate:     req.StartDate.In(h.loc),
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, d)
}

func (h *DeliveryHandler) DestroyDelivery(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	if err := h.svc.Destroy(ctx, id); err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.SetStatusCode(204)
}

// StartDelivery serves both the admin route and the deliveryman-scoped one.
func (h *DeliveryHandler) StartDelivery(ctx *xhttp.RequestCtx) {
	id, at, _, opts, ok := h.transition(ctx)
	if !ok {
		return
	}
	d, err := h.svc.SetStartDate(ctx, id, at, opts...)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, d)
}

func (h *DeliveryHandler) EndDelivery(ctx *xhttp.RequestCtx) {
	id, at, req, opts, ok := h.transition(ctx)
	if !ok {
		return
	}
	d, err := h.svc.SetEndDate(ctx, id, at, req.SignatureID, opts...)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, d)
}

func (h *DeliveryHandler) CancelDelivery(ctx *xhttp.RequestCtx) {
	id, at, _, _, ok := h.transition(ctx)
	if !ok {
		return
	}
	d, err := h.svc.Cancel(ctx, id, at)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, d)
}

func (h *DeliveryHandler) ListDeliverymanDeliveries(ctx *xhttp.RequestCtx) {
	deliverymanID, err := pathInt64(ctx, "deliveryman_id")
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	done := strings.EqualFold(query(ctx, "done"), "true")

	items, err := h.svc.ListForDeliveryman(ctx, deliverymanID, done, queryInt(ctx, "limit"), queryInt(ctx, "offset"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, listDeliveriesResponse{Items: items})
}

// transition parses the id, the optional body and the optional owning
// deliveryman shared by the transition routes. The date defaults to now.
func (h *DeliveryHandler) transition(ctx *xhttp.RequestCtx) (int64, time.Time, transitionRequest, []services.TransitionOption, bool) {
	var req transitionRequest

	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, err.Error())
		return 0, time.Time{}, req, nil, false
	}

	var opts []services.TransitionOption
	if ctx.UserValue("deliveryman_id") != nil {
		deliverymanID, err := pathInt64(ctx, "deliveryman_id")
		if err != nil {
			writeError(ctx, 400, err.Error())
			return 0, time.Time{}, req, nil, false
		}
		opts = append(opts, services.OwnedBy(deliverymanID))
	}

	if err := readOptionalJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return 0, time.Time{}, req, nil, false
	}

	at := h.now()
	if t := req.Date.In(h.loc); t != nil {
		at = *t
	}
	return id, at, req, opts, true
}
