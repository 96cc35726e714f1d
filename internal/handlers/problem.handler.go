package handlers

import (
	"github.com/fasthttp/router"
	"github.com/nimasrn/courier-dispatch/internal/model"
	xhttp "github.com/nimasrn/courier-dispatch/pkg/http"
)

// ProblemHandler shares the delivery service; problems live on deliveries.
type ProblemHandler struct {
	svc DeliveryService
}

func RegisterProblemRoutes(e *router.Group, h *ProblemHandler) {
	e.POST("/deliveries/{id}/problems", h.AddProblem)
	e.GET("/deliveries/{id}/problems", h.ListProblems)
	e.GET("/problems", h.ListAllProblems)
	e.DELETE("/problems/{id}/cancel-delivery", h.CancelDelivery)
}

func NewProblemHandler(deliveryService DeliveryService) *ProblemHandler {
	return &ProblemHandler{svc: deliveryService}
}

type listProblemsResponse struct {
	Items []*model.DeliveryProblem `json:"items"`
}

func (h *ProblemHandler) AddProblem(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	var req model.CreateProblemRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	p, err := h.svc.AddProblem(ctx, id, req.Description)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, p)
}

func (h *ProblemHandler) ListProblems(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	items, err := h.svc.ListProblems(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, listProblemsResponse{Items: items})
}

func (h *ProblemHandler) ListAllProblems(ctx *xhttp.RequestCtx) {
	items, err := h.svc.ListAllProblems(ctx, queryInt(ctx, "limit"), queryInt(ctx, "offset"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, listProblemsResponse{Items: items})
}

// CancelDelivery removes the delivery the problem was reported on.
func (h *ProblemHandler) CancelDelivery(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	if err := h.svc.CancelByProblem(ctx, id); err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.SetStatusCode(204)
}
