package handler

import (
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/service"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/datasul"
	"github.com/gin-gonic/gin"
)

type ExpeditionHandler struct {
	svc *service.ExpeditionService
}

func NewExpeditionHandler(svc *service.ExpeditionService) *ExpeditionHandler {
	return &ExpeditionHandler{svc: svc}
}

// SaveReservationRequest body of POST /expedicao/save-reserva
type SaveReservationRequest struct {
	APIData   *datasul.ItemRecord      `json:"apiData" binding:"required"`
	UserInput *service.ExpeditionInput `json:"userInput" binding:"required"`
}

// FetchItems GET /expedicao/items
func (h *ExpeditionHandler) FetchItems(c *gin.Context) {
	var filter datasul.ItemFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		BadRequest(c, "Parâmetros inválidos: "+err.Error())
		return
	}
	items, err := h.svc.FetchItems(c.Request.Context(), filter)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, items)
}

// GetSavedReservations GET /expedicao/saved-reservas
func (h *ExpeditionHandler) GetSavedReservations(c *gin.Context) {
	var filter datasul.ItemFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		BadRequest(c, "Parâmetros inválidos: "+err.Error())
		return
	}
	list, err := h.svc.GetSavedReservations(c.Request.Context(), filter)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, list)
}

// GetLiberatedItems GET /expedicao/liberated-items
func (h *ExpeditionHandler) GetLiberatedItems(c *gin.Context) {
	var filter datasul.ItemFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		BadRequest(c, "Parâmetros inválidos: "+err.Error())
		return
	}
	items, err := h.svc.GetLiberatedItems(c.Request.Context(), filter)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, items)
}

// SaveReservation POST /expedicao/save-reserva
func (h *ExpeditionHandler) SaveReservation(c *gin.Context) {
	var req SaveReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Dados da API e do usuário são obrigatórios: "+err.Error())
		return
	}
	req.UserInput.Usuario = actingUser(c, req.UserInput.Usuario)

	res, err := h.svc.SaveReservation(c.Request.Context(), req.APIData, req.UserInput)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, res)
}
