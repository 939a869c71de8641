package handler

import (
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/service"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/datasul"
	"github.com/gin-gonic/gin"
)

type QuotationHandler struct {
	svc *service.QuotationService
}

func NewQuotationHandler(svc *service.QuotationService) *QuotationHandler {
	return &QuotationHandler{svc: svc}
}

// SaveItemRequest body of POST /cotacao/save-item
type SaveItemRequest struct {
	APIData   *datasul.ItemRecord     `json:"apiData" binding:"required"`
	UserInput *service.QuotationInput `json:"userInput" binding:"required"`
}

// FetchItems GET /cotacao/items
func (h *QuotationHandler) FetchItems(c *gin.Context) {
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

// GetSavedItems GET /cotacao/saved-items
func (h *QuotationHandler) GetSavedItems(c *gin.Context) {
	var filter datasul.ItemFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		BadRequest(c, "Parâmetros inválidos: "+err.Error())
		return
	}
	items, err := h.svc.GetSavedItems(c.Request.Context(), filter)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, items)
}

// SearchSuppliers GET /cotacao/suppliers?termo=
func (h *QuotationHandler) SearchSuppliers(c *gin.Context) {
	list, err := h.svc.SearchSuppliers(c.Request.Context(), c.Query("termo"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, list)
}

// SaveItem POST /cotacao/save-item
func (h *QuotationHandler) SaveItem(c *gin.Context) {
	var req SaveItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Dados da API e do usuário são obrigatórios: "+err.Error())
		return
	}
	req.UserInput.UsuarioCotacao = actingUser(c, req.UserInput.UsuarioCotacao)

	item, err := h.svc.SaveItem(c.Request.Context(), req.APIData, req.UserInput)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, item)
}
