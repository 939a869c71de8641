package handler

import (
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/service"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/datasul"
	"github.com/gin-gonic/gin"
)

type InvoiceRequestHandler struct {
	svc *service.InvoiceRequestService
}

func NewInvoiceRequestHandler(svc *service.InvoiceRequestService) *InvoiceRequestHandler {
	return &InvoiceRequestHandler{svc: svc}
}

// CreateInvoiceRequestBody body of POST /solicitacao-nf/criar
type CreateInvoiceRequestBody struct {
	Itens   []service.RequestItem `json:"itens" binding:"required,min=1,dive"`
	Usuario string                `json:"usuario"`
}

// ListEligibleOrders GET /solicitacao-nf/ordens-producao
func (h *InvoiceRequestHandler) ListEligibleOrders(c *gin.Context) {
	rows, err := h.svc.ListEligibleOrders(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, rows)
}

// ListReservationsByOrder GET /solicitacao-nf/reservas/:op
func (h *InvoiceRequestHandler) ListReservationsByOrder(c *gin.Context) {
	op, ok := intParam(c, "op")
	if !ok {
		return
	}
	list, err := h.svc.ListReservationsByOrder(c.Request.Context(), op)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, list)
}

// ListInvoiceRequests GET /solicitacao-nf/solicitacoes
func (h *InvoiceRequestHandler) ListInvoiceRequests(c *gin.Context) {
	list, err := h.svc.ListInvoiceRequests(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, list)
}

// ListReservationsByRequest GET /solicitacao-nf/reservas-solicitacao/:codSolicitacao
func (h *InvoiceRequestHandler) ListReservationsByRequest(c *gin.Context) {
	id, ok := intParam(c, "codSolicitacao")
	if !ok {
		return
	}
	list, err := h.svc.ListReservationsByRequest(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, list)
}

// Get GET /solicitacao-nf/:codSolicitacao
func (h *InvoiceRequestHandler) Get(c *gin.Context) {
	id, ok := intParam(c, "codSolicitacao")
	if !ok {
		return
	}
	req, err := h.svc.GetInvoiceRequest(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, req)
}

// Create POST /solicitacao-nf/criar
func (h *InvoiceRequestHandler) Create(c *gin.Context) {
	var body CreateInvoiceRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequest(c, "Itens e usuário são obrigatórios: "+err.Error())
		return
	}
	result, err := h.svc.CreateInvoiceRequest(c.Request.Context(), body.Itens, actingUser(c, body.Usuario))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, result)
}

// DetachReservation DELETE /solicitacao-nf/remover-item/:codItemReserva
func (h *InvoiceRequestHandler) DetachReservation(c *gin.Context) {
	id, ok := intParam(c, "codItemReserva")
	if !ok {
		return
	}
	if err := h.svc.DetachReservation(c.Request.Context(), id); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"codItemReserva": id})
}

type InvoiceEmissionHandler struct {
	svc *service.InvoiceEmissionService
}

func NewInvoiceEmissionHandler(svc *service.InvoiceEmissionService) *InvoiceEmissionHandler {
	return &InvoiceEmissionHandler{svc: svc}
}

// EmitInvoiceBody body of POST /emissao-nf/emitir-nf
type EmitInvoiceBody struct {
	Itens          []service.RequestItem `json:"itens" binding:"required,min=1,dive"`
	Usuario        string                `json:"usuario"`
	CodSolicitacao int                   `json:"codSolicitacao" binding:"required"`
}

// ListItemsAwaiting GET /emissao-nf/itens-aguardando-emissao
func (h *InvoiceEmissionHandler) ListItemsAwaiting(c *gin.Context) {
	var filter datasul.ItemFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		BadRequest(c, "Parâmetros inválidos: "+err.Error())
		return
	}
	rows, err := h.svc.GetItemsAwaitingEmission(c.Request.Context(), filter)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, rows)
}

// ListRequestsAwaiting GET /emissao-nf/solicitacoes-aguardando
func (h *InvoiceEmissionHandler) ListRequestsAwaiting(c *gin.Context) {
	rows, err := h.svc.GetRequestsAwaitingEmission(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, rows)
}

// Emit POST /emissao-nf/emitir-nf
func (h *InvoiceEmissionHandler) Emit(c *gin.Context) {
	var body EmitInvoiceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequest(c, "Itens, usuário e solicitação são obrigatórios: "+err.Error())
		return
	}
	resp, err := h.svc.EmitInvoice(c.Request.Context(), body.Itens, actingUser(c, body.Usuario), body.CodSolicitacao)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, resp)
}
