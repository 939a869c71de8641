package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/service"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/middleware"
	"github.com/gin-gonic/gin"
)

// Handlers handler set
type Handlers struct {
	Quotation       *QuotationHandler
	Expedition      *ExpeditionHandler
	InvoiceRequest  *InvoiceRequestHandler
	InvoiceEmission *InvoiceEmissionHandler
	Report          *ReportHandler
}

func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Quotation:       NewQuotationHandler(svc.Quotation),
		Expedition:      NewExpeditionHandler(svc.Expedition),
		InvoiceRequest:  NewInvoiceRequestHandler(svc.InvoiceRequest),
		InvoiceEmission: NewInvoiceEmissionHandler(svc.InvoiceEmission),
		Report:          NewReportHandler(svc.Report),
	}
}

// RegisterRoutes mounts every workflow route on api. emissionGuard, when set, runs before invoice emission.
func (h *Handlers) RegisterRoutes(api *gin.RouterGroup, emissionGuard ...gin.HandlerFunc) {
	cotacao := api.Group("/cotacao")
	{
		cotacao.GET("/items", h.Quotation.FetchItems)
		cotacao.GET("/saved-items", h.Quotation.GetSavedItems)
		cotacao.GET("/suppliers", h.Quotation.SearchSuppliers)
		cotacao.POST("/save-item", h.Quotation.SaveItem)
	}

	expedicao := api.Group("/expedicao")
	{
		expedicao.GET("/items", h.Expedition.FetchItems)
		expedicao.GET("/saved-reservas", h.Expedition.GetSavedReservations)
		expedicao.GET("/liberated-items", h.Expedition.GetLiberatedItems)
		expedicao.POST("/save-reserva", h.Expedition.SaveReservation)
	}

	solicitacao := api.Group("/solicitacao-nf")
	{
		solicitacao.GET("/ordens-producao", h.InvoiceRequest.ListEligibleOrders)
		solicitacao.GET("/reservas/:op", h.InvoiceRequest.ListReservationsByOrder)
		solicitacao.GET("/solicitacoes", h.InvoiceRequest.ListInvoiceRequests)
		solicitacao.GET("/reservas-solicitacao/:codSolicitacao", h.InvoiceRequest.ListReservationsByRequest)
		solicitacao.POST("/criar", h.InvoiceRequest.Create)
		solicitacao.DELETE("/remover-item/:codItemReserva", h.InvoiceRequest.DetachReservation)
		solicitacao.GET("/:codSolicitacao", h.InvoiceRequest.Get)
	}

	emissao := api.Group("/emissao-nf")
	{
		emissao.GET("/itens-aguardando-emissao", h.InvoiceEmission.ListItemsAwaiting)
		emissao.GET("/solicitacoes-aguardando", h.InvoiceEmission.ListRequestsAwaiting)
		emit := append(append([]gin.HandlerFunc{}, emissionGuard...), h.InvoiceEmission.Emit)
		emissao.POST("/emitir-nf", emit...)
	}

	ordens := api.Group("/ordens-producao-externas")
	{
		ordens.GET("/painel", h.Report.GetDashboard)
		ordens.GET("/painel/export", h.Report.ExportDashboard)
		ordens.GET("/grafico-status", h.Report.StatusChart)
		ordens.GET("/grafico-fornecedor", h.Report.SupplierChart)
	}
}

// Response common envelope
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error writes the envelope; the HTTP status is code/100.
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// Fail maps a service error to its response code.
func Fail(c *gin.Context, err error) {
	message := err.Error()
	var appErr *service.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	_ = c.Error(err)

	switch service.KindOf(err) {
	case service.KindValidation:
		Error(c, 40000, message)
	case service.KindNotFound:
		Error(c, 40400, message)
	case service.KindConflict:
		Error(c, 40900, message)
	case service.KindExternalAPI:
		Error(c, 50200, message)
	case service.KindExternalUnavailable:
		Error(c, 50300, message)
	default:
		Error(c, 50000, message)
	}
}

// actingUser the user named in the body, falling back to the authenticated caller.
func actingUser(c *gin.Context, explicit string) string {
	if u := strings.TrimSpace(explicit); u != "" {
		return u
	}
	return middleware.CurrentUser(c)
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		BadRequest(c, "Parâmetro inválido: "+name)
		return 0, false
	}
	return v, true
}
