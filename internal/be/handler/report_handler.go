package handler

import (
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/service"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/datasul"
	"github.com/gin-gonic/gin"
)

type ReportHandler struct {
	svc *service.ReportService
}

func NewReportHandler(svc *service.ReportService) *ReportHandler {
	return &ReportHandler{svc: svc}
}

func bindReportFilter(c *gin.Context) (datasul.ReportFilter, bool) {
	var filter datasul.ReportFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		BadRequest(c, "Parâmetros inválidos: "+err.Error())
		return filter, false
	}
	return filter, true
}

// GetDashboard GET /ordens-producao-externas/painel
func (h *ReportHandler) GetDashboard(c *gin.Context) {
	filter, ok := bindReportFilter(c)
	if !ok {
		return
	}
	d, err := h.svc.GetDashboard(c.Request.Context(), filter)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, d)
}

// StatusChart GET /ordens-producao-externas/grafico-status?tipo=
func (h *ReportHandler) StatusChart(c *gin.Context) {
	h.chart(c, service.DimensionStatus)
}

// SupplierChart GET /ordens-producao-externas/grafico-fornecedor?tipo=
func (h *ReportHandler) SupplierChart(c *gin.Context) {
	h.chart(c, service.DimensionFornecedor)
}

func (h *ReportHandler) chart(c *gin.Context, dimension string) {
	filter, ok := bindReportFilter(c)
	if !ok {
		return
	}
	bucket := c.DefaultQuery("tipo", service.BucketComFornecedor)
	points, err := h.svc.GetChartData(c.Request.Context(), filter, bucket, dimension)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, points)
}

// ExportDashboard GET /ordens-producao-externas/painel/export
func (h *ReportHandler) ExportDashboard(c *gin.Context) {
	filter, ok := bindReportFilter(c)
	if !ok {
		return
	}
	f, filename, err := h.svc.ExportDashboard(c.Request.Context(), filter)
	if err != nil {
		Fail(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "Falha ao gerar planilha: "+err.Error())
	}
}
