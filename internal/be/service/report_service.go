package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/entity"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/repository"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/datasul"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Dashboard buckets.
const (
	BucketComFornecedor = "comFornecedor"
	BucketRetornadas    = "retornadas"
	BucketConcluidas    = "concluidas"
)

// Chart dimensions.
const (
	DimensionStatus     = "status"
	DimensionFornecedor = "fornecedor"
)

const (
	reportDateLayout  = "02/01/2006 15:04"
	noSupplierLabel   = "Sem Fornecedor"
	supplierChartSize = 10
)

var quantityTolerance = decimal.New(1, -5)

// ReportService external production orders dashboard (tipo 3 joined with local rows).
type ReportService struct {
	repos  *repository.Repositories
	erp    DatasulClient
	logger *zap.Logger
	now    func() time.Time
}

func NewReportService(repos *repository.Repositories, erp DatasulClient, logger *zap.Logger, now func() time.Time) *ReportService {
	return &ReportService{repos: repos, erp: erp, logger: logger.Named("ordens_producao_externas"), now: now}
}

// DashboardRow Datasul report line enriched with local quotation and expedition data.
type DashboardRow struct {
	ID                   int     `json:"id"`
	Op                   int     `json:"op"`
	Oc                   int     `json:"oc"`
	Situacao             int     `json:"situacao"`
	SituacaoTexto        string  `json:"situacaoTexto"`
	Encomenda            string  `json:"encomenda"`
	CodItem              string  `json:"codItem"`
	DescricaoItem        string  `json:"descricaoItem"`
	Desenho              string  `json:"desenho"`
	CodReserva           string  `json:"codReserva"`
	DescricaoReserva     string  `json:"descricaoReserva"`
	Qtd                  float64 `json:"qtd"`
	Projeto              string  `json:"projeto"`
	Tag                  string  `json:"tag"`
	CodFornecedor        int     `json:"codFornecedor"`
	NomeFornecedor       string  `json:"nomeFornecedor"`
	PesoBruto            float64 `json:"pesoBruto"`
	PesoLiquido          float64 `json:"pesoLiquido"`
	DataExpedicao        string  `json:"dataExpedicao"`
	UsuarioExpedicao     string  `json:"usuarioExpedicao"`
	DataSolicitacaoNF    string  `json:"dataSolicitacaoNF"`
	UsuarioSolicitacaoNF string  `json:"usuarioSolicitacaoNF"`
	DataEmissaoNF        string  `json:"dataEmissaoNF"`
	UsuarioEmissaoNF     string  `json:"usuarioEmissaoNF"`
	NumeroNF             string  `json:"numeroNF"`
	DataEntrega          string  `json:"dataEntrega"`
	QtdSaldo             float64 `json:"qtdSaldo"`
	QtdAtendida          float64 `json:"qtdAtendida"`
	QtdEnviada           float64 `json:"qtdEnviada"`
	Selecionado          bool    `json:"selecionado"`
}

// Dashboard rows split into the three buckets plus everything.
type Dashboard struct {
	ComFornecedor []DashboardRow `json:"comFornecedor"`
	Retornadas    []DashboardRow `json:"retornadas"`
	Concluidas    []DashboardRow `json:"concluidas"`
	Todos         []DashboardRow `json:"todos"`
}

// Bucket returns the rows of name; unknown names fall back to comFornecedor.
func (d *Dashboard) Bucket(name string) []DashboardRow {
	switch name {
	case BucketRetornadas:
		return d.Retornadas
	case BucketConcluidas:
		return d.Concluidas
	}
	return d.ComFornecedor
}

// ChartPoint one bar of a chart.
type ChartPoint struct {
	Situacao   string `json:"situacao,omitempty"`
	Fornecedor string `json:"fornecedor,omitempty"`
	Quantidade int    `json:"quantidade"`
}

// ValidateReportFilter requires encomenda or OP, or supplier together with both dates.
func ValidateReportFilter(f datasul.ReportFilter) error {
	hasEncomenda := strings.TrimSpace(f.Encomenda) != ""
	hasOP := strings.TrimSpace(f.OP) != ""
	hasSupplier := strings.TrimSpace(f.Fornecedor) != ""
	hasDates := strings.TrimSpace(f.DataInicial) != "" && strings.TrimSpace(f.DataFinal) != ""

	if !hasEncomenda && !hasOP && !(hasSupplier && hasDates) {
		return validationError("Filtro obrigatório: preencha Encomenda, Ordem de Produção ou Fornecedor + Data Inicial + Data Final")
	}
	if hasSupplier != hasDates {
		return validationError("Para filtrar por fornecedor, é obrigatório informar Data Inicial e Data Final, e vice-versa")
	}
	return nil
}

// GetDashboard fetches tipo 3, joins it with local rows and classifies every line.
func (s *ReportService) GetDashboard(ctx context.Context, filter datasul.ReportFilter) (*Dashboard, error) {
	if err := ValidateReportFilter(filter); err != nil {
		return nil, err
	}

	records, err := s.erp.FetchReportItems(ctx, filter)
	if err != nil {
		s.logger.Error("fetch report items failed",
			zap.String("encomenda", filter.Encomenda), zap.String("op", filter.OP),
			zap.String("fornecedor", filter.Fornecedor), zap.Error(err))
		return nil, externalError("Falha ao buscar dados da API externa", err)
	}

	rows, err := s.combine(ctx, records)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		ComFornecedor: []DashboardRow{},
		Retornadas:    []DashboardRow{},
		Concluidas:    []DashboardRow{},
		Todos:         rows,
	}
	for _, row := range rows {
		if IsWithSupplier(row) {
			d.ComFornecedor = append(d.ComFornecedor, row)
		}
		if IsReturned(row) {
			d.Retornadas = append(d.Retornadas, row)
		}
		if IsCompleted(row) {
			d.Concluidas = append(d.Concluidas, row)
		}
	}

	s.logger.Info("dashboard built",
		zap.Int("todos", len(d.Todos)),
		zap.Int("comFornecedor", len(d.ComFornecedor)),
		zap.Int("retornadas", len(d.Retornadas)),
		zap.Int("concluidas", len(d.Concluidas)))
	return d, nil
}

// GetChartData aggregates one bucket by status text or by supplier name.
func (s *ReportService) GetChartData(ctx context.Context, filter datasul.ReportFilter, bucket, dimension string) ([]ChartPoint, error) {
	d, err := s.GetDashboard(ctx, filter)
	if err != nil {
		return nil, err
	}
	if dimension == DimensionFornecedor {
		return SupplierChart(d.Bucket(bucket)), nil
	}
	return StatusChart(d.Bucket(bucket)), nil
}

// combine joins every record with its Item (four-field key) and Reservation (key + it_reserva).
// Local rows are loaded once per distinct OP.
func (s *ReportService) combine(ctx context.Context, records []datasul.ItemRecord) ([]DashboardRow, error) {
	rows := make([]DashboardRow, 0, len(records))
	if len(records) == 0 {
		return rows, nil
	}

	ops := distinctOrders(records)
	items, err := s.repos.Item.FindByOrders(ctx, ops)
	if err != nil {
		return nil, internalError("Falha ao combinar dados com o banco de dados", err)
	}
	reservations, err := s.repos.Reservation.FindByOrders(ctx, ops)
	if err != nil {
		return nil, internalError("Falha ao combinar dados com o banco de dados", err)
	}

	itemByKey := make(map[entity.ItemKey]*entity.Item, len(items))
	for i := range items {
		if k, ok := items[i].Key(); ok {
			if _, dup := itemByKey[k]; !dup {
				itemByKey[k] = &items[i]
			}
		}
	}
	resByKey := make(map[reservationKey]*entity.Reservation, len(reservations))
	for i := range reservations {
		if k, ok := keyOfReservation(&reservations[i]); ok {
			if _, dup := resByKey[k]; !dup {
				resByKey[k] = &reservations[i]
			}
		}
	}

	for i := range records {
		rec := &records[i]
		var (
			item *entity.Item
			res  *entity.Reservation
		)
		if k, ok := recordKey(rec); ok {
			item = itemByKey[k]
			res = resByKey[reservationKey{ItemKey: k, ItReserva: str(rec.ItReserva)}]
		}
		rows = append(rows, buildRow(i+1, rec, item, res))
	}
	return rows, nil
}

type reservationKey struct {
	entity.ItemKey
	ItReserva string
}

func keyOfReservation(r *entity.Reservation) (reservationKey, bool) {
	k, ok := r.Key()
	if !ok {
		return reservationKey{}, false
	}
	return reservationKey{ItemKey: k, ItReserva: str(r.ItReserva)}, true
}

func distinctOrders(records []datasul.ItemRecord) []int {
	seen := make(map[int]bool)
	ops := make([]int, 0)
	for _, rec := range records {
		if rec.NrOrdProdu == nil {
			continue
		}
		op := int(*rec.NrOrdProdu)
		if !seen[op] {
			seen[op] = true
			ops = append(ops, op)
		}
	}
	return ops
}

func buildRow(id int, rec *datasul.ItemRecord, item *entity.Item, res *entity.Reservation) DashboardRow {
	situacao := rec.Situacao.IntOr(0)
	if situacao == 0 {
		situacao = int(entity.StatusPending)
	}
	row := DashboardRow{
		ID:               id,
		Op:               rec.NrOrdProdu.IntOr(0),
		Oc:               rec.NumeroOrdem.IntOr(0),
		Situacao:         situacao,
		SituacaoTexto:    entity.DatasulStatusLabel(situacao),
		Encomenda:        str(rec.Encomenda),
		CodItem:          str(rec.ItCodigo),
		DescricaoItem:    str(rec.DescItem),
		Desenho:          DrawingCode(str(rec.ItCodigo)),
		CodReserva:       str(rec.ItReserva),
		DescricaoReserva: str(rec.DescReserva),
		Qtd:              rec.QtdItem.FloatOr(0),
		CodFornecedor:    rec.CodForn.IntOr(0),
		NomeFornecedor:   str(rec.NomeForn),
		NumeroNF:         str(rec.NotaFiscal),
		QtdSaldo:         rec.QtdSaldo.FloatOr(0),
		QtdAtendida:      rec.QtdAtendida.FloatOr(0),
		QtdEnviada:       rec.QtdEnviada.FloatOr(0),
	}

	if item != nil {
		row.Projeto = str(item.Projeto)
		row.Tag = str(item.Tag)
	}
	if res == nil {
		return row
	}
	if row.Projeto == "" {
		row.Projeto = str(res.Projeto)
	}
	if row.Tag == "" {
		row.Tag = str(res.Tag)
	}
	row.PesoBruto = floatOr(res.PesoBruto)
	row.PesoLiquido = floatOr(res.PesoLiquido)
	row.DataExpedicao = formatReportDate(res.DataExpedicao)
	row.UsuarioExpedicao = str(res.UsuarioExpedicao)
	row.DataSolicitacaoNF = formatReportDate(res.DataSolicitacaoNf)
	row.UsuarioSolicitacaoNF = str(res.UsuarioSolicitacaoNf)
	row.DataEmissaoNF = formatReportDate(res.DataEmissaoNf)
	row.UsuarioEmissaoNF = str(res.UsuarioEmissaoNf)
	if nf := str(res.NumeroNf); nf != "" {
		row.NumeroNF = nf
	}
	row.DataEntrega = formatReportDate(res.DataEntrega)
	return row
}

// DrawingCode part of the item code before "/", without its first "T".
func DrawingCode(itCodigo string) string {
	if itCodigo == "" {
		return ""
	}
	head, _, _ := strings.Cut(itCodigo, "/")
	return strings.Replace(head, "T", "", 1)
}

// IsWithSupplier balance left and not fully attended.
func IsWithSupplier(r DashboardRow) bool {
	saldo := decimal.NewFromFloat(r.QtdSaldo)
	return saldo.IsPositive() && !decimal.NewFromFloat(r.QtdAtendida).Equal(decimal.NewFromFloat(r.Qtd))
}

// IsReturned balance plus attended matches the ordered quantity, both positive.
func IsReturned(r DashboardRow) bool {
	saldo := decimal.NewFromFloat(r.QtdSaldo)
	atendida := decimal.NewFromFloat(r.QtdAtendida)
	diff := saldo.Add(atendida).Sub(decimal.NewFromFloat(r.Qtd)).Abs()
	return diff.LessThan(quantityTolerance) && saldo.IsPositive() && atendida.IsPositive()
}

// IsCompleted Datasul status 7 or 8 with no balance left.
func IsCompleted(r DashboardRow) bool {
	return (r.Situacao == 7 || r.Situacao == 8) && decimal.NewFromFloat(r.QtdSaldo).IsZero()
}

// StatusChart count per status text, full ranking.
func StatusChart(rows []DashboardRow) []ChartPoint {
	counts := countBy(rows, func(r DashboardRow) string { return r.SituacaoTexto })
	points := make([]ChartPoint, 0, len(counts))
	for _, c := range counts {
		points = append(points, ChartPoint{Situacao: c.label, Quantidade: c.n})
	}
	return points
}

// SupplierChart count per supplier name, top 10.
func SupplierChart(rows []DashboardRow) []ChartPoint {
	counts := countBy(rows, func(r DashboardRow) string {
		if strings.TrimSpace(r.NomeFornecedor) == "" {
			return noSupplierLabel
		}
		return r.NomeFornecedor
	})
	if len(counts) > supplierChartSize {
		counts = counts[:supplierChartSize]
	}
	points := make([]ChartPoint, 0, len(counts))
	for _, c := range counts {
		points = append(points, ChartPoint{Fornecedor: c.label, Quantidade: c.n})
	}
	return points
}

type labelCount struct {
	label string
	n     int
}

// countBy counts rows per label, descending; ties keep first-seen order.
func countBy(rows []DashboardRow, label func(DashboardRow) string) []labelCount {
	index := make(map[string]int)
	var counts []labelCount
	for _, r := range rows {
		l := label(r)
		if i, ok := index[l]; ok {
			counts[i].n++
			continue
		}
		index[l] = len(counts)
		counts = append(counts, labelCount{label: l, n: 1})
	}
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].n > counts[j].n })
	return counts
}

var dashboardExportHeaders = []string{
	"OP", "OC", "Situação", "Encomenda", "Item", "Descrição", "Desenho", "Reserva", "Descrição Reserva",
	"Qtd", "Saldo", "Atendida", "Enviada", "Projeto", "Tag", "Cód. Fornecedor", "Fornecedor",
	"Peso Bruto", "Peso Líquido", "Expedição", "Usuário Expedição", "Solicitação NF", "Emissão NF",
	"Número NF", "Entrega",
}

var dashboardSheets = []struct {
	name string
	rows func(*Dashboard) []DashboardRow
}{
	{"Com Fornecedor", func(d *Dashboard) []DashboardRow { return d.ComFornecedor }},
	{"Retornadas", func(d *Dashboard) []DashboardRow { return d.Retornadas }},
	{"Concluidas", func(d *Dashboard) []DashboardRow { return d.Concluidas }},
	{"Todos", func(d *Dashboard) []DashboardRow { return d.Todos }},
}

// ExportDashboard builds an xlsx workbook with one sheet per bucket.
func (s *ReportService) ExportDashboard(ctx context.Context, filter datasul.ReportFilter) (*excelize.File, string, error) {
	d, err := s.GetDashboard(ctx, filter)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	header, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	for i, sh := range dashboardSheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.name); err != nil {
				f.Close()
				return nil, "", internalError("Falha ao gerar planilha", err)
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			f.Close()
			return nil, "", internalError("Falha ao gerar planilha", err)
		}
		if err := writeDashboardSheet(f, sh.name, sh.rows(d), header); err != nil {
			f.Close()
			return nil, "", internalError("Falha ao gerar planilha", err)
		}
	}
	f.SetActiveSheet(0)

	filename := fmt.Sprintf("painel_ordens_producao_%s.xlsx", s.now().Format("20060102_1504"))
	return f, filename, nil
}

func writeDashboardSheet(f *excelize.File, sheet string, rows []DashboardRow, headerStyle int) error {
	for i, h := range dashboardExportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}
	for i, r := range rows {
		values := []interface{}{
			r.Op, r.Oc, r.SituacaoTexto, r.Encomenda, r.CodItem, r.DescricaoItem, r.Desenho, r.CodReserva, r.DescricaoReserva,
			r.Qtd, r.QtdSaldo, r.QtdAtendida, r.QtdEnviada, r.Projeto, r.Tag, r.CodFornecedor, r.NomeFornecedor,
			r.PesoBruto, r.PesoLiquido, r.DataExpedicao, r.UsuarioExpedicao, r.DataSolicitacaoNF, r.DataEmissaoNF,
			r.NumeroNF, r.DataEntrega,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	last, _ := excelize.ColumnNumberToName(len(dashboardExportHeaders))
	f.SetColWidth(sheet, "A", last, 14)
	return nil
}

func formatReportDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(reportDateLayout)
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func floatOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
