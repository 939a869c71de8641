package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/entity"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/repository"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/datasul"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/storage"
	"go.uber.org/zap"
)

// DatasulClient outbound ERP calls used by the services.
type DatasulClient interface {
	FetchItems(ctx context.Context, op datasul.Operation, filter datasul.ItemFilter) ([]json.RawMessage, error)
	FetchReportItems(ctx context.Context, filter datasul.ReportFilter) ([]datasul.ItemRecord, error)
	SearchSuppliers(ctx context.Context, term string) ([]json.RawMessage, error)
	EmitInvoice(ctx context.Context, req datasul.EmissionRequest) (*datasul.EmissionResult, error)
}

// SupplierCache caches supplier search results.
type SupplierCache interface {
	GetSuppliers(ctx context.Context, term string) ([]json.RawMessage, bool)
	SetSuppliers(ctx context.Context, term string, list []json.RawMessage) error
}

// EmissionLocker serializes emissions of the same invoice request across instances.
type EmissionLocker interface {
	AcquireEmissionLock(ctx context.Context, codSolicitacao int) (release func(), err error)
}

// ReceiptArchiver stores what was exchanged with Datasul for an emitted invoice.
type ReceiptArchiver interface {
	ArchiveEmission(ctx context.Context, receipt storage.EmissionReceipt) (string, error)
}

// Options optional collaborators. Nil fields disable the feature.
type Options struct {
	Logger   *zap.Logger
	Cache    SupplierCache
	Locker   EmissionLocker
	Archiver ReceiptArchiver
	Now      func() time.Time
}

// Services service set
type Services struct {
	Quotation       *QuotationService
	Expedition      *ExpeditionService
	InvoiceRequest  *InvoiceRequestService
	InvoiceEmission *InvoiceEmissionService
	Report          *ReportService
}

func NewServices(repos *repository.Repositories, erp DatasulClient, opts Options) *Services {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Services{
		Quotation:       NewQuotationService(repos, erp, opts.Cache, opts.Logger, opts.Now),
		Expedition:      NewExpeditionService(repos, erp, opts.Logger, opts.Now),
		InvoiceRequest:  NewInvoiceRequestService(repos, opts.Logger, opts.Now),
		InvoiceEmission: NewInvoiceEmissionService(repos, erp, opts.Locker, opts.Archiver, opts.Logger, opts.Now),
		Report:          NewReportService(repos, erp, opts.Logger, opts.Now),
	}
}

// toOrderFilter converts query filters. Non-numeric op/oc are ignored.
func toOrderFilter(f datasul.ItemFilter) repository.OrderFilter {
	return repository.OrderFilter{
		Encomenda: strings.TrimSpace(f.Encomenda),
		OP:        parseIntPtr(f.OP),
		OC:        parseIntPtr(f.OC),
	}
}

func parseIntPtr(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &n
}

// recordKey four-field key of an ERP record; ok is false when a field is missing.
func recordKey(rec *datasul.ItemRecord) (entity.ItemKey, bool) {
	if rec == nil || rec.NrOrdProdu == nil || rec.NumeroOrdem == nil || blank(rec.Encomenda) || blank(rec.ItCodigo) {
		return entity.ItemKey{}, false
	}
	return entity.ItemKey{
		NrOrdProd:   int(*rec.NrOrdProdu),
		NumeroOrdem: int(*rec.NumeroOrdem),
		Encomenda:   strings.TrimSpace(*rec.Encomenda),
		ItCodigo:    strings.TrimSpace(*rec.ItCodigo),
	}, true
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// nonBlank returns nil for nil or whitespace-only strings.
func nonBlank(s *string) *string {
	if blank(s) {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func strPtr(s string) *string {
	return &s
}

func intPtr(n int) *int {
	return &n
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func requireUser(user string) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", validationError("Usuário é obrigatório.")
	}
	return user, nil
}
