package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/entity"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/repository"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/datasul"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QuotationService supplier, price and project entered against Datasul order lines.
type QuotationService struct {
	repos  *repository.Repositories
	erp    DatasulClient
	cache  SupplierCache
	logger *zap.Logger
	now    func() time.Time
}

func NewQuotationService(repos *repository.Repositories, erp DatasulClient, cache SupplierCache, logger *zap.Logger, now func() time.Time) *QuotationService {
	return &QuotationService{repos: repos, erp: erp, cache: cache, logger: logger.Named("cotacao"), now: now}
}

// QuotationInput fields a user may set on a quotation line. Nil = not supplied.
type QuotationInput struct {
	CodFornecedor  *int           `json:"codFornecedor"`
	NomeFornecedor *string        `json:"nomeFornecedor"`
	PrecoUnit      *float64       `json:"precoUnit"`
	Projeto        *string        `json:"projeto"`
	Tag            *string        `json:"tag"`
	Situacao       *entity.Status `json:"situacao"`
	UsuarioCotacao string         `json:"usuarioCotacao"`
}

func (in *QuotationInput) hasAnyField() bool {
	return in.CodFornecedor != nil || in.PrecoUnit != nil || in.Projeto != nil || in.Tag != nil || in.Situacao != nil
}

// FetchItems order lines available for quotation (tipo 1).
func (s *QuotationService) FetchItems(ctx context.Context, filter datasul.ItemFilter) ([]json.RawMessage, error) {
	items, err := s.erp.FetchItems(ctx, datasul.OpQuotationItems, filter)
	if err != nil {
		s.logger.Error("fetch quotation items failed",
			zap.String("op", filter.OP), zap.String("oc", filter.OC), zap.String("encomenda", filter.Encomenda), zap.Error(err))
		return nil, externalError("Falha ao buscar itens da API externa", err)
	}
	return items, nil
}

// GetSavedItems local items; every filter is optional.
func (s *QuotationService) GetSavedItems(ctx context.Context, filter datasul.ItemFilter) ([]entity.Item, error) {
	items, err := s.repos.Item.FindAll(ctx, toOrderFilter(filter))
	if err != nil {
		return nil, internalError("Falha ao buscar itens salvos do banco", err)
	}
	return items, nil
}

// SearchSuppliers supplier lookup (tipo 4), cached when a cache is configured.
func (s *QuotationService) SearchSuppliers(ctx context.Context, term string) ([]json.RawMessage, error) {
	term = strings.TrimSpace(term)
	if s.cache != nil {
		if list, ok := s.cache.GetSuppliers(ctx, term); ok {
			return list, nil
		}
	}
	list, err := s.erp.SearchSuppliers(ctx, term)
	if err != nil {
		s.logger.Error("supplier search failed", zap.String("termo", term), zap.Error(err))
		return nil, externalError("Falha ao buscar fornecedores da API externa", err)
	}
	if s.cache != nil {
		if err := s.cache.SetSuppliers(ctx, term, list); err != nil {
			s.logger.Warn("cache supplier search failed", zap.String("termo", term), zap.Error(err))
		}
	}
	return list, nil
}

// SaveItem creates or partially updates the item identified by the record's four-field key.
func (s *QuotationService) SaveItem(ctx context.Context, rec *datasul.ItemRecord, in *QuotationInput) (*entity.Item, error) {
	if in == nil || !in.hasAnyField() {
		return nil, validationError("Pelo menos um dos seguintes deve ser fornecido: Fornecedor, Preço unitário, Projeto, Tag ou Situação.")
	}
	user, err := requireUser(in.UsuarioCotacao)
	if err != nil {
		return nil, err
	}
	if in.Situacao != nil && !in.Situacao.IsUserSettable() {
		return nil, validationError("Situação %d não pode ser definida na cotação.", *in.Situacao)
	}
	if in.PrecoUnit != nil && *in.PrecoUnit < 0 {
		return nil, validationError("Preço unitário deve ser maior ou igual a zero.")
	}
	key, ok := recordKey(rec)
	if !ok {
		return nil, validationError("Campos obrigatórios ausentes: nr_ord_produ, numero_ordem, encomenda, it_codigo")
	}

	precoTotal := totalPrice(in.PrecoUnit, rec.QtdItem.Float())
	now := s.now()

	existing, err := s.repos.Item.FindByKey(ctx, key)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, internalError("Falha ao buscar item", err)
	}

	if existing != nil {
		if in.Situacao != nil && !existing.CurrentStatus().CanTransitionTo(*in.Situacao) {
			return nil, conflictError("Item na situação %d não pode passar para %d.", existing.CurrentStatus(), *in.Situacao)
		}
		if in.CodFornecedor != nil {
			existing.CodFornecedor = in.CodFornecedor
		}
		if in.NomeFornecedor != nil {
			existing.NomeFornecedor = in.NomeFornecedor
		}
		if in.PrecoUnit != nil {
			existing.PrecoUnit = in.PrecoUnit
			existing.PrecoTotal = precoTotal
		}
		if in.Projeto != nil {
			existing.Projeto = in.Projeto
		}
		if in.Tag != nil {
			existing.Tag = in.Tag
		}
		if in.Situacao != nil {
			existing.Situacao = in.Situacao.Ptr()
		}
		existing.DataCotacao = timePtr(now)
		existing.UsuarioCotacao = strPtr(user)

		if err := s.repos.Item.Update(ctx, existing); err != nil {
			return nil, internalError("Falha ao salvar o item.", err)
		}
		s.logger.Info("quotation item updated", zap.Int("codItemBe", existing.CodItemBe), zap.String("usuario", user))
		return existing, nil
	}

	status := entity.StatusPending
	switch {
	case in.Situacao != nil:
		status = *in.Situacao
	case rec.Situacao != nil:
		status = entity.Status(*rec.Situacao)
	}

	item := &entity.Item{
		NrOrdProd:      intPtr(key.NrOrdProd),
		NumeroOrdem:    intPtr(key.NumeroOrdem),
		ItCodigo:       strPtr(key.ItCodigo),
		DescItem:       nonBlank(rec.DescItem),
		Encomenda:      strPtr(key.Encomenda),
		CodCliente:     rec.CodCliente.Int(),
		NomeCliente:    nonBlank(rec.NomeCliente),
		QtdItem:        rec.QtdItem.Float(),
		CodFornecedor:  in.CodFornecedor,
		NomeFornecedor: in.NomeFornecedor,
		PrecoUnit:      in.PrecoUnit,
		PrecoTotal:     precoTotal,
		Situacao:       status.Ptr(),
		Projeto:        in.Projeto,
		Tag:            in.Tag,
		DataCotacao:    timePtr(now),
		UsuarioCotacao: strPtr(user),
	}
	if err := s.repos.Item.Create(ctx, item); err != nil {
		return nil, internalError("Falha ao salvar o item.", err)
	}
	s.logger.Info("quotation item created", zap.Int("codItemBe", item.CodItemBe), zap.String("usuario", user))
	return item, nil
}

// totalPrice unit price × quantity with decimal arithmetic, rounded to 5 places.
func totalPrice(unit, qty *float64) *float64 {
	if unit == nil || qty == nil {
		return nil
	}
	total, _ := decimal.NewFromFloat(*unit).Mul(decimal.NewFromFloat(*qty)).Round(5).Float64()
	return &total
}
