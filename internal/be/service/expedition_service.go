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

// ExpeditionService shipment reservations derived from quoted items.
type ExpeditionService struct {
	repos  *repository.Repositories
	erp    DatasulClient
	logger *zap.Logger
	now    func() time.Time
}

func NewExpeditionService(repos *repository.Repositories, erp DatasulClient, logger *zap.Logger, now func() time.Time) *ExpeditionService {
	return &ExpeditionService{repos: repos, erp: erp, logger: logger.Named("expedicao"), now: now}
}

// ExpeditionInput fields a user may set on a reservation.
type ExpeditionInput struct {
	QtdForn  *float64       `json:"qtdForn"`
	Situacao *entity.Status `json:"situacao"`
	Usuario  string         `json:"usuario"`
}

// FetchItems order lines available for shipment (tipo 2).
func (s *ExpeditionService) FetchItems(ctx context.Context, filter datasul.ItemFilter) ([]json.RawMessage, error) {
	items, err := s.erp.FetchItems(ctx, datasul.OpExpeditionItems, filter)
	if err != nil {
		s.logger.Error("fetch expedition items failed",
			zap.String("op", filter.OP), zap.String("oc", filter.OC), zap.String("encomenda", filter.Encomenda), zap.Error(err))
		return nil, externalError("Falha ao buscar itens da API externa", err)
	}
	return items, nil
}

// GetSavedReservations returns nothing when no filter is given; the table is never dumped whole.
func (s *ExpeditionService) GetSavedReservations(ctx context.Context, filter datasul.ItemFilter) ([]entity.Reservation, error) {
	f := toOrderFilter(filter)
	if f.IsEmpty() {
		return []entity.Reservation{}, nil
	}
	list, err := s.repos.Reservation.FindAll(ctx, f)
	if err != nil {
		return nil, internalError("Falha ao buscar reservas salvas", err)
	}
	return list, nil
}

// GetLiberatedItems items released in quotation (status 2).
func (s *ExpeditionService) GetLiberatedItems(ctx context.Context, filter datasul.ItemFilter) ([]entity.Item, error) {
	items, err := s.repos.Item.FindByStatus(ctx, entity.StatusLiberated, toOrderFilter(filter))
	if err != nil {
		return nil, internalError("Falha ao buscar itens liberados", err)
	}
	return items, nil
}

// SaveReservation creates or updates the reservation of the record's key + it_reserva.
// The parent item must exist; its supplier, project, tag and prices are copied on every save.
func (s *ExpeditionService) SaveReservation(ctx context.Context, rec *datasul.ItemRecord, in *ExpeditionInput) (*entity.Reservation, error) {
	key, ok := recordKey(rec)
	if !ok {
		return nil, validationError("Campos obrigatórios ausentes: nr_ord_produ, numero_ordem, encomenda, it_codigo")
	}
	if in == nil {
		in = &ExpeditionInput{}
	}
	user, err := requireUser(in.Usuario)
	if err != nil {
		return nil, err
	}
	if in.Situacao != nil && !in.Situacao.IsUserSettable() {
		return nil, validationError("Situação %d não pode ser definida na expedição.", *in.Situacao)
	}

	item, err := s.repos.Item.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("parent item not found", zap.Any("key", key))
			return nil, validationError("Item principal não encontrado em dbs_be_itens. Cadastre na Cotação primeiro.")
		}
		return nil, internalError("Erro ao buscar item principal", err)
	}

	itReserva := nonBlank(rec.ItReserva)
	existing, err := s.repos.Reservation.FindByKey(ctx, key, itReserva)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, internalError("Erro ao acessar repositório de reservas", err)
	}

	res := existing
	if res == nil {
		res = &entity.Reservation{
			NrOrdProd:   intPtr(key.NrOrdProd),
			NumeroOrdem: intPtr(key.NumeroOrdem),
			Encomenda:   strPtr(key.Encomenda),
			ItCodigo:    strPtr(key.ItCodigo),
			ItReserva:   itReserva,
		}
	} else if res.IsEmitted() {
		return nil, conflictError("Reserva %d já possui nota fiscal emitida.", res.CodItemReserva)
	}

	// ERP fields refresh what is stored when present
	refreshFromRecord(res, rec)
	res.CopyFromItem(item)

	available := res.QtdItem
	if in.QtdForn != nil {
		if err := checkShippedQuantity(*in.QtdForn, available); err != nil {
			return nil, err
		}
		res.QtdForn = in.QtdForn
		if res.DataInsercao == nil {
			res.DataInsercao = timePtr(s.now())
		}
		res.UsuarioInsercao = strPtr(user)
	}

	if in.Situacao != nil {
		if existing != nil {
			if res.IsLinked() {
				return nil, conflictError("Reserva %d está vinculada à solicitação %d. Remova-a da solicitação antes de alterar a situação.", res.CodItemReserva, *res.CodSolicitacao)
			}
			if !res.CurrentStatus().CanTransitionTo(*in.Situacao) {
				return nil, conflictError("Reserva na situação %d não pode passar para %d.", res.CurrentStatus(), *in.Situacao)
			}
		}
		res.Situacao = in.Situacao.Ptr()
		if *in.Situacao == entity.StatusLiberated {
			res.DataExpedicao = timePtr(s.now())
			res.UsuarioExpedicao = strPtr(user)
		} else {
			// back to pending: no longer shipped, so not eligible for an invoice request
			res.DataExpedicao = nil
			res.UsuarioExpedicao = nil
		}
	} else if res.Situacao == nil {
		status := entity.StatusPending
		if rec.Situacao != nil {
			status = entity.Status(*rec.Situacao)
		}
		res.Situacao = status.Ptr()
	}

	if existing == nil {
		if t := parseERPDate(rec.DataEmissao); t != nil {
			res.DataEmissao = t
		}
		res.PesoLiquido = rec.PesoLiquido.Float()
		res.PesoBruto = rec.PesoBruto.Float()
		res.DataInsercao = timePtr(s.now())
		res.UsuarioInsercao = strPtr(user)
		if err := s.repos.Reservation.Create(ctx, res); err != nil {
			return nil, internalError("Falha ao salvar a reserva", err)
		}
		s.logger.Info("reservation created", zap.Int("codItemReserva", res.CodItemReserva), zap.String("usuario", user))
		return res, nil
	}

	if err := s.repos.Reservation.Update(ctx, res); err != nil {
		return nil, internalError("Falha ao salvar a reserva", err)
	}
	s.logger.Info("reservation updated", zap.Int("codItemReserva", res.CodItemReserva), zap.String("usuario", user))
	return res, nil
}

// checkShippedQuantity 0 <= qty <= available. A missing available quantity counts as zero.
func checkShippedQuantity(qty float64, available *float64) error {
	if qty < 0 {
		return validationError("Quantidade a expedir deve ser maior ou igual a zero")
	}
	avail := decimal.Zero
	if available != nil {
		avail = decimal.NewFromFloat(*available)
	}
	q := decimal.NewFromFloat(qty)
	if q.GreaterThan(avail) {
		return validationError("Quantidade a expedir (%s) não pode ser maior que a quantidade disponível (%s)", q.String(), avail.String())
	}
	return nil
}

func refreshFromRecord(res *entity.Reservation, rec *datasul.ItemRecord) {
	if v := nonBlank(rec.DescItem); v != nil {
		res.DescItem = v
	}
	if v := nonBlank(rec.DescReserva); v != nil {
		res.DescReserva = v
	}
	if v := rec.CodCliente.Int(); v != nil {
		res.CodCliente = v
	}
	if v := nonBlank(rec.NomeCliente); v != nil {
		res.NomeCliente = v
	}
	if v := rec.QtdItem.Float(); v != nil {
		res.QtdItem = v
	}
	if v := rec.QtdSaldo.Float(); v != nil {
		res.Saldo = v
	}
	if v := rec.QtdAtendida.Float(); v != nil {
		res.QtdAtendida = v
	}
}

var erpDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// parseERPDate accepts the date formats Datasul sends; anything else is dropped.
func parseERPDate(s *string) *time.Time {
	if blank(s) {
		return nil
	}
	v := strings.TrimSpace(*s)
	for _, layout := range erpDateLayouts {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return &t
		}
	}
	return nil
}
