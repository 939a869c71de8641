package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/entity"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/repository"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/cache"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/datasul"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceEmissionService issues the invoice (tipo 5) for the reservations of an open request.
type InvoiceEmissionService struct {
	repos    *repository.Repositories
	erp      DatasulClient
	locker   EmissionLocker
	archiver ReceiptArchiver
	logger   *zap.Logger
	now      func() time.Time
}

func NewInvoiceEmissionService(repos *repository.Repositories, erp DatasulClient, locker EmissionLocker, archiver ReceiptArchiver, logger *zap.Logger, now func() time.Time) *InvoiceEmissionService {
	return &InvoiceEmissionService{
		repos:    repos,
		erp:      erp,
		locker:   locker,
		archiver: archiver,
		logger:   logger.Named("emissao_nf"),
		now:      now,
	}
}

// AwaitingEmissionItem row of the awaiting-emission list.
type AwaitingEmissionItem struct {
	CodSolicitacao  int        `json:"codSolicitacao"`
	Op              *int       `json:"op"`
	Oc              *int       `json:"oc"`
	Situacao        *int       `json:"situacao"`
	Encomenda       *string    `json:"encomenda"`
	CodItem         *string    `json:"codItem"`
	DescItem        *string    `json:"descItem"`
	CodReserva      *string    `json:"codReserva"`
	DescReserva     *string    `json:"descReserva"`
	CodFornecedor   *int       `json:"codFornecedor"`
	NomeFornecedor  *string    `json:"nomeFornecedor"`
	Quantidade      *float64   `json:"quantidade"`
	PesoLiquido     *float64   `json:"pesoLiquido"`
	PesoBruto       *float64   `json:"pesoBruto"`
	CodItemReserva  int        `json:"codItemReserva"`
	DataSolicitacao *time.Time `json:"dataSolicitacao"`
}

// AwaitingRequest open request with the number of reservations still to invoice.
type AwaitingRequest struct {
	CodSolicitacao  int       `json:"codSolicitacao"`
	DataSolicitacao time.Time `json:"dataSolicitacao"`
	QuantidadeItens int64     `json:"quantidadeItens"`
}

// EmissionResponse outcome of an emission.
type EmissionResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	NumeroNF         string `json:"numeroNF,omitempty"`
	ItensProcessados int    `json:"itensProcessados"`
}

// GetItemsAwaitingEmission shipped reservations of open requests without an invoice, oldest request first.
func (s *InvoiceEmissionService) GetItemsAwaitingEmission(ctx context.Context, filter datasul.ItemFilter) ([]AwaitingEmissionItem, error) {
	list, err := s.repos.Reservation.FindAwaitingEmission(ctx, toOrderFilter(filter))
	if err != nil {
		return nil, internalError("Falha ao buscar itens para emissão de NF", err)
	}

	rows := make([]AwaitingEmissionItem, 0, len(list))
	for i := range list {
		res := &list[i]
		row := AwaitingEmissionItem{
			Op:             res.NrOrdProd,
			Oc:             res.NumeroOrdem,
			Encomenda:      res.Encomenda,
			CodItem:        res.ItCodigo,
			DescItem:       res.DescItem,
			CodReserva:     res.ItReserva,
			DescReserva:    res.DescReserva,
			CodFornecedor:  res.CodFornecedor,
			NomeFornecedor: res.NomeFornecedor,
			Quantidade:     res.QtdForn,
			PesoLiquido:    res.PesoLiquido,
			PesoBruto:      res.PesoBruto,
			CodItemReserva: res.CodItemReserva,
		}
		if res.CodSolicitacao != nil {
			row.CodSolicitacao = *res.CodSolicitacao
		}
		if res.Situacao != nil {
			row.Situacao = intPtr(int(*res.Situacao))
		}
		if res.Solicitacao != nil {
			row.DataSolicitacao = timePtr(res.Solicitacao.DataSolicitacao)
		}
		rows = append(rows, row)
	}
	s.logger.Debug("items awaiting emission", zap.Int("total", len(rows)))
	return rows, nil
}

// GetRequestsAwaitingEmission open requests that still have reservations to invoice, oldest first.
func (s *InvoiceEmissionService) GetRequestsAwaitingEmission(ctx context.Context) ([]AwaitingRequest, error) {
	requests, err := s.repos.InvoiceRequest.FindByStatus(ctx, entity.RequestStatusOpen)
	if err != nil {
		return nil, internalError("Falha ao buscar solicitações para emissão de NF", err)
	}
	if len(requests) == 0 {
		return []AwaitingRequest{}, nil
	}

	ids := make([]int, 0, len(requests))
	for _, req := range requests {
		ids = append(ids, req.CodSolicitacao)
	}
	counts, err := s.repos.Reservation.CountPendingEmissionByRequest(ctx, ids)
	if err != nil {
		return nil, internalError("Falha ao buscar solicitações para emissão de NF", err)
	}
	pending := make(map[int]int64, len(counts))
	for _, c := range counts {
		pending[c.CodSolicitacao] = c.Total
	}

	rows := make([]AwaitingRequest, 0, len(requests))
	for _, req := range requests {
		n := pending[req.CodSolicitacao]
		if n == 0 {
			continue
		}
		rows = append(rows, AwaitingRequest{
			CodSolicitacao:  req.CodSolicitacao,
			DataSolicitacao: req.DataSolicitacao,
			QuantidadeItens: n,
		})
	}
	return rows, nil
}

// EmitInvoice emits one invoice for the given reservations of codSolicitacao.
// Either every reservation is stamped and the request closed, or nothing is written.
func (s *InvoiceEmissionService) EmitInvoice(ctx context.Context, items []RequestItem, user string, codSolicitacao int) (*EmissionResponse, error) {
	if len(items) == 0 {
		return nil, validationError("Informe ao menos um item para emissão.")
	}
	if codSolicitacao <= 0 {
		return nil, validationError("Solicitação inválida.")
	}
	user, err := requireUser(user)
	if err != nil {
		return nil, err
	}
	ids := uniqueReservationIDs(items)

	log := s.logger.With(zap.Int("codSolicitacao", codSolicitacao), zap.Ints("reservas", ids), zap.String("usuario", user))
	log.Info("invoice emission started")

	if s.locker != nil {
		release, err := s.locker.AcquireEmissionLock(ctx, codSolicitacao)
		if err != nil {
			if errors.Is(err, cache.ErrLockHeld) {
				return nil, conflictError("Emissão da solicitação %d já está em andamento.", codSolicitacao)
			}
			// row locks below still serialize emissions of the same reservations
			log.Warn("emission lock unavailable, continuing without it", zap.Error(err))
		} else {
			defer release()
		}
	}

	var (
		emission *datasul.EmissionRequest
		result   *datasul.EmissionResult
		emitted  time.Time
	)
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		req, err := tx.InvoiceRequest.FindByIDForUpdate(ctx, codSolicitacao)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return notFoundError("Solicitação %d não encontrada", codSolicitacao)
			}
			return internalError("Erro ao buscar solicitação", err)
		}
		if req.Situacao != entity.RequestStatusOpen {
			return conflictError("Solicitação %d não está aberta para emissão", codSolicitacao)
		}

		reservations := make([]*entity.Reservation, 0, len(ids))
		for _, id := range ids {
			res, err := tx.Reservation.FindByIDForUpdate(ctx, id)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return internalError("Erro ao buscar reserva", err)
			}
			if res == nil || !res.IsLinked() || *res.CodSolicitacao != codSolicitacao || !res.IsShipped() || res.IsEmitted() {
				return conflictError("Item %d não encontrado ou não está apto para emissão", id)
			}
			reservations = append(reservations, res)
		}

		supplier, err := singleSupplier(reservations)
		if err != nil {
			return err
		}

		emission = &datasul.EmissionRequest{
			CodFornecedor:  supplier,
			Itens:          emissionParams(reservations),
			CodSolicitacao: codSolicitacao,
		}
		result, err = s.erp.EmitInvoice(ctx, *emission)
		if err != nil {
			return externalError("Erro ao emitir nota fiscal", err)
		}

		emitted = s.now()
		for _, res := range reservations {
			if err := tx.Reservation.MarkEmitted(ctx, res.CodItemReserva, result.NumeroNF, user, emitted); err != nil {
				return storageError(fmt.Sprintf("Erro ao registrar emissão do item %d", res.CodItemReserva), err)
			}
			if err := mirrorItemStatus(ctx, tx, s.logger, res, entity.StatusInvoiceEmitted); err != nil {
				return err
			}
		}

		if err := tx.InvoiceRequest.UpdateStatus(ctx, codSolicitacao, entity.RequestStatusClosed); err != nil {
			return storageError(fmt.Sprintf("Solicitação %d não encontrada", codSolicitacao), err)
		}
		return nil
	})
	if err != nil {
		log.Error("invoice emission failed", zap.Error(err))
		return nil, err
	}

	log.Info("invoice emitted", zap.String("numeroNF", result.NumeroNF))
	s.archive(ctx, emission, result, user, ids, emitted)

	return &EmissionResponse{
		Success:          true,
		Message:          fmt.Sprintf("NF %s emitida com sucesso", result.NumeroNF),
		NumeroNF:         result.NumeroNF,
		ItensProcessados: len(ids),
	}, nil
}

// archive stores the emission receipt. Failures are only logged: the invoice already exists.
func (s *InvoiceEmissionService) archive(ctx context.Context, req *datasul.EmissionRequest, result *datasul.EmissionResult, user string, ids []int, at time.Time) {
	if s.archiver == nil {
		return
	}
	receipt := storage.EmissionReceipt{
		CodSolicitacao: req.CodSolicitacao,
		CodFornecedor:  req.CodFornecedor,
		Itens:          req.Itens,
		NumeroNF:       result.NumeroNF,
		Usuario:        user,
		Reservas:       ids,
		EmitidoEm:      at,
		Response:       json.RawMessage(result.Raw),
	}
	name, err := s.archiver.ArchiveEmission(ctx, receipt)
	if err != nil {
		s.logger.Warn("archive emission receipt failed",
			zap.Int("codSolicitacao", req.CodSolicitacao), zap.String("numeroNF", result.NumeroNF), zap.Error(err))
		return
	}
	s.logger.Debug("emission receipt archived", zap.String("object", name))
}

// singleSupplier returns the supplier shared by every reservation.
func singleSupplier(reservations []*entity.Reservation) (int, error) {
	var supplier *int
	for _, res := range reservations {
		if res.CodFornecedor == nil {
			return 0, validationError("Item %d sem fornecedor definido.", res.CodItemReserva)
		}
		if supplier == nil {
			supplier = res.CodFornecedor
			continue
		}
		if *supplier != *res.CodFornecedor {
			return 0, validationError("Todos os itens devem ser do mesmo fornecedor.")
		}
	}
	if supplier == nil {
		return 0, validationError("Todos os itens devem ser do mesmo fornecedor.")
	}
	return *supplier, nil
}

// emissionParams builds "itCodigo|qtd|preco" per reservation joined by ";".
// The quantity is the shipped one, falling back to the ordered quantity.
func emissionParams(reservations []*entity.Reservation) string {
	parts := make([]string, 0, len(reservations))
	for _, res := range reservations {
		qty := res.QtdForn
		if qty == nil {
			qty = res.QtdItem
		}
		code := ""
		if res.ItCodigo != nil {
			code = *res.ItCodigo
		}
		parts = append(parts, code+"|"+fixed5(qty)+"|"+fixed5(res.PrecoUnitario))
	}
	return strings.Join(parts, ";")
}

func fixed5(v *float64) string {
	if v == nil {
		return decimal.Zero.StringFixed(5)
	}
	return decimal.NewFromFloat(*v).StringFixed(5)
}
