package service

import (
	"context"
	"errors"
	"time"

	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/entity"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/repository"
	"go.uber.org/zap"
)

// InvoiceRequestService groups shipped reservations into invoice requests.
// Linking, unlinking and the parent item mirror run in one transaction.
type InvoiceRequestService struct {
	repos  *repository.Repositories
	logger *zap.Logger
	now    func() time.Time
}

func NewInvoiceRequestService(repos *repository.Repositories, logger *zap.Logger, now func() time.Time) *InvoiceRequestService {
	return &InvoiceRequestService{repos: repos, logger: logger.Named("solicitacao_nf"), now: now}
}

// RequestItem reference to a reservation in a create request.
type RequestItem struct {
	CodItemReserva int `json:"codItemReserva" binding:"required"`
}

// CreateInvoiceRequestResult created request and number of linked reservations.
type CreateInvoiceRequestResult struct {
	Solicitacao     *entity.InvoiceRequest `json:"solicitacao"`
	ItensVinculados int                    `json:"itensVinculados"`
}

// ListEligibleOrders production orders with shipped reservations not yet in a request.
func (s *InvoiceRequestService) ListEligibleOrders(ctx context.Context) ([]repository.OrderCount, error) {
	rows, err := s.repos.Reservation.CountEligibleByOrder(ctx)
	if err != nil {
		return nil, internalError("Erro ao buscar ordens de produção", err)
	}
	return rows, nil
}

// ListReservationsByOrder shipped, unlinked reservations of one OP.
func (s *InvoiceRequestService) ListReservationsByOrder(ctx context.Context, op int) ([]entity.Reservation, error) {
	list, err := s.repos.Reservation.FindEligibleByOrder(ctx, op)
	if err != nil {
		return nil, internalError("Erro ao buscar reservas da OP", err)
	}
	return list, nil
}

// ListInvoiceRequests newest first.
func (s *InvoiceRequestService) ListInvoiceRequests(ctx context.Context) ([]entity.InvoiceRequest, error) {
	list, err := s.repos.InvoiceRequest.FindAll(ctx)
	if err != nil {
		return nil, internalError("Erro ao buscar solicitações de NF", err)
	}
	return list, nil
}

func (s *InvoiceRequestService) ListReservationsByRequest(ctx context.Context, codSolicitacao int) ([]entity.Reservation, error) {
	list, err := s.repos.Reservation.FindByRequest(ctx, codSolicitacao)
	if err != nil {
		return nil, internalError("Erro ao buscar reservas da solicitação", err)
	}
	return list, nil
}

func (s *InvoiceRequestService) GetInvoiceRequest(ctx context.Context, codSolicitacao int) (*entity.InvoiceRequest, error) {
	req, err := s.repos.InvoiceRequest.FindByID(ctx, codSolicitacao)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("Solicitação %d não encontrada", codSolicitacao)
		}
		return nil, internalError("Erro ao buscar solicitação", err)
	}
	return req, nil
}

// CreateInvoiceRequest links every reservation to a new open request.
// Any reservation that is not shipped or already linked fails the whole call and nothing is written.
func (s *InvoiceRequestService) CreateInvoiceRequest(ctx context.Context, items []RequestItem, user string) (*CreateInvoiceRequestResult, error) {
	if len(items) == 0 {
		return nil, validationError("Informe ao menos um item para a solicitação.")
	}
	user, err := requireUser(user)
	if err != nil {
		return nil, err
	}
	ids := uniqueReservationIDs(items)

	var result *CreateInvoiceRequestResult
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		reservations := make([]*entity.Reservation, 0, len(ids))
		for _, id := range ids {
			res, err := tx.Reservation.FindByIDForUpdate(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return conflictError("Reserva %d não encontrada ou já vinculada", id)
				}
				return internalError("Erro ao buscar reserva", err)
			}
			if !res.IsShipped() || res.IsLinked() {
				return conflictError("Reserva %d não encontrada ou já vinculada", id)
			}
			if st := res.CurrentStatus(); st.IsKnown() && !st.CanTransitionTo(entity.StatusInvoiceRequested) {
				return conflictError("Reserva %d na situação %d não pode ser solicitada", id, st)
			}
			reservations = append(reservations, res)
		}

		now := s.now()
		req := &entity.InvoiceRequest{
			DataSolicitacao:    now,
			Situacao:           entity.RequestStatusOpen,
			UsuarioSolicitacao: user,
		}
		if err := tx.InvoiceRequest.Create(ctx, req); err != nil {
			return internalError("Erro ao criar solicitação de NF", err)
		}

		for _, res := range reservations {
			if err := tx.Reservation.Link(ctx, res.CodItemReserva, req.CodSolicitacao, user, now); err != nil {
				return internalError("Erro ao vincular reserva", err)
			}
			if err := mirrorItemStatus(ctx, tx, s.logger, res, entity.StatusInvoiceRequested); err != nil {
				return err
			}
		}

		result = &CreateInvoiceRequestResult{Solicitacao: req, ItensVinculados: len(reservations)}
		return nil
	})
	if err != nil {
		s.logger.Error("create invoice request failed", zap.Ints("reservas", ids), zap.String("usuario", user), zap.Error(err))
		return nil, err
	}

	s.logger.Info("invoice request created",
		zap.Int("codSolicitacao", result.Solicitacao.CodSolicitacao),
		zap.Int("itensVinculados", result.ItensVinculados),
		zap.String("usuario", user))
	return result, nil
}

// DetachReservation removes a reservation from its request and returns it to Liberated.
func (s *InvoiceRequestService) DetachReservation(ctx context.Context, codItemReserva int) error {
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		res, err := tx.Reservation.FindByIDForUpdate(ctx, codItemReserva)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return notFoundError("Item %d não encontrado", codItemReserva)
			}
			return internalError("Erro ao buscar reserva", err)
		}
		if !res.IsLinked() {
			return conflictError("Item %d não está vinculado a uma solicitação", codItemReserva)
		}
		if res.IsEmitted() {
			return conflictError("Item %d já possui nota fiscal emitida", codItemReserva)
		}
		if st := res.CurrentStatus(); st.IsKnown() && !st.CanTransitionTo(entity.StatusLiberated) {
			return conflictError("Item %d na situação %d não pode ser removido da solicitação", codItemReserva, st)
		}

		if err := tx.Reservation.Unlink(ctx, codItemReserva); err != nil {
			return internalError("Erro ao remover item da solicitação", err)
		}
		return mirrorItemStatus(ctx, tx, s.logger, res, entity.StatusLiberated)
	})
	if err != nil {
		s.logger.Error("detach reservation failed", zap.Int("codItemReserva", codItemReserva), zap.Error(err))
		return err
	}
	s.logger.Info("reservation detached from invoice request", zap.Int("codItemReserva", codItemReserva))
	return nil
}

// mirrorItemStatus reflects status onto the parent item. A missing parent is only logged;
// any other storage error aborts the surrounding transaction.
func mirrorItemStatus(ctx context.Context, tx *repository.Repositories, logger *zap.Logger, res *entity.Reservation, status entity.Status) error {
	if res.CodItemBe == nil {
		logger.Warn("reservation without parent item", zap.Int("codItemReserva", res.CodItemReserva))
		return nil
	}
	err := tx.Item.UpdateStatus(ctx, *res.CodItemBe, status)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("parent item not found, status not mirrored",
			zap.Int("codItemReserva", res.CodItemReserva),
			zap.Int("codItemBe", *res.CodItemBe),
			zap.Stringer("situacao", status))
		return nil
	}
	if err != nil {
		return internalError("Erro ao atualizar situação do item", err)
	}
	return nil
}

func uniqueReservationIDs(items []RequestItem) []int {
	seen := make(map[int]bool, len(items))
	ids := make([]int, 0, len(items))
	for _, it := range items {
		if seen[it.CodItemReserva] {
			continue
		}
		seen[it.CodItemReserva] = true
		ids = append(ids, it.CodItemReserva)
	}
	return ids
}
