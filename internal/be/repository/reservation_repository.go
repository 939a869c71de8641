package repository

import (
	"context"
	"time"

	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/entity"
	"gorm.io/gorm"
)

const reservationTable = "dbs_be_itens_reservas"

type ReservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// OrderCount number of reservations per production order.
type OrderCount struct {
	Op              int   `json:"op" gorm:"column:op"`
	QuantidadeItens int64 `json:"quantidadeItens" gorm:"column:quantidade_itens"`
}

// RequestCount number of reservations per invoice request.
type RequestCount struct {
	CodSolicitacao int   `gorm:"column:cod_solicitacao"`
	Total          int64 `gorm:"column:total"`
}

func (r *ReservationRepository) FindAll(ctx context.Context, filter OrderFilter) ([]entity.Reservation, error) {
	var list []entity.Reservation
	query := filter.apply(r.db.WithContext(ctx).Model(&entity.Reservation{}), "")
	err := query.Order("nr_ord_prod ASC, numero_ordem ASC, cod_item_reserva ASC").Find(&list).Error
	return list, err
}

// FindByIDForUpdate loads one reservation, holding a row lock until the transaction ends.
func (r *ReservationRepository) FindByIDForUpdate(ctx context.Context, id int) (*entity.Reservation, error) {
	var res entity.Reservation
	if err := forUpdate(r.db.WithContext(ctx)).First(&res, "cod_item_reserva = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &res, nil
}

// FindByKey looks a reservation up by item key plus it_reserva (nil matches rows without one).
func (r *ReservationRepository) FindByKey(ctx context.Context, key entity.ItemKey, itReserva *string) (*entity.Reservation, error) {
	query := r.db.WithContext(ctx).
		Where("nr_ord_prod = ? AND numero_ordem = ? AND encomenda = ? AND it_codigo = ?",
			key.NrOrdProd, key.NumeroOrdem, key.Encomenda, key.ItCodigo)
	if itReserva == nil {
		query = query.Where("it_reserva IS NULL")
	} else {
		query = query.Where("it_reserva = ?", *itReserva)
	}

	var res entity.Reservation
	if err := query.Order("cod_item_reserva ASC").First(&res).Error; err != nil {
		return nil, translate(err)
	}
	return &res, nil
}

// FindByOrders all reservations of the given production orders.
func (r *ReservationRepository) FindByOrders(ctx context.Context, ops []int) ([]entity.Reservation, error) {
	var list []entity.Reservation
	if len(ops) == 0 {
		return list, nil
	}
	err := r.db.WithContext(ctx).Where("nr_ord_prod IN ?", ops).Order("cod_item_reserva ASC").Find(&list).Error
	return list, err
}

// CountEligibleByOrder groups shipped reservations not yet linked to an invoice request by OP.
func (r *ReservationRepository) CountEligibleByOrder(ctx context.Context) ([]OrderCount, error) {
	var rows []OrderCount
	err := r.db.WithContext(ctx).Model(&entity.Reservation{}).
		Select("nr_ord_prod AS op, COUNT(*) AS quantidade_itens").
		Where("data_expedicao IS NOT NULL AND cod_solicitacao IS NULL AND nr_ord_prod IS NOT NULL").
		Group("nr_ord_prod").
		Order("nr_ord_prod ASC").
		Scan(&rows).Error
	return rows, err
}

// FindEligibleByOrder shipped, unlinked reservations of one production order.
func (r *ReservationRepository) FindEligibleByOrder(ctx context.Context, op int) ([]entity.Reservation, error) {
	var list []entity.Reservation
	err := r.db.WithContext(ctx).
		Where("nr_ord_prod = ? AND data_expedicao IS NOT NULL AND cod_solicitacao IS NULL", op).
		Order("numero_ordem ASC, cod_item_reserva ASC").
		Find(&list).Error
	return list, err
}

func (r *ReservationRepository) FindByRequest(ctx context.Context, codSolicitacao int) ([]entity.Reservation, error) {
	var list []entity.Reservation
	err := r.db.WithContext(ctx).
		Where("cod_solicitacao = ?", codSolicitacao).
		Order("cod_item_reserva ASC").
		Find(&list).Error
	return list, err
}

// FindAwaitingEmission shipped reservations linked to an open request and not yet invoiced,
// oldest request first. Solicitacao is preloaded.
func (r *ReservationRepository) FindAwaitingEmission(ctx context.Context, filter OrderFilter) ([]entity.Reservation, error) {
	var list []entity.Reservation
	query := r.db.WithContext(ctx).Model(&entity.Reservation{}).
		Select(reservationTable+".*").
		Joins("JOIN dbs_be_solicitacoes_nf s ON s.cod_solicitacao = "+reservationTable+".cod_solicitacao").
		Where("s.situacao = ?", entity.RequestStatusOpen).
		Where(reservationTable + ".data_expedicao IS NOT NULL").
		Where(reservationTable + ".data_emissao_nf IS NULL")
	query = filter.apply(query, reservationTable)

	err := query.Preload("Solicitacao").
		Order("s.data_solicitacao ASC, " + reservationTable + ".cod_item_reserva ASC").
		Find(&list).Error
	return list, err
}

// CountPendingEmissionByRequest not-yet-invoiced reservations per request.
func (r *ReservationRepository) CountPendingEmissionByRequest(ctx context.Context, ids []int) ([]RequestCount, error) {
	var rows []RequestCount
	if len(ids) == 0 {
		return rows, nil
	}
	err := r.db.WithContext(ctx).Model(&entity.Reservation{}).
		Select("cod_solicitacao, COUNT(*) AS total").
		Where("cod_solicitacao IN ? AND data_emissao_nf IS NULL", ids).
		Group("cod_solicitacao").
		Scan(&rows).Error
	return rows, err
}

func (r *ReservationRepository) Create(ctx context.Context, res *entity.Reservation) error {
	return r.db.WithContext(ctx).Omit("Solicitacao").Create(res).Error
}

func (r *ReservationRepository) Update(ctx context.Context, res *entity.Reservation) error {
	return r.db.WithContext(ctx).Omit("Solicitacao").Save(res).Error
}

// Link attaches the reservation to an invoice request and moves it to InvoiceRequested.
func (r *ReservationRepository) Link(ctx context.Context, id, codSolicitacao int, user string, at time.Time) error {
	return r.updateFields(ctx, id, map[string]interface{}{
		"cod_solicitacao":        codSolicitacao,
		"situacao":               entity.StatusInvoiceRequested,
		"data_solicitacao_nf":    at,
		"usuario_solicitacao_nf": user,
	})
}

// Unlink clears the request link and its stamps, back to Liberated.
func (r *ReservationRepository) Unlink(ctx context.Context, id int) error {
	return r.updateFields(ctx, id, map[string]interface{}{
		"cod_solicitacao":        nil,
		"situacao":               entity.StatusLiberated,
		"data_solicitacao_nf":    nil,
		"usuario_solicitacao_nf": nil,
	})
}

// MarkEmitted stamps the invoice on the reservation.
func (r *ReservationRepository) MarkEmitted(ctx context.Context, id int, numeroNF, user string, at time.Time) error {
	return r.updateFields(ctx, id, map[string]interface{}{
		"situacao":           entity.StatusInvoiceEmitted,
		"numero_nf":          numeroNF,
		"data_emissao_nf":    at,
		"usuario_emissao_nf": user,
	})
}

func (r *ReservationRepository) updateFields(ctx context.Context, id int, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&entity.Reservation{}).
		Where("cod_item_reserva = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
