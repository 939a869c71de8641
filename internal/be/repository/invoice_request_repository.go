package repository

import (
	"context"

	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/entity"
	"gorm.io/gorm"
)

type InvoiceRequestRepository struct {
	db *gorm.DB
}

func NewInvoiceRequestRepository(db *gorm.DB) *InvoiceRequestRepository {
	return &InvoiceRequestRepository{db: db}
}

func (r *InvoiceRequestRepository) Create(ctx context.Context, req *entity.InvoiceRequest) error {
	return r.db.WithContext(ctx).Omit("Reservas").Create(req).Error
}

func (r *InvoiceRequestRepository) FindByID(ctx context.Context, id int) (*entity.InvoiceRequest, error) {
	var req entity.InvoiceRequest
	err := r.db.WithContext(ctx).
		Preload("Reservas", func(db *gorm.DB) *gorm.DB {
			return db.Order("cod_item_reserva ASC")
		}).
		First(&req, "cod_solicitacao = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

// FindAll newest first.
func (r *InvoiceRequestRepository) FindAll(ctx context.Context) ([]entity.InvoiceRequest, error) {
	var list []entity.InvoiceRequest
	err := r.db.WithContext(ctx).
		Order("data_solicitacao DESC, cod_solicitacao DESC").
		Find(&list).Error
	return list, err
}

// FindByStatus oldest first.
func (r *InvoiceRequestRepository) FindByStatus(ctx context.Context, status entity.RequestStatus) ([]entity.InvoiceRequest, error) {
	var list []entity.InvoiceRequest
	err := r.db.WithContext(ctx).
		Where("situacao = ?", status).
		Order("data_solicitacao ASC, cod_solicitacao ASC").
		Find(&list).Error
	return list, err
}

// FindByIDForUpdate loads the request without its reservations, holding a row lock until the transaction ends.
func (r *InvoiceRequestRepository) FindByIDForUpdate(ctx context.Context, id int) (*entity.InvoiceRequest, error) {
	var req entity.InvoiceRequest
	if err := forUpdate(r.db.WithContext(ctx)).First(&req, "cod_solicitacao = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

// UpdateStatus sets situacao on one request. ErrNotFound when the row does not exist.
// Existence is checked apart from the update: MySQL reports zero affected rows when the value is unchanged.
func (r *InvoiceRequestRepository) UpdateStatus(ctx context.Context, id int, status entity.RequestStatus) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entity.InvoiceRequest{}).Where("cod_solicitacao = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return r.db.WithContext(ctx).Model(&entity.InvoiceRequest{}).
		Where("cod_solicitacao = ?", id).
		Update("situacao", status).Error
}
