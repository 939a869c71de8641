package repository

import (
	"context"

	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/entity"
	"gorm.io/gorm"
)

type ItemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

func (r *ItemRepository) FindAll(ctx context.Context, filter OrderFilter) ([]entity.Item, error) {
	var items []entity.Item
	query := filter.apply(r.db.WithContext(ctx).Model(&entity.Item{}), "")
	err := query.Order("nr_ord_prod ASC, numero_ordem ASC, cod_item_be ASC").Find(&items).Error
	return items, err
}

// FindByStatus items in status plus the optional filters.
func (r *ItemRepository) FindByStatus(ctx context.Context, status entity.Status, filter OrderFilter) ([]entity.Item, error) {
	var items []entity.Item
	query := filter.apply(r.db.WithContext(ctx).Model(&entity.Item{}), "").Where("situacao = ?", status)
	err := query.Order("nr_ord_prod ASC, numero_ordem ASC, cod_item_be ASC").Find(&items).Error
	return items, err
}

// FindByKey looks an item up by its four-field business key.
func (r *ItemRepository) FindByKey(ctx context.Context, key entity.ItemKey) (*entity.Item, error) {
	var item entity.Item
	err := r.db.WithContext(ctx).
		Where("nr_ord_prod = ? AND numero_ordem = ? AND encomenda = ? AND it_codigo = ?",
			key.NrOrdProd, key.NumeroOrdem, key.Encomenda, key.ItCodigo).
		Order("cod_item_be ASC").
		First(&item).Error
	if err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

// FindByOrders all items of the given production orders.
func (r *ItemRepository) FindByOrders(ctx context.Context, ops []int) ([]entity.Item, error) {
	var items []entity.Item
	if len(ops) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).Where("nr_ord_prod IN ?", ops).Order("cod_item_be ASC").Find(&items).Error
	return items, err
}

func (r *ItemRepository) Create(ctx context.Context, item *entity.Item) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *ItemRepository) Update(ctx context.Context, item *entity.Item) error {
	return r.db.WithContext(ctx).Save(item).Error
}

// UpdateStatus sets situacao on one item. ErrNotFound when the row does not exist.
// MySQL reports zero affected rows for unchanged values, so existence is checked first.
func (r *ItemRepository) UpdateStatus(ctx context.Context, id int, status entity.Status) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entity.Item{}).Where("cod_item_be = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return r.db.WithContext(ctx).Model(&entity.Item{}).
		Where("cod_item_be = ?", id).
		Update("situacao", status).Error
}
