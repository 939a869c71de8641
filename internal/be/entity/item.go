package entity

import (
	"strings"
	"time"
)

// Item quotation line (dbs_be_itens).
// One row per (OP, OC, encomenda, it_codigo); created on the first quotation save and never deleted.
type Item struct {
	CodItemBe      int        `json:"codItemBe" gorm:"column:cod_item_be;primaryKey;autoIncrement"`
	NrOrdProd      *int       `json:"nrOrdProd" gorm:"column:nr_ord_prod;index:idx_dbs_be_itens_key"`
	NumeroOrdem    *int       `json:"numeroOrdem" gorm:"column:numero_ordem;index:idx_dbs_be_itens_key"`
	ItCodigo       *string    `json:"itCodigo" gorm:"column:it_codigo;size:16;index:idx_dbs_be_itens_key"`
	DescItem       *string    `json:"descItem" gorm:"column:desc_item;size:100"`
	Encomenda      *string    `json:"encomenda" gorm:"column:encomenda;size:20;index:idx_dbs_be_itens_key"`
	CodCliente     *int       `json:"codCliente" gorm:"column:cod_cliente"`
	NomeCliente    *string    `json:"nomeCliente" gorm:"column:nome_cliente;size:100"`
	QtdItem        *float64   `json:"qtdItem" gorm:"column:qtd_item;type:decimal(30,5)"`
	CodFornecedor  *int       `json:"codFornecedor" gorm:"column:cod_fornecedor"`
	NomeFornecedor *string    `json:"nomeFornecedor" gorm:"column:nome_fornecedor;size:100"`
	PrecoUnit      *float64   `json:"precoUnit" gorm:"column:preco_unit;type:decimal(30,5)"`
	PrecoTotal     *float64   `json:"precoTotal" gorm:"column:preco_total;type:decimal(30,5)"`
	Situacao       *Status    `json:"situacao" gorm:"column:situacao"`
	Projeto        *string    `json:"projeto" gorm:"column:projeto;size:100"`
	Tag            *string    `json:"tag" gorm:"column:tag;size:100"`
	DataCotacao    *time.Time `json:"dataCotacao" gorm:"column:data_cotacao"`
	UsuarioCotacao *string    `json:"usuarioCotacao" gorm:"column:usuario_cotacao;size:45"`
}

func (Item) TableName() string {
	return "dbs_be_itens"
}

// CurrentStatus returns the stored status, Pending when unset.
func (i *Item) CurrentStatus() Status {
	if i.Situacao == nil {
		return StatusPending
	}
	return *i.Situacao
}

// ItemKey four-field business key shared by Item and Reservation.
type ItemKey struct {
	NrOrdProd   int
	NumeroOrdem int
	Encomenda   string
	ItCodigo    string
}

// Key returns the business key; ok is false while any of its fields is unset.
func (i *Item) Key() (ItemKey, bool) {
	return newItemKey(i.NrOrdProd, i.NumeroOrdem, i.Encomenda, i.ItCodigo)
}

func newItemKey(op, oc *int, encomenda, itCodigo *string) (ItemKey, bool) {
	if op == nil || oc == nil || encomenda == nil || itCodigo == nil {
		return ItemKey{}, false
	}
	return ItemKey{
		NrOrdProd:   *op,
		NumeroOrdem: *oc,
		Encomenda:   strings.TrimSpace(*encomenda),
		ItCodigo:    strings.TrimSpace(*itCodigo),
	}, true
}
