package entity

import "time"

// Reservation shipment line (dbs_be_itens_reservas).
// Always derived from one Item by the four-field key plus an optional it_reserva code.
// Supplier, project, tag and prices are a snapshot of the parent Item taken on every save.
type Reservation struct {
	CodItemReserva       int        `json:"codItemReserva" gorm:"column:cod_item_reserva;primaryKey;autoIncrement"`
	NrOrdProd            *int       `json:"nrOrdProd" gorm:"column:nr_ord_prod;index:idx_dbs_be_reservas_key"`
	NumeroOrdem          *int       `json:"numeroOrdem" gorm:"column:numero_ordem;index:idx_dbs_be_reservas_key"`
	DataEmissao          *time.Time `json:"dataEmissao" gorm:"column:data_emissao;type:date"`
	Situacao             *Status    `json:"situacao" gorm:"column:situacao"`
	Encomenda            *string    `json:"encomenda" gorm:"column:encomenda;size:25;index:idx_dbs_be_reservas_key"`
	ItCodigo             *string    `json:"itCodigo" gorm:"column:it_codigo;size:16;index:idx_dbs_be_reservas_key"`
	DescItem             *string    `json:"descItem" gorm:"column:desc_item;size:100"`
	ItReserva            *string    `json:"itReserva" gorm:"column:it_reserva;size:16"`
	DescReserva          *string    `json:"descReserva" gorm:"column:desc_reserva;size:100"`
	QtdItem              *float64   `json:"qtdItem" gorm:"column:qtd_item;type:decimal(30,5)"`
	Saldo                *float64   `json:"saldo" gorm:"column:saldo;type:decimal(30,5)"`
	QtdAtendida          *float64   `json:"qtdAtendida" gorm:"column:qtd_atendida;type:decimal(30,5)"`
	QtdForn              *float64   `json:"qtdForn" gorm:"column:qtd_forn;type:decimal(30,5)"`
	Projeto              *string    `json:"projeto" gorm:"column:projeto;size:45"`
	Tag                  *string    `json:"tag" gorm:"column:tag;size:45"`
	CodFornecedor        *int       `json:"codFornecedor" gorm:"column:cod_fornecedor"`
	NomeFornecedor       *string    `json:"nomeFornecedor" gorm:"column:nome_fornecedor;size:100"`
	PesoLiquido          *float64   `json:"pesoLiquido" gorm:"column:peso_liquido;type:decimal(30,5)"`
	PesoBruto            *float64   `json:"pesoBruto" gorm:"column:peso_bruto;type:decimal(30,5)"`
	DataInsercao         *time.Time `json:"dataInsercao" gorm:"column:data_insercao"`
	UsuarioInsercao      *string    `json:"usuarioInsercao" gorm:"column:usuario_insercao;size:45"`
	DataExpedicao        *time.Time `json:"dataExpedicao" gorm:"column:data_expedicao"`
	UsuarioExpedicao     *string    `json:"usuarioExpedicao" gorm:"column:usuario_expedicao;size:45"`
	DataSolicitacaoNf    *time.Time `json:"dataSolicitacaoNf" gorm:"column:data_solicitacao_nf"`
	UsuarioSolicitacaoNf *string    `json:"usuarioSolicitacaoNf" gorm:"column:usuario_solicitacao_nf;size:45"`
	DataEmissaoNf        *time.Time `json:"dataEmissaoNf" gorm:"column:data_emissao_nf"`
	UsuarioEmissaoNf     *string    `json:"usuarioEmissaoNf" gorm:"column:usuario_emissao_nf;size:45"`
	NumeroNf             *string    `json:"numeroNf" gorm:"column:numero_nf;size:255"`
	DataEntrega          *time.Time `json:"dataEntrega" gorm:"column:data_entrega"`
	PrecoUnitario        *float64   `json:"precoUnitario" gorm:"column:preco_unitario;type:decimal(30,5)"`
	PrecoTotal           *float64   `json:"precoTotal" gorm:"column:preco_total;type:decimal(30,5)"`
	CodCliente           *int       `json:"codCliente" gorm:"column:cod_cliente"`
	NomeCliente          *string    `json:"nomeCliente" gorm:"column:nome_cliente;size:100"`
	CodSolicitacao       *int       `json:"codSolicitacao" gorm:"column:cod_solicitacao;index"`
	CodItemBe            *int       `json:"codItemBe" gorm:"column:cod_item_be;index"`

	Solicitacao *InvoiceRequest `json:"solicitacao,omitempty" gorm:"foreignKey:CodSolicitacao;references:CodSolicitacao"`
}

func (Reservation) TableName() string {
	return "dbs_be_itens_reservas"
}

// CurrentStatus returns the stored status, Pending when unset.
func (r *Reservation) CurrentStatus() Status {
	if r.Situacao == nil {
		return StatusPending
	}
	return *r.Situacao
}

// Key returns the business key of the parent Item.
func (r *Reservation) Key() (ItemKey, bool) {
	return newItemKey(r.NrOrdProd, r.NumeroOrdem, r.Encomenda, r.ItCodigo)
}

// IsShipped reports whether the shipment was stamped.
func (r *Reservation) IsShipped() bool {
	return r.DataExpedicao != nil
}

// IsLinked reports whether the reservation belongs to an invoice request.
func (r *Reservation) IsLinked() bool {
	return r.CodSolicitacao != nil
}

// IsEmitted reports whether an invoice was already issued for the reservation.
func (r *Reservation) IsEmitted() bool {
	return r.DataEmissaoNf != nil
}

// CopyFromItem refreshes the denormalized snapshot taken from the parent Item.
func (r *Reservation) CopyFromItem(item *Item) {
	r.CodFornecedor = clone(item.CodFornecedor)
	r.NomeFornecedor = clone(item.NomeFornecedor)
	r.Projeto = clone(item.Projeto)
	r.Tag = clone(item.Tag)
	r.PrecoUnitario = clone(item.PrecoUnit)
	r.PrecoTotal = clone(item.PrecoTotal)
	id := item.CodItemBe
	r.CodItemBe = &id
}

func clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
