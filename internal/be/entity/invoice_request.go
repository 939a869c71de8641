package entity

import "time"

// InvoiceRequest groups reservations invoiced together (dbs_be_solicitacoes_nf).
type InvoiceRequest struct {
	CodSolicitacao     int           `json:"codSolicitacao" gorm:"column:cod_solicitacao;primaryKey;autoIncrement"`
	DataSolicitacao    time.Time     `json:"dataSolicitacao" gorm:"column:data_solicitacao;not null"`
	Situacao           RequestStatus `json:"situacao" gorm:"column:situacao;default:1"`
	UsuarioSolicitacao string        `json:"usuarioSolicitacao" gorm:"column:usuario_solicitacao;size:45;not null"`

	Reservas []Reservation `json:"reservas,omitempty" gorm:"foreignKey:CodSolicitacao;references:CodSolicitacao"`
}

func (InvoiceRequest) TableName() string {
	return "dbs_be_solicitacoes_nf"
}
