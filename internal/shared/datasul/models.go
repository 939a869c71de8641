package datasul

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Operation value of the tipo query parameter.
type Operation int

const (
	OpQuotationItems  Operation = 1
	OpExpeditionItems Operation = 2
	OpReportItems     Operation = 3
	OpSupplierSearch  Operation = 4
	OpInvoiceEmission Operation = 5
)

func (o Operation) String() string {
	return strconv.Itoa(int(o))
}

// ItemFilter filters accepted by tipo 1 and 2.
type ItemFilter struct {
	Encomenda string `form:"encomenda"`
	OC        string `form:"oc"`
	OP        string `form:"op"`
}

// ReportFilter filters accepted by tipo 3.
type ReportFilter struct {
	Encomenda   string `form:"encomenda"`
	OP          string `form:"op"`
	Fornecedor  string `form:"fornecedor"`
	DataInicial string `form:"data_inicial"`
	DataFinal   string `form:"data_final"`
}

// EmissionRequest input of tipo 5.
type EmissionRequest struct {
	CodFornecedor  int
	Itens          string // itCodigo|qtd|preco;itCodigo|qtd|preco
	CodSolicitacao int
}

// EmissionResult invoice number returned by Datasul plus the raw body for auditing.
type EmissionResult struct {
	NumeroNF string
	Raw      []byte
}

// ItemRecord order line as returned by the Datasul endpoint.
// Numeric fields accept numbers or numeric strings.
type ItemRecord struct {
	NrOrdProdu  *FlexInt   `json:"nr_ord_produ"`
	NumeroOrdem *FlexInt   `json:"numero_ordem"`
	Encomenda   *string    `json:"encomenda"`
	ItCodigo    *string    `json:"it_codigo"`
	DescItem    *string    `json:"desc_item"`
	ItReserva   *string    `json:"it_reserva"`
	DescReserva *string    `json:"desc_reserva"`
	CodCliente  *FlexInt   `json:"cod_cliente"`
	NomeCliente *string    `json:"nome_cliente"`
	QtdItem     *FlexFloat `json:"qtd_item"`
	QtdSaldo    *FlexFloat `json:"qtd_saldo"`
	QtdAtendida *FlexFloat `json:"qtd_atendida"`
	QtdEnviada  *FlexFloat `json:"qtd_enviada"`
	Situacao    *FlexInt   `json:"situacao"`
	CodForn     *FlexInt   `json:"cod_forn"`
	NomeForn    *string    `json:"nome_forn"`
	NotaFiscal  *string    `json:"nota_fiscal"`
	UnMed       *string    `json:"un_med"`
	PesoLiquido *FlexFloat `json:"peso_liquido"`
	PesoBruto   *FlexFloat `json:"peso_bruto"`
	DataEmissao *string    `json:"data_emissao"`
}

// FlexInt integer that may arrive as a JSON number or string.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	s, ok := unquoteNumber(data)
	if !ok {
		return nil
	}
	if i, err := strconv.Atoi(s); err == nil {
		*n = FlexInt(i)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = FlexInt(int(f))
	return nil
}

// FlexFloat float that may arrive as a JSON number or string.
type FlexFloat float64

func (n *FlexFloat) UnmarshalJSON(data []byte) error {
	s, ok := unquoteNumber(data)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return err
	}
	*n = FlexFloat(f)
	return nil
}

func unquoteNumber(data []byte) (string, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", false
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	return string(data), true
}

// Int returns the value or nil.
func (n *FlexInt) Int() *int {
	if n == nil {
		return nil
	}
	v := int(*n)
	return &v
}

// IntOr returns the value or def.
func (n *FlexInt) IntOr(def int) int {
	if n == nil {
		return def
	}
	return int(*n)
}

// Float returns the value or nil.
func (n *FlexFloat) Float() *float64 {
	if n == nil {
		return nil
	}
	v := float64(*n)
	return &v
}

// FloatOr returns the value or def.
func (n *FlexFloat) FloatOr(def float64) float64 {
	if n == nil {
		return def
	}
	return float64(*n)
}
