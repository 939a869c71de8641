package datasul

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// DefaultPath program exposed by Datasul for the Beneficiamento Externo workflow.
const DefaultPath = "/rest_cp12200_v7"

var (
	// ErrExternalAPI upstream answered with an error status or an unusable payload.
	ErrExternalAPI = errors.New("datasul: invalid response")
	// ErrUnavailable upstream could not be reached or did not answer in time.
	ErrUnavailable = errors.New("datasul: service unavailable")
)

// APIError non-2xx answer from Datasul.
type APIError struct {
	Operation  Operation
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("datasul tipo=%s: HTTP %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("datasul tipo=%s: HTTP %d", e.Operation, e.StatusCode)
}

// Unwrap gateway statuses count as unavailability, everything else as an API error.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrUnavailable
	}
	return ErrExternalAPI
}

// Config connection settings.
type Config struct {
	BaseURL         string
	Path            string
	User            string
	Password        string
	Timeout         time.Duration // list and search calls, 0 = no bound
	EmissionTimeout time.Duration // tipo 5
}

// Client Datasul REST client. Every call is a GET with tipo dispatch and Basic auth.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client. Timeouts are applied per call through the context.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.EmissionTimeout <= 0 {
		cfg.EmissionTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger.Named("datasul"),
	}
}

// FetchItems order lines for quotation (tipo 1) or expedition (tipo 2).
func (c *Client) FetchItems(ctx context.Context, op Operation, filter ItemFilter) ([]json.RawMessage, error) {
	if op != OpQuotationItems && op != OpExpeditionItems {
		return nil, fmt.Errorf("datasul: tipo %s does not list items", op)
	}
	params := url.Values{}
	params.Set("op", strings.TrimSpace(filter.OP))
	params.Set("encomenda", strings.TrimSpace(filter.Encomenda))
	params.Set("oc", strings.TrimSpace(filter.OC))

	body, err := c.get(ctx, op, params, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	items, err := decodeList(body)
	if err != nil {
		c.logger.Error("unexpected item payload", zap.Stringer("tipo", op), zap.ByteString("body", truncate(body)))
		return nil, err
	}
	return items, nil
}

// FetchReportItems order lines for the external production dashboard (tipo 3).
// A single object answer is returned as a one-element list.
func (c *Client) FetchReportItems(ctx context.Context, filter ReportFilter) ([]ItemRecord, error) {
	params := url.Values{}
	params.Set("op", strings.TrimSpace(filter.OP))
	params.Set("encomenda", strings.TrimSpace(filter.Encomenda))
	params.Set("fornecedor", strings.TrimSpace(filter.Fornecedor))
	params.Set("data_inicial", strings.TrimSpace(filter.DataInicial))
	params.Set("data_final", strings.TrimSpace(filter.DataFinal))

	body, err := c.get(ctx, OpReportItems, params, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	raw, err := decodeList(body)
	if err != nil {
		data := unwrapJSONString(body)
		if len(data) == 0 || data[0] != '{' {
			c.logger.Error("unexpected report payload", zap.ByteString("body", truncate(body)))
			return nil, err
		}
		raw = []json.RawMessage{data}
	}

	records := make([]ItemRecord, 0, len(raw))
	for i, r := range raw {
		var rec ItemRecord
		if err := json.Unmarshal(r, &rec); err != nil {
			return nil, fmt.Errorf("%w: report record %d: %v", ErrExternalAPI, i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// SearchSuppliers supplier lookup by name or code fragment (tipo 4).
func (c *Client) SearchSuppliers(ctx context.Context, term string) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("termo", strings.TrimSpace(term))

	body, err := c.get(ctx, OpSupplierSearch, params, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return decodeList(body)
}

// EmitInvoice asks Datasul to issue the invoice (tipo 5) and returns its number.
func (c *Client) EmitInvoice(ctx context.Context, req EmissionRequest) (*EmissionResult, error) {
	params := url.Values{}
	params.Set("fornecedor", strconv.Itoa(req.CodFornecedor))
	params.Set("itens", req.Itens)
	params.Set("solicitacao", strconv.Itoa(req.CodSolicitacao))

	body, err := c.get(ctx, OpInvoiceEmission, params, c.cfg.EmissionTimeout)
	if err != nil {
		return nil, err
	}
	numero, upstreamMsg := extractInvoiceNumber(body)
	if numero == "" {
		c.logger.Error("invoice number missing in emission response",
			zap.Int("solicitacao", req.CodSolicitacao),
			zap.ByteString("body", truncate(body)))
		if upstreamMsg != "" {
			return nil, fmt.Errorf("%w: %s", ErrExternalAPI, upstreamMsg)
		}
		return nil, fmt.Errorf("%w: invoice number not returned", ErrExternalAPI)
	}
	return &EmissionResult{NumeroNF: numero, Raw: body}, nil
}

func (c *Client) get(ctx context.Context, op Operation, params url.Values, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	params.Set("tipo", op.String())
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.Path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("datasul: build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("request failed", zap.Stringer("tipo", op), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, fmt.Errorf("%w: tipo=%s: %v", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: tipo=%s: read body: %v", ErrUnavailable, op, err)
	}
	body, err = toUTF8(body)
	if err != nil {
		return nil, fmt.Errorf("%w: tipo=%s: decode body: %v", ErrExternalAPI, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("upstream error",
			zap.Stringer("tipo", op),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(body)))
		return nil, &APIError{Operation: op, StatusCode: resp.StatusCode, Message: upstreamMessage(body)}
	}
	c.logger.Debug("request done", zap.Stringer("tipo", op), zap.Duration("elapsed", time.Since(start)))
	return body, nil
}

// toUTF8 converts Progress AppServer bodies sent in Windows-1252 (ISO-8859-1 superset).
// Valid UTF-8 is returned untouched.
func toUTF8(body []byte) ([]byte, error) {
	if utf8.Valid(body) {
		return body, nil
	}
	return io.ReadAll(transform.NewReader(bytes.NewReader(body), charmap.Windows1252.NewDecoder()))
}

// unwrapJSONString unwraps bodies where the JSON document is itself sent as a JSON string.
func unwrapJSONString(body []byte) []byte {
	data := bytes.TrimSpace(body)
	if len(data) == 0 || data[0] != '"' {
		return data
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return data
	}
	inner := bytes.TrimSpace([]byte(s))
	if json.Valid(inner) {
		return inner
	}
	return data
}

func decodeList(body []byte) ([]json.RawMessage, error) {
	data := unwrapJSONString(body)

	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil && list != nil {
		return list, nil
	}
	var wrapped struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Items != nil {
		return wrapped.Items, nil
	}
	return nil, fmt.Errorf("%w: expected a list payload", ErrExternalAPI)
}

var (
	invoiceNumberFields = []string{"numero_nf", "numeroNF", "numeroNf", "nota_fiscal", "nr_nota_fis", "nf", "numero"}
	messageFields       = []string{"erro", "error", "mensagem", "message"}
	invoiceNumberRe     = regexp.MustCompile(`NF[:\s]*(\d+)`)
)

// extractInvoiceNumber finds the invoice number in a tipo 5 body.
// The second value is the upstream message when one was sent.
func extractInvoiceNumber(body []byte) (string, string) {
	data := unwrapJSONString(body)

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return scanInvoiceNumber(string(data)), ""
	}
	return findInvoiceNumber(v)
}

func findInvoiceNumber(v any) (string, string) {
	switch t := v.(type) {
	case string:
		return scanInvoiceNumber(t), ""
	case []any:
		if len(t) > 0 {
			return findInvoiceNumber(t[0])
		}
	case map[string]any:
		for _, f := range invoiceNumberFields {
			if n := scalarString(t[f]); n != "" {
				return n, ""
			}
		}
		if items, ok := t["items"].([]any); ok && len(items) > 0 {
			if n, msg := findInvoiceNumber(items[0]); n != "" || msg != "" {
				return n, msg
			}
		}
		for _, f := range messageFields {
			if msg := scalarString(t[f]); msg != "" {
				return scanInvoiceNumber(msg), msg
			}
		}
	}
	return "", ""
}

func scanInvoiceNumber(s string) string {
	if m := invoiceNumberRe.FindStringSubmatch(s); len(m) == 2 {
		return m[1]
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	}
	return ""
}

func upstreamMessage(body []byte) string {
	data := unwrapJSONString(body)
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil {
		for _, f := range messageFields {
			if msg := scalarString(obj[f]); msg != "" {
				return msg
			}
		}
	}
	return ""
}

func truncate(body []byte) []byte {
	const limit = 512
	if len(body) > limit {
		return body[:limit]
	}
	return body
}
