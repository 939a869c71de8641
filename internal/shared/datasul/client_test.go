package datasul

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:         srv.URL,
		User:            "svc",
		Password:        "secret",
		Timeout:         5 * time.Second,
		EmissionTimeout: 5 * time.Second,
	}, nil)
}

func TestFetchItemsSendsTipoAndBasicAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "svc" || pass != "secret" {
			t.Errorf("basic auth not sent: %q %q", user, pass)
		}
		q := r.URL.Query()
		if q.Get("tipo") != "1" || q.Get("op") != "100" || q.Get("encomenda") != "ENC1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if _, ok := q["oc"]; !ok {
			t.Errorf("absent filters must still be sent empty")
		}
		w.Write([]byte(`[{"nr_ord_produ":100},{"nr_ord_produ":"101"}]`))
	})

	items, err := c.FetchItems(context.Background(), OpQuotationItems, ItemFilter{OP: "100", Encomenda: "ENC1"})
	if err != nil {
		t.Fatalf("FetchItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	var rec ItemRecord
	if err := json.Unmarshal(items[1], &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.NrOrdProdu.IntOr(0) != 101 {
		t.Fatalf("expected string number to decode as 101, got %d", rec.NrOrdProdu.IntOr(0))
	}
}

func TestFetchItemsPayloadShapes(t *testing.T) {
	cases := map[string]struct {
		body    string
		want    int
		wantErr bool
	}{
		"array":          {body: `[{"a":1}]`, want: 1},
		"items wrapper":  {body: `{"items":[{"a":1},{"a":2}]}`, want: 2},
		"json in string": {body: `"[{\"a\":1},{\"a\":2},{\"a\":3}]"`, want: 3},
		"empty array":    {body: `[]`, want: 0},
		"object":         {body: `{"mensagem":"ok"}`, wantErr: true},
		"garbage":        {body: `not json`, wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			})
			items, err := c.FetchItems(context.Background(), OpExpeditionItems, ItemFilter{})
			if tc.wantErr {
				if !errors.Is(err, ErrExternalAPI) {
					t.Fatalf("expected ErrExternalAPI, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(items) != tc.want {
				t.Fatalf("expected %d items, got %d", tc.want, len(items))
			}
		})
	}
}

func TestFetchItemsDecodesLatin1Body(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=iso-8859-1")
		// "Peça usinada" and "Galvanização" encoded in ISO-8859-1
		w.Write([]byte("[{\"desc_item\":\"Pe\xe7a usinada\",\"nome_forn\":\"Galvaniza\xe7\xe3o\"}]"))
	})

	items, err := c.FetchItems(context.Background(), OpQuotationItems, ItemFilter{})
	if err != nil {
		t.Fatalf("FetchItems: %v", err)
	}
	var rec ItemRecord
	if err := json.Unmarshal(items[0], &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.DescItem == nil || *rec.DescItem != "Peça usinada" {
		t.Fatalf("expected UTF-8 desc_item, got %v", rec.DescItem)
	}
	if rec.NomeForn == nil || *rec.NomeForn != "Galvanização" {
		t.Fatalf("expected UTF-8 nome_forn, got %v", rec.NomeForn)
	}
}

func TestFetchItemsKeepsUTF8Body(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"desc_item":"Peça"}]`))
	})

	items, err := c.FetchItems(context.Background(), OpQuotationItems, ItemFilter{})
	if err != nil {
		t.Fatalf("FetchItems: %v", err)
	}
	if string(items[0]) != `{"desc_item":"Peça"}` {
		t.Fatalf("UTF-8 body altered: %s", items[0])
	}
}

func TestUpstreamErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"erro":"programa indisponivel"}`))
	})
	_, err := c.SearchSuppliers(context.Background(), "acme")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != 500 || apiErr.Message != "programa indisponivel" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if !errors.Is(err, ErrExternalAPI) {
		t.Fatal("500 must unwrap to ErrExternalAPI")
	}

	gw := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if _, err := gw.SearchSuppliers(context.Background(), "acme"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("502 must unwrap to ErrUnavailable, got %v", err)
	}
}

func TestConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: base, Timeout: time.Second}, nil)
	_, err := c.FetchItems(context.Background(), OpQuotationItems, ItemFilter{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestEmissionTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c := NewClient(Config{BaseURL: srv.URL, EmissionTimeout: 50 * time.Millisecond}, nil)
	_, err := c.EmitInvoice(context.Background(), EmissionRequest{CodFornecedor: 1, Itens: "A|1.00000|2.00000", CodSolicitacao: 9})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on timeout, got %v", err)
	}
}

func TestEmitInvoiceParamsAndNumberExtraction(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"numero_nf string": {body: `{"numero_nf":"12345"}`, want: "12345"},
		"numeroNF number":  {body: `{"numeroNF":987654}`, want: "987654"},
		"nota_fiscal":      {body: `{"nota_fiscal":"0001"}`, want: "0001"},
		"nr_nota_fis":      {body: `{"nr_nota_fis":"42"}`, want: "42"},
		"array element":    {body: `[{"nf":"77"}]`, want: "77"},
		"items wrapper":    {body: `{"items":[{"numero":"88"}]}`, want: "88"},
		"plain string":     {body: `"NF: 5566 gerada"`, want: "5566"},
		"text body":        {body: `Nota gerada NF 3141`, want: "3141"},
		"message field":    {body: `{"mensagem":"NF:2718 emitida"}`, want: "2718"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				if q.Get("tipo") != "5" || q.Get("fornecedor") != "10" || q.Get("solicitacao") != "3" {
					t.Errorf("unexpected query %s", r.URL.RawQuery)
				}
				if q.Get("itens") != "IT1|5.00000|10.00000;IT2|1.50000|2.00000" {
					t.Errorf("unexpected itens %q", q.Get("itens"))
				}
				w.Write([]byte(tc.body))
			})
			res, err := c.EmitInvoice(context.Background(), EmissionRequest{
				CodFornecedor:  10,
				Itens:          "IT1|5.00000|10.00000;IT2|1.50000|2.00000",
				CodSolicitacao: 3,
			})
			if err != nil {
				t.Fatalf("EmitInvoice: %v", err)
			}
			if res.NumeroNF != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, res.NumeroNF)
			}
		})
	}
}

func TestEmitInvoiceWithoutNumber(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"erro":"fornecedor bloqueado"}`))
	})
	_, err := c.EmitInvoice(context.Background(), EmissionRequest{CodFornecedor: 1, CodSolicitacao: 1})
	if !errors.Is(err, ErrExternalAPI) {
		t.Fatalf("expected ErrExternalAPI, got %v", err)
	}
	if got := err.Error(); got != "datasul: invalid response: fornecedor bloqueado" {
		t.Fatalf("upstream message must be carried, got %q", got)
	}
}

func TestFetchReportItemsWrapsSingleObject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("tipo") != "3" || q.Get("fornecedor") != "55" || q.Get("data_inicial") != "2024-01-01" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"nr_ord_produ":"100","qtd_item":"5.5","qtd_saldo":2,"situacao":"7","nome_forn":"ACME"}`))
	})
	recs, err := c.FetchReportItems(context.Background(), ReportFilter{Fornecedor: "55", DataInicial: "2024-01-01", DataFinal: "2024-01-31"})
	if err != nil {
		t.Fatalf("FetchReportItems: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	r := recs[0]
	if r.NrOrdProdu.IntOr(0) != 100 || r.QtdItem.FloatOr(0) != 5.5 || r.QtdSaldo.FloatOr(0) != 2 || r.Situacao.IntOr(0) != 7 {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.QtdAtendida != nil {
		t.Fatal("absent fields must stay nil")
	}
}
