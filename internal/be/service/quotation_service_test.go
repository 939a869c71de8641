package service_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/entity"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/service"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/testutil"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/datasul"
)

const quotationRecord = `{"nr_ord_produ":100,"numero_ordem":200,"encomenda":"ENC1","it_codigo":"IT1","desc_item":"Eixo","qtd_item":"5"}`

func TestSaveItemCreatesWithTotalPrice(t *testing.T) {
	env := setupServices(t)

	item, err := env.svc.Quotation.SaveItem(context.Background(), record(t, quotationRecord), &service.QuotationInput{
		PrecoUnit:      testutil.Ptr(10.0),
		UsuarioCotacao: "ana",
	})
	if err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if item.PrecoTotal == nil || *item.PrecoTotal != 50 {
		t.Fatalf("expected total 50, got %v", item.PrecoTotal)
	}
	if item.CurrentStatus() != entity.StatusPending {
		t.Fatalf("expected status 1, got %d", item.CurrentStatus())
	}
	if item.UsuarioCotacao == nil || *item.UsuarioCotacao != "ana" || item.DataCotacao == nil {
		t.Fatalf("expected quotation stamp, got %v %v", item.UsuarioCotacao, item.DataCotacao)
	}

	stored := reloadItem(t, env.DB, item.CodItemBe)
	if *stored.DescItem != "Eixo" || *stored.QtdItem != 5 {
		t.Fatalf("unexpected stored item: %+v", stored)
	}
}

func TestSaveItemStatusFromRecord(t *testing.T) {
	env := setupServices(t)

	rec := record(t, `{"nr_ord_produ":100,"numero_ordem":200,"encomenda":"ENC1","it_codigo":"IT1","qtd_item":1,"situacao":2}`)
	item, err := env.svc.Quotation.SaveItem(context.Background(), rec, &service.QuotationInput{
		Projeto:        testutil.Ptr("PRJ-1"),
		UsuarioCotacao: "ana",
	})
	if err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if item.CurrentStatus() != entity.StatusLiberated {
		t.Fatalf("expected status from record (2), got %d", item.CurrentStatus())
	}
}

func TestSaveItemKeepsAbsentFields(t *testing.T) {
	env := setupServices(t)
	seeded := testutil.SeedItem(t, env.DB, &entity.Item{
		Projeto:        testutil.Ptr("PRJ-1"),
		Tag:            testutil.Ptr("TAG-1"),
		CodFornecedor:  testutil.Ptr(10),
		NomeFornecedor: testutil.Ptr("ACME"),
	})

	item, err := env.svc.Quotation.SaveItem(context.Background(), record(t, quotationRecord), &service.QuotationInput{
		PrecoUnit:      testutil.Ptr(2.5),
		UsuarioCotacao: "bia",
	})
	if err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if item.CodItemBe != seeded.CodItemBe {
		t.Fatalf("expected update of item %d, got %d", seeded.CodItemBe, item.CodItemBe)
	}

	stored := reloadItem(t, env.DB, seeded.CodItemBe)
	if *stored.Projeto != "PRJ-1" || *stored.Tag != "TAG-1" || *stored.CodFornecedor != 10 {
		t.Fatalf("absent fields changed: %+v", stored)
	}
	if *stored.PrecoTotal != 12.5 {
		t.Fatalf("expected total 12.5, got %v", *stored.PrecoTotal)
	}
	if *stored.UsuarioCotacao != "bia" {
		t.Fatalf("expected user bia, got %s", *stored.UsuarioCotacao)
	}
}

func TestSaveItemValidation(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	cases := []struct {
		name string
		rec  string
		in   *service.QuotationInput
	}{
		{"no field", quotationRecord, &service.QuotationInput{UsuarioCotacao: "ana"}},
		{"no user", quotationRecord, &service.QuotationInput{Tag: testutil.Ptr("X")}},
		{"negative price", quotationRecord, &service.QuotationInput{PrecoUnit: testutil.Ptr(-1.0), UsuarioCotacao: "ana"}},
		{"system status", quotationRecord, &service.QuotationInput{Situacao: entity.StatusInvoiceEmitted.Ptr(), UsuarioCotacao: "ana"}},
		{"missing key", `{"nr_ord_produ":100,"encomenda":"ENC1","it_codigo":"IT1"}`, &service.QuotationInput{Tag: testutil.Ptr("X"), UsuarioCotacao: "ana"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Quotation.SaveItem(ctx, record(t, tc.rec), tc.in)
			expectKind(t, err, service.ErrValidation)
		})
	}

	var count int64
	env.DB.Model(&entity.Item{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no item written, got %d", count)
	}
}

func TestSaveItemRejectsInvalidTransition(t *testing.T) {
	env := setupServices(t)
	testutil.SeedItem(t, env.DB, &entity.Item{Situacao: entity.StatusInvoiceRequested.Ptr()})

	_, err := env.svc.Quotation.SaveItem(context.Background(), record(t, quotationRecord), &service.QuotationInput{
		Situacao:       entity.StatusPending.Ptr(),
		UsuarioCotacao: "ana",
	})
	expectKind(t, err, service.ErrConflict)
}

func TestSearchSuppliersUsesCache(t *testing.T) {
	env := setupServices(t)
	env.Datasul.Respond(datasul.OpSupplierSearch, http.StatusOK, `[{"cod_emitente":10,"nome_abrev":"ACME"}]`)
	ctx := context.Background()

	first, err := env.svc.Quotation.SearchSuppliers(ctx, " acme ")
	if err != nil {
		t.Fatalf("SearchSuppliers: %v", err)
	}
	second, err := env.svc.Quotation.SearchSuppliers(ctx, "acme")
	if err != nil {
		t.Fatalf("SearchSuppliers: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one supplier, got %d and %d", len(first), len(second))
	}
	if calls := env.Datasul.Calls(datasul.OpSupplierSearch); len(calls) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(calls))
	}
}

func TestFetchQuotationItemsUpstreamFailure(t *testing.T) {
	env := setupServices(t)
	env.Datasul.Respond(datasul.OpQuotationItems, http.StatusBadGateway, `gateway down`)

	_, err := env.svc.Quotation.FetchItems(context.Background(), datasul.ItemFilter{OP: "100"})
	expectKind(t, err, service.ErrExternalUnavailable)
}
