package service_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/entity"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/repository"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/service"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/testutil"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/cache"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/datasul"
	"github.com/redis/go-redis/v9"
)

type emissionFixture struct {
	items   []*entity.Item
	res     []*entity.Reservation
	request *entity.InvoiceRequest
}

// seedEmission two shipped reservations of items IT1 and IT2 linked to one open request.
func seedEmission(t *testing.T, env *serviceEnv, supplierA, supplierB int) *emissionFixture {
	t.Helper()
	itemA := testutil.SeedItem(t, env.DB, &entity.Item{
		QtdItem:       testutil.Ptr(5.0),
		CodFornecedor: testutil.Ptr(supplierA),
		PrecoUnit:     testutil.Ptr(10.0),
		Situacao:      entity.StatusInvoiceRequested.Ptr(),
	})
	itemB := testutil.SeedItem(t, env.DB, &entity.Item{
		ItCodigo:      testutil.Ptr("IT2"),
		QtdItem:       testutil.Ptr(4.0),
		CodFornecedor: testutil.Ptr(supplierB),
		PrecoUnit:     testutil.Ptr(4.0),
		Situacao:      entity.StatusInvoiceRequested.Ptr(),
	})
	resA := testutil.SeedShippedReservation(t, env.DB, itemA, 5)
	resB := testutil.SeedShippedReservation(t, env.DB, itemB, 2.5)
	req := testutil.SeedInvoiceRequest(t, env.DB, fixedNow.Add(-time.Hour), resA, resB)
	return &emissionFixture{items: []*entity.Item{itemA, itemB}, res: []*entity.Reservation{resA, resB}, request: req}
}

func (f *emissionFixture) requestItems() []service.RequestItem {
	out := make([]service.RequestItem, 0, len(f.res))
	for _, r := range f.res {
		out = append(out, service.RequestItem{CodItemReserva: r.CodItemReserva})
	}
	return out
}

func TestEmitInvoiceSuccess(t *testing.T) {
	env := setupServices(t)
	fx := seedEmission(t, env, 10, 10)
	env.Datasul.Respond(datasul.OpInvoiceEmission, http.StatusOK, `{"numero_nf":"000123"}`)

	resp, err := env.svc.InvoiceEmission.EmitInvoice(context.Background(), fx.requestItems(), "edu", fx.request.CodSolicitacao)
	if err != nil {
		t.Fatalf("EmitInvoice: %v", err)
	}
	if !resp.Success || resp.NumeroNF != "000123" || resp.ItensProcessados != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	calls := env.Datasul.Calls(datasul.OpInvoiceEmission)
	if len(calls) != 1 {
		t.Fatalf("expected one emission call, got %d", len(calls))
	}
	q := calls[0].URL.Query()
	if q.Get("fornecedor") != "10" {
		t.Fatalf("expected fornecedor 10, got %s", q.Get("fornecedor"))
	}
	if want := "IT1|5.00000|10.00000;IT2|2.50000|4.00000"; q.Get("itens") != want {
		t.Fatalf("expected itens %q, got %q", want, q.Get("itens"))
	}

	for i, r := range fx.res {
		stored := reloadReservation(t, env.DB, r.CodItemReserva)
		if stored.CurrentStatus() != entity.StatusInvoiceEmitted || stored.NumeroNf == nil || *stored.NumeroNf != "000123" {
			t.Fatalf("reservation %d not emitted: %+v", r.CodItemReserva, stored)
		}
		if stored.DataEmissaoNf == nil || *stored.UsuarioEmissaoNf != "edu" {
			t.Fatalf("reservation %d missing emission stamp", r.CodItemReserva)
		}
		if got := reloadItem(t, env.DB, fx.items[i].CodItemBe).CurrentStatus(); got != entity.StatusInvoiceEmitted {
			t.Fatalf("expected parent status 4, got %d", got)
		}
	}

	var req entity.InvoiceRequest
	env.DB.First(&req, fx.request.CodSolicitacao)
	if req.Situacao != entity.RequestStatusClosed {
		t.Fatalf("expected request closed, got %d", req.Situacao)
	}

	if len(env.locker.acquired) != 1 || env.locker.released != 1 {
		t.Fatalf("expected lock acquired and released once, got %v/%d", env.locker.acquired, env.locker.released)
	}
	if len(env.archiver.receipts) != 1 || env.archiver.receipts[0].NumeroNF != "000123" || len(env.archiver.receipts[0].Reservas) != 2 {
		t.Fatalf("expected archived receipt, got %+v", env.archiver.receipts)
	}
}

func TestEmitInvoiceMixedSuppliers(t *testing.T) {
	env := setupServices(t)
	fx := seedEmission(t, env, 10, 20)
	env.Datasul.Respond(datasul.OpInvoiceEmission, http.StatusOK, `{"numero_nf":"1"}`)

	_, err := env.svc.InvoiceEmission.EmitInvoice(context.Background(), fx.requestItems(), "edu", fx.request.CodSolicitacao)
	expectKind(t, err, service.ErrValidation)

	if calls := env.Datasul.Calls(datasul.OpInvoiceEmission); len(calls) != 0 {
		t.Fatalf("expected no emission call, got %d", len(calls))
	}
	for _, r := range fx.res {
		stored := reloadReservation(t, env.DB, r.CodItemReserva)
		if stored.NumeroNf != nil || stored.IsEmitted() || stored.CurrentStatus() != entity.StatusInvoiceRequested {
			t.Fatalf("reservation %d mutated: %+v", r.CodItemReserva, stored)
		}
	}
}

func TestEmitInvoiceWithoutNumberRollsBack(t *testing.T) {
	env := setupServices(t)
	fx := seedEmission(t, env, 10, 10)
	env.Datasul.Respond(datasul.OpInvoiceEmission, http.StatusOK, `{"mensagem":"fornecedor bloqueado"}`)

	_, err := env.svc.InvoiceEmission.EmitInvoice(context.Background(), fx.requestItems(), "edu", fx.request.CodSolicitacao)
	expectKind(t, err, service.ErrExternalAPI)

	for _, r := range fx.res {
		if stored := reloadReservation(t, env.DB, r.CodItemReserva); stored.IsEmitted() {
			t.Fatalf("reservation %d emitted after failure", r.CodItemReserva)
		}
	}
	var req entity.InvoiceRequest
	env.DB.First(&req, fx.request.CodSolicitacao)
	if req.Situacao != entity.RequestStatusOpen {
		t.Fatalf("expected request still open, got %d", req.Situacao)
	}
	if len(env.archiver.receipts) != 0 {
		t.Fatalf("expected no receipt on failure")
	}
}

func TestEmitInvoiceUpstreamUnavailableRollsBack(t *testing.T) {
	env := setupServices(t)
	fx := seedEmission(t, env, 10, 10)
	env.Datasul.Respond(datasul.OpInvoiceEmission, http.StatusServiceUnavailable, "manutencao")

	_, err := env.svc.InvoiceEmission.EmitInvoice(context.Background(), fx.requestItems(), "edu", fx.request.CodSolicitacao)
	expectKind(t, err, service.ErrExternalUnavailable)

	for i, r := range fx.res {
		stored := reloadReservation(t, env.DB, r.CodItemReserva)
		if stored.IsEmitted() || stored.NumeroNf != nil || stored.CurrentStatus() != entity.StatusInvoiceRequested {
			t.Fatalf("reservation %d mutated after upstream failure: %+v", r.CodItemReserva, stored)
		}
		if got := reloadItem(t, env.DB, fx.items[i].CodItemBe).CurrentStatus(); got != entity.StatusInvoiceRequested {
			t.Fatalf("expected parent status 3, got %d", got)
		}
	}
	var req entity.InvoiceRequest
	env.DB.First(&req, fx.request.CodSolicitacao)
	if req.Situacao != entity.RequestStatusOpen {
		t.Fatalf("expected request still open, got %d", req.Situacao)
	}
	if len(env.archiver.receipts) != 0 {
		t.Fatalf("expected no receipt on failure")
	}
}

func TestEmitInvoiceClosedRequest(t *testing.T) {
	env := setupServices(t)
	fx := seedEmission(t, env, 10, 10)
	env.Datasul.Respond(datasul.OpInvoiceEmission, http.StatusOK, `{"numero_nf":"900"}`)
	ctx := context.Background()

	first := []service.RequestItem{{CodItemReserva: fx.res[0].CodItemReserva}}
	if _, err := env.svc.InvoiceEmission.EmitInvoice(ctx, first, "edu", fx.request.CodSolicitacao); err != nil {
		t.Fatalf("EmitInvoice: %v", err)
	}

	second := []service.RequestItem{{CodItemReserva: fx.res[1].CodItemReserva}}
	_, err := env.svc.InvoiceEmission.EmitInvoice(ctx, second, "edu", fx.request.CodSolicitacao)
	expectKind(t, err, service.ErrConflict)

	if calls := env.Datasul.Calls(datasul.OpInvoiceEmission); len(calls) != 1 {
		t.Fatalf("expected Datasul called only for the open request, got %d", len(calls))
	}
	if stored := reloadReservation(t, env.DB, fx.res[1].CodItemReserva); stored.IsEmitted() {
		t.Fatalf("reservation %d emitted against a closed request", stored.CodItemReserva)
	}
}

func TestEmitInvoiceUnknownRequest(t *testing.T) {
	env := setupServices(t)
	fx := seedEmission(t, env, 10, 10)

	_, err := env.svc.InvoiceEmission.EmitInvoice(context.Background(), fx.requestItems(), "edu", fx.request.CodSolicitacao+100)
	expectKind(t, err, service.ErrNotFound)
	if calls := env.Datasul.Calls(datasul.OpInvoiceEmission); len(calls) != 0 {
		t.Fatalf("expected no emission call, got %d", len(calls))
	}
}

func TestEmitInvoiceRedisDown(t *testing.T) {
	env := setupServices(t)
	fx := seedEmission(t, env, 10, 10)
	env.Datasul.Respond(datasul.OpInvoiceEmission, http.StatusOK, `{"numero_nf":"321"}`)

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	svc := service.NewServices(repository.NewRepositories(env.DB), env.Datasul.Client(), service.Options{
		Locker: cache.New(rdb, time.Minute),
		Now:    func() time.Time { return fixedNow },
	})

	resp, err := svc.InvoiceEmission.EmitInvoice(context.Background(), fx.requestItems(), "edu", fx.request.CodSolicitacao)
	if err != nil {
		t.Fatalf("expected emission without redis lock, got %v", err)
	}
	if resp.NumeroNF != "321" {
		t.Fatalf("expected NF 321, got %+v", resp)
	}
	if stored := reloadReservation(t, env.DB, fx.res[0].CodItemReserva); !stored.IsEmitted() {
		t.Fatalf("expected reservation emitted")
	}
}

func TestEmitInvoiceRejectsForeignReservation(t *testing.T) {
	env := setupServices(t)
	fx := seedEmission(t, env, 10, 10)
	other := testutil.SeedShippedReservation(t, env.DB, fx.items[0], 1)

	items := append(fx.requestItems(), service.RequestItem{CodItemReserva: other.CodItemReserva})
	_, err := env.svc.InvoiceEmission.EmitInvoice(context.Background(), items, "edu", fx.request.CodSolicitacao)
	expectKind(t, err, service.ErrConflict)
}

func TestEmitInvoiceLockHeld(t *testing.T) {
	env := setupServices(t)
	fx := seedEmission(t, env, 10, 10)
	env.locker.err = cache.ErrLockHeld

	_, err := env.svc.InvoiceEmission.EmitInvoice(context.Background(), fx.requestItems(), "edu", fx.request.CodSolicitacao)
	expectKind(t, err, service.ErrConflict)
	if calls := env.Datasul.Calls(datasul.OpInvoiceEmission); len(calls) != 0 {
		t.Fatalf("expected no emission call, got %d", len(calls))
	}
}

func TestEmitInvoiceValidation(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	_, err := env.svc.InvoiceEmission.EmitInvoice(ctx, nil, "edu", 1)
	expectKind(t, err, service.ErrValidation)
	_, err = env.svc.InvoiceEmission.EmitInvoice(ctx, []service.RequestItem{{CodItemReserva: 1}}, "", 1)
	expectKind(t, err, service.ErrValidation)
	_, err = env.svc.InvoiceEmission.EmitInvoice(ctx, []service.RequestItem{{CodItemReserva: 1}}, "edu", 0)
	expectKind(t, err, service.ErrValidation)
}

func TestAwaitingEmissionListings(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	fx := seedEmission(t, env, 10, 10)
	item := testutil.SeedItem(t, env.DB, &entity.Item{ItCodigo: testutil.Ptr("IT3"), NrOrdProd: testutil.Ptr(300)})
	late := testutil.SeedShippedReservation(t, env.DB, item, 1)
	lateReq := testutil.SeedInvoiceRequest(t, env.DB, fixedNow, late)
	testutil.SeedInvoiceRequest(t, env.DB, fixedNow.Add(-2*time.Hour))

	requests, err := env.svc.InvoiceEmission.GetRequestsAwaitingEmission(ctx)
	if err != nil {
		t.Fatalf("GetRequestsAwaitingEmission: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("expected two requests with pending reservations, got %+v", requests)
	}
	if requests[0].CodSolicitacao != fx.request.CodSolicitacao || requests[0].QuantidadeItens != 2 {
		t.Fatalf("expected oldest request first with 2 items, got %+v", requests[0])
	}
	if requests[1].CodSolicitacao != lateReq.CodSolicitacao || requests[1].QuantidadeItens != 1 {
		t.Fatalf("unexpected second request: %+v", requests[1])
	}

	rows, err := env.svc.InvoiceEmission.GetItemsAwaitingEmission(ctx, datasul.ItemFilter{})
	if err != nil {
		t.Fatalf("GetItemsAwaitingEmission: %v", err)
	}
	if len(rows) != 3 || rows[0].CodSolicitacao != fx.request.CodSolicitacao || rows[2].CodItemReserva != late.CodItemReserva {
		t.Fatalf("unexpected awaiting rows: %+v", rows)
	}
	if rows[0].DataSolicitacao == nil || rows[0].Quantidade == nil || *rows[0].Quantidade != 5 {
		t.Fatalf("expected request date and quantity on row, got %+v", rows[0])
	}

	filtered, err := env.svc.InvoiceEmission.GetItemsAwaitingEmission(ctx, datasul.ItemFilter{OP: "300"})
	if err != nil {
		t.Fatalf("GetItemsAwaitingEmission: %v", err)
	}
	if len(filtered) != 1 || filtered[0].CodItemReserva != late.CodItemReserva {
		t.Fatalf("expected only op 300, got %+v", filtered)
	}
}
