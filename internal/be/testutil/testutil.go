package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/entity"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/middleware"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/datasul"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const JWTSecret = "beneficiamento-test-secret"

var dbCounter atomic.Int64

// TestEnv holds test environment resources
type TestEnv struct {
	DB      *gorm.DB
	Router  *gin.Engine
	Datasul *DatasulFake
	T       *testing.T
}

// SetupTestDB opens an isolated in-memory SQLite database with the three tables migrated.
// A single connection keeps the in-memory database alive and serializes transactions.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:be_test_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&entity.Item{}, &entity.InvoiceRequest{}, &entity.Reservation{}); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, login, name string, roles []string) string {
	if roles == nil {
		roles = []string{}
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"login": login,
		"name":  name,
		"roles": roles,
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken token of an admin user whose login is "tester"
func DefaultTestToken() string {
	return GenerateTestToken("test-user-001", "tester", "Test User", []string{middleware.AdminRole})
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON envelope
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

func Ptr[T any](v T) *T {
	return &v
}

// SeedItem inserts a quotation item. Zero key fields get defaults (op 100, oc 200, ENC1, IT1).
func SeedItem(t *testing.T, db *gorm.DB, item *entity.Item) *entity.Item {
	t.Helper()
	if item.NrOrdProd == nil {
		item.NrOrdProd = Ptr(100)
	}
	if item.NumeroOrdem == nil {
		item.NumeroOrdem = Ptr(200)
	}
	if item.Encomenda == nil {
		item.Encomenda = Ptr("ENC1")
	}
	if item.ItCodigo == nil {
		item.ItCodigo = Ptr("IT1")
	}
	if item.Situacao == nil {
		item.Situacao = entity.StatusPending.Ptr()
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("Failed to seed item: %v", err)
	}
	return item
}

// SeedReservation inserts a reservation derived from item.
func SeedReservation(t *testing.T, db *gorm.DB, item *entity.Item, res *entity.Reservation) *entity.Reservation {
	t.Helper()
	res.NrOrdProd = item.NrOrdProd
	res.NumeroOrdem = item.NumeroOrdem
	res.Encomenda = item.Encomenda
	res.ItCodigo = item.ItCodigo
	if res.CodItemBe == nil {
		res.CopyFromItem(item)
	}
	if res.Situacao == nil {
		res.Situacao = entity.StatusLiberated.Ptr()
	}
	if err := db.Omit("Solicitacao").Create(res).Error; err != nil {
		t.Fatalf("Failed to seed reservation: %v", err)
	}
	return res
}

// SeedShippedReservation reservation already stamped as shipped.
func SeedShippedReservation(t *testing.T, db *gorm.DB, item *entity.Item, qtd float64) *entity.Reservation {
	t.Helper()
	now := time.Now()
	return SeedReservation(t, db, item, &entity.Reservation{
		QtdItem:          item.QtdItem,
		QtdForn:          Ptr(qtd),
		DataExpedicao:    &now,
		UsuarioExpedicao: Ptr("tester"),
	})
}

// SeedInvoiceRequest inserts an open invoice request and links reservations to it.
func SeedInvoiceRequest(t *testing.T, db *gorm.DB, at time.Time, reservations ...*entity.Reservation) *entity.InvoiceRequest {
	t.Helper()
	req := &entity.InvoiceRequest{DataSolicitacao: at, Situacao: entity.RequestStatusOpen, UsuarioSolicitacao: "tester"}
	if err := db.Omit("Reservas").Create(req).Error; err != nil {
		t.Fatalf("Failed to seed invoice request: %v", err)
	}
	for _, r := range reservations {
		err := db.Model(&entity.Reservation{}).Where("cod_item_reserva = ?", r.CodItemReserva).Updates(map[string]interface{}{
			"cod_solicitacao":        req.CodSolicitacao,
			"situacao":               entity.StatusInvoiceRequested,
			"data_solicitacao_nf":    at,
			"usuario_solicitacao_nf": "tester",
		}).Error
		if err != nil {
			t.Fatalf("Failed to link reservation: %v", err)
		}
		id := req.CodSolicitacao
		r.CodSolicitacao = &id
		r.Situacao = entity.StatusInvoiceRequested.Ptr()
	}
	return req
}

// DatasulFake canned Datasul endpoint. Responses are keyed by tipo.
type DatasulFake struct {
	Server *httptest.Server

	mu        sync.Mutex
	responses map[string]fakeResponse
	requests  []*http.Request
}

type fakeResponse struct {
	status int
	body   string
}

// NewDatasulFake starts a fake that answers 404 for unconfigured tipos.
func NewDatasulFake(t *testing.T) *DatasulFake {
	t.Helper()
	f := &DatasulFake{responses: map[string]fakeResponse{}}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Clone(r.Context()))
		resp, ok := f.responses[r.URL.Query().Get("tipo")]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		w.Write([]byte(resp.body))
	}))
	t.Cleanup(f.Server.Close)
	return f
}

// Respond sets the answer for tipo.
func (f *DatasulFake) Respond(op datasul.Operation, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[op.String()] = fakeResponse{status: status, body: body}
}

// Calls requests received for tipo.
func (f *DatasulFake) Calls(op datasul.Operation) []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*http.Request
	for _, r := range f.requests {
		if r.URL.Query().Get("tipo") == op.String() {
			out = append(out, r)
		}
	}
	return out
}

// Client datasul client pointed at the fake.
func (f *DatasulFake) Client() *datasul.Client {
	return datasul.NewClient(datasul.Config{
		BaseURL:         f.Server.URL,
		User:            "svc",
		Password:        "secret",
		Timeout:         5 * time.Second,
		EmissionTimeout: 5 * time.Second,
	}, nil)
}
