package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Mekazstan/coop-payments-api/internal/auth"
	"github.com/Mekazstan/coop-payments-api/internal/cache"
	"github.com/Mekazstan/coop-payments-api/internal/email"
	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/Mekazstan/coop-payments-api/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type fakeStore struct {
	mu        sync.Mutex
	txs       map[string]*store.Transaction
	createErr error
}

func newFakeStore(txs ...*store.Transaction) *fakeStore {
	s := &fakeStore{txs: make(map[string]*store.Transaction)}
	for _, tx := range txs {
		s.txs[tx.Reference] = tx
	}
	return s
}

func (s *fakeStore) Create(ctx context.Context, tx *store.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.txs[tx.Reference]; ok {
		return store.ErrConflict
	}
	cp := *tx
	s.txs[tx.Reference] = &cp
	return nil
}

func (s *fakeStore) GetByReference(ctx context.Context, reference string) (*store.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[reference]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *fakeStore) GetByProviderReference(ctx context.Context, id gateway.ID, providerRef string) (*store.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.Gateway == id && tx.ProviderReference == providerRef {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) UpdateStatus(ctx context.Context, reference string, status gateway.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[reference]
	if !ok {
		return store.ErrNotFound
	}
	if !store.CanTransition(tx.Status, status) {
		return store.ErrStatusTransition
	}
	tx.Status = status
	return nil
}

// setStatus changes a record behind the handler's back, the way a
// concurrent settler would.
func (s *fakeStore) setStatus(reference string, status gateway.PaymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[reference].Status = status
}

func (s *fakeStore) status(reference string) gateway.PaymentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[reference]; ok {
		return tx.Status
	}
	return ""
}

type fakeGuard struct {
	claimed   map[string]string
	claimErr  error
	completed []string
	released  []string
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{claimed: make(map[string]string)}
}

func (g *fakeGuard) Claim(ctx context.Context, reference string) error {
	if g.claimErr != nil {
		return g.claimErr
	}
	if _, ok := g.claimed[reference]; ok {
		return cache.ErrDuplicate
	}
	g.claimed[reference] = "IN_PROGRESS"
	return nil
}

func (g *fakeGuard) Complete(ctx context.Context, reference string) error {
	g.claimed[reference] = "COMPLETED"
	g.completed = append(g.completed, reference)
	return nil
}

func (g *fakeGuard) Release(ctx context.Context, reference string) error {
	delete(g.claimed, reference)
	g.released = append(g.released, reference)
	return nil
}

type fakeInvoker struct {
	mu           sync.Mutex
	fail         map[gateway.ID]error
	calls        []gateway.ID
	last         gateway.PaymentRequest
	refundStatus string
}

func (f *fakeInvoker) initErr(id gateway.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return f.fail[id]
}

func (f *fakeInvoker) Initialize(ctx context.Context, id gateway.ID, req gateway.PaymentRequest) (*gateway.PaymentResponse, error) {
	if err := f.initErr(id); err != nil {
		return nil, err
	}
	f.last = req
	ref := req.Reference
	if ref == "" {
		ref = "COOP-" + string(id) + "-generated"
	}
	resp := &gateway.PaymentResponse{Success: true, Reference: ref, Gateway: id, Message: "ok"}
	if id == gateway.Providus {
		resp.AccountDetails = &gateway.AccountDetails{AccountNumber: "9977581536", AccountName: "COOP/Ada", BankName: "Providus Bank"}
	} else {
		resp.PaymentURL = "https://pay.example.com/" + ref
	}
	return resp, nil
}

func (f *fakeInvoker) Verify(ctx context.Context, reference string, id gateway.ID) (*gateway.Verification, error) {
	if err := f.initErr(id); err != nil {
		return nil, err
	}
	return &gateway.Verification{Success: true, Reference: reference, Gateway: id, Status: gateway.StatusSuccess}, nil
}

func (f *fakeInvoker) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	if err := f.initErr(req.Gateway); err != nil {
		return nil, err
	}
	status := f.refundStatus
	if status == "" {
		status = "pending"
	}
	return &gateway.Refund{Success: true, Reference: req.Reference, Gateway: req.Gateway, RefundID: "rf_1", Status: status}, nil
}

type fakeMailer struct {
	receipts []string
}

func (m *fakeMailer) SendPaymentReceipt(to string, data email.ReceiptData) error {
	m.receipts = append(m.receipts, to+":"+data.Reference)
	return nil
}

func (m *fakeMailer) SendPaymentFailed(to string, data email.FailedData) error {
	return nil
}

type testAPI struct {
	cfg     *apiConfig
	store   *fakeStore
	guard   *fakeGuard
	invoker *fakeInvoker
	mailer  *fakeMailer
	handler http.Handler
	token   string
}

func newTestAPI(t *testing.T, txs ...*store.Transaction) *testAPI {
	t.Helper()

	registry, err := gateway.NewRegistry(gateway.DefaultConfigs()...)
	require.NoError(t, err)

	inv := &fakeInvoker{fail: make(map[gateway.ID]error)}
	api := &testAPI{
		store:   newFakeStore(txs...),
		guard:   newFakeGuard(),
		invoker: inv,
		mailer:  &fakeMailer{},
	}
	api.cfg = &apiConfig{
		registry:     registry,
		manager:      gateway.NewManager(registry, inv, nil),
		invoker:      inv,
		transactions: api.store,
		guard:        api.guard,
		mailer:       api.mailer,
		logger:       zap.NewNop().Sugar(),
		jwtSecret:    testSecret,
		rateLimit:    100,
		corsOrigins:  []string{"http://localhost:3000"},
	}
	api.handler = api.cfg.routes()

	api.token, err = auth.MakeJWT(uuid.New(), testSecret, time.Hour)
	require.NoError(t, err)
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)

	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

type testResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) testResponse {
	t.Helper()
	var resp testResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}
