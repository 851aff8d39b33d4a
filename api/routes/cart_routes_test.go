package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cartcache-backend/internal/cart"
	"github.com/angelmondragon/cartcache-backend/internal/popularity"
	pkgerrors "github.com/angelmondragon/cartcache-backend/pkg/errors"
)

// stubCartService keeps carts in memory and records the last top-k request.
type stubCartService struct {
	carts map[string]*cart.Cart
	lastK int
}

func newStubCartService() *stubCartService {
	return &stubCartService{carts: map[string]*cart.Cart{}}
}

func (s *stubCartService) get(userID string) *cart.Cart {
	c, ok := s.carts[userID]
	if !ok {
		c = cart.NewCart(userID)
		s.carts[userID] = c
	}
	return c
}

func (s *stubCartService) GetCart(_ context.Context, userID string) (*cart.Cart, error) {
	return s.get(userID).Clone(), nil
}

func (s *stubCartService) AddItem(_ context.Context, userID string, input cart.ItemInput) (*cart.Cart, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	c := s.get(userID)
	c.AddItem(cart.Item{ProductID: input.ProductID, Name: input.Name, Price: input.Price, Quantity: input.Quantity})
	return c.Clone(), nil
}

func (s *stubCartService) RemoveItem(_ context.Context, userID string, productID int64) (*cart.Cart, error) {
	c := s.get(userID)
	c.RemoveItem(productID)
	return c.Clone(), nil
}

func (s *stubCartService) UpdateQuantity(_ context.Context, userID string, productID int64, quantity int) (*cart.Cart, error) {
	c := s.get(userID)
	if !c.UpdateQuantity(productID, quantity) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, cart.ErrItemNotFound, "product not in cart")
	}
	return c.Clone(), nil
}

func (s *stubCartService) ClearCart(_ context.Context, userID string) error {
	delete(s.carts, userID)
	return nil
}

func (s *stubCartService) GetTopProducts(_ context.Context, k int) ([]popularity.ProductCount, error) {
	s.lastK = k
	return []popularity.ProductCount{{ProductID: 2, Count: 9}, {ProductID: 1, Count: 5}}, nil
}

type cartBody struct {
	Data struct {
		UserID        string      `json:"user_id"`
		Items         []cart.Item `json:"items"`
		TotalQuantity int         `json:"total_quantity"`
		Subtotal      string      `json:"subtotal"`
	} `json:"data"`
}

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newCartRouter() (http.Handler, *stubCartService) {
	svc := newStubCartService()
	h := NewRouter(testConfig(), nil, stubPinger{}, stubCache{connected: true}, prometheus.NewRegistry(), nil, svc)
	return h, svc
}

func TestCartRoutesAddAndGet(t *testing.T) {
	h, _ := newCartRouter()

	rec := serve(t, h, http.MethodPost, "/api/v1/carts/u1/items", `{"product_id":7,"name":"Mug","price":"4.50","quantity":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("add: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, h, http.MethodGet, "/api/v1/carts/u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	var body cartBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.UserID != "u1" || len(body.Data.Items) != 1 || body.Data.TotalQuantity != 2 {
		t.Fatalf("unexpected cart %+v", body.Data)
	}
	if !body.Data.Items[0].Price.Equal(decimal.RequireFromString("4.5")) || body.Data.Subtotal != "9" {
		t.Fatalf("unexpected money fields %+v", body.Data)
	}
}

func TestCartRoutesAddRejectsInvalidBody(t *testing.T) {
	h, _ := newCartRouter()

	rec := serve(t, h, http.MethodPost, "/api/v1/carts/u1/items", `{"product_id":0,"name":"","quantity":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != string(pkgerrors.CodeValidation) || body.Error.Details["quantity"] == nil {
		t.Fatalf("unexpected error %+v", body.Error)
	}

	rec = serve(t, h, http.MethodPost, "/api/v1/carts/u1/items", `{"product_id":1,"unknown":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown fields: expected 400, got %d", rec.Code)
	}
}

func TestCartRoutesUpdateMissingProductIs404(t *testing.T) {
	h, _ := newCartRouter()

	rec := serve(t, h, http.MethodPut, "/api/v1/carts/u1/items/99", `{"quantity":3}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != string(pkgerrors.CodeNotFound) {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}

	rec = serve(t, h, http.MethodPut, "/api/v1/carts/u1/items/99", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing quantity: expected 400, got %d", rec.Code)
	}
	rec = serve(t, h, http.MethodPut, "/api/v1/carts/u1/items/abc", `{"quantity":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad product id: expected 400, got %d", rec.Code)
	}
}

func TestCartRoutesUpdateRemoveAndClear(t *testing.T) {
	h, svc := newCartRouter()
	serve(t, h, http.MethodPost, "/api/v1/carts/u1/items", `{"product_id":1,"name":"A","price":1,"quantity":1}`)
	serve(t, h, http.MethodPost, "/api/v1/carts/u1/items", `{"product_id":2,"name":"B","price":2,"quantity":1}`)

	if rec := serve(t, h, http.MethodPut, "/api/v1/carts/u1/items/1", `{"quantity":4}`); rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", rec.Code)
	}
	if got, _ := svc.carts["u1"].Find(1); got.Quantity != 4 {
		t.Fatalf("expected quantity 4, got %d", got.Quantity)
	}

	if rec := serve(t, h, http.MethodDelete, "/api/v1/carts/u1/items/2", ""); rec.Code != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d", rec.Code)
	}
	if _, ok := svc.carts["u1"].Find(2); ok {
		t.Fatal("product 2 must be removed")
	}

	if rec := serve(t, h, http.MethodDelete, "/api/v1/carts/u1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("clear: expected 204, got %d", rec.Code)
	}
	if _, ok := svc.carts["u1"]; ok {
		t.Fatal("cart must be cleared")
	}
}

func TestTopProductsRoute(t *testing.T) {
	h, svc := newCartRouter()

	rec := serve(t, h, http.MethodGet, "/api/v1/stats/top-products", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.lastK != popularity.DefaultTopK {
		t.Fatalf("expected default k, got %d", svc.lastK)
	}
	var body struct {
		Data struct {
			TopProducts []popularity.ProductCount `json:"top_products"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data.TopProducts) != 2 || body.Data.TopProducts[0].ProductID != 2 {
		t.Fatalf("unexpected payload %+v", body.Data.TopProducts)
	}

	serve(t, h, http.MethodGet, "/api/v1/stats/top-products?k=3", "")
	if svc.lastK != 3 {
		t.Fatalf("expected k=3, got %d", svc.lastK)
	}
	if rec := serve(t, h, http.MethodGet, "/api/v1/stats/top-products?k=abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad k, got %d", rec.Code)
	}
}
