package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cartapi/internal/config"
	"cartapi/internal/domain/model"
	"cartapi/internal/handler"
	"cartapi/internal/infra/memory"
	"cartapi/internal/middleware"
	"cartapi/internal/usecase"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "handler-test-secret"

type stubClock struct{}

func (stubClock) Now() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }

type counterIDs struct{ n int }

func (g *counterIDs) NewID() string {
	g.n++
	return fmt.Sprintf("sess-%d", g.n)
}

type testAPI struct {
	e     *echo.Echo
	store *memory.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := config.Config{GoEnv: "dev", JWTSecret: secret, GuestCartTTL: 24 * time.Hour}
	store := memory.NewStore()

	cartUC := usecase.NewCartUsecase(store, nil, &counterIDs{}, stubClock{}, nil, usecase.CartConfig{
		Currency: "USD",
		GuestTTL: cfg.GuestCartTTL,
	})
	e := echo.New()
	handler.NewCartHandler(cartUC).RegisterRoutes(e, cfg)
	handler.NewProductHandler(usecase.NewProductUsecase(store)).RegisterRoutes(e)
	return &testAPI{e: e, store: store}
}

type reqOpt func(*http.Request)

func bearer(t *testing.T, sub, tenant string) reqOpt {
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}
	if tenant != "" {
		claims["tenant_id"] = tenant
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func session(sid string) reqOpt {
	return func(r *http.Request) { r.Header.Set(middleware.SessionHeader, sid) }
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, opts ...reqOpt) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body=%s", rec.Body.String())
	return v
}

func stockOf(n int64) *int64 { return &n }

func TestCartAPI_AddDuplicatePatchStockExceededDelete(t *testing.T) {
	api := newTestAPI(t)
	p := api.store.PutProduct(model.Product{Name: "beans", Price: 1000, Currency: "USD", IsActive: true, TrackInventory: true, Stock: stockOf(5)})
	auth := bearer(t, "user-1", "")

	//カートはまだ無い
	rec := api.do(t, http.MethodGet, "/cart", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "null", rec.Body.String())

	rec = api.do(t, http.MethodPost, "/cart/items", handler.AddCartRequest{ProductID: p.ID, Quantity: 2}, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	added := decode[usecase.AddResult](t, rec)
	assert.NotZero(t, added.CartID)

	rec = api.do(t, http.MethodPost, "/cart/items", handler.AddCartRequest{ProductID: p.ID, Quantity: 1}, auth)
	require.Equal(t, http.StatusOK, rec.Code)

	view := decode[model.CartView](t, api.do(t, http.MethodGet, "/cart", nil, auth))
	require.Len(t, view.Items, 1)
	assert.Equal(t, added.CartID, view.CartID)
	assert.Equal(t, int64(3), view.Items[0].Quantity)
	assert.Equal(t, int64(3000), view.Subtotal)
	itemID := view.Items[0].ID

	rec = api.do(t, http.MethodPatch, fmt.Sprintf("/cart/items/%d", itemID), handler.UpdateCartItemRequest{Quantity: 5}, auth)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPatch, fmt.Sprintf("/cart/items/%d", itemID), handler.UpdateCartItemRequest{Quantity: 6}, auth)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"insufficient inventory"}`, rec.Body.String())

	count := decode[handler.CountResponse](t, api.do(t, http.MethodGet, "/cart/count", nil, auth))
	assert.Equal(t, int64(5), count.Count)

	rec = api.do(t, http.MethodDelete, fmt.Sprintf("/cart/items/%d", itemID), nil, auth)
	require.Equal(t, http.StatusNoContent, rec.Code)

	view = decode[model.CartView](t, api.do(t, http.MethodGet, "/cart", nil, auth))
	assert.Empty(t, view.Items)
	assert.Zero(t, view.Subtotal)
}

func TestCartAPI_ErrorMapping(t *testing.T) {
	api := newTestAPI(t)
	p := api.store.PutProduct(model.Product{Name: "tea", Price: 500, Currency: "USD", IsActive: true})
	inactive := api.store.PutProduct(model.Product{Name: "draft", Price: 500, Currency: "USD"})
	auth := bearer(t, "user-1", "")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		opts   []reqOpt
		status int
		msg    string
	}{
		{"anonymous add", http.MethodPost, "/cart/items", handler.AddCartRequest{ProductID: p.ID, Quantity: 1}, nil, http.StatusUnauthorized, "unauthenticated"},
		{"zero quantity", http.MethodPost, "/cart/items", handler.AddCartRequest{ProductID: p.ID, Quantity: 0}, []reqOpt{auth}, http.StatusBadRequest, "invalid quantity"},
		{"quantity over cap", http.MethodPost, "/cart/items", handler.AddCartRequest{ProductID: p.ID, Quantity: model.MaxItemQuantity + 1}, []reqOpt{auth}, http.StatusBadRequest, "invalid quantity"},
		{"overflowing quantity", http.MethodPost, "/cart/items", handler.AddCartRequest{ProductID: p.ID, Quantity: math.MaxInt64}, []reqOpt{auth}, http.StatusBadRequest, "invalid quantity"},
		{"unknown product", http.MethodPost, "/cart/items", handler.AddCartRequest{ProductID: 999, Quantity: 1}, []reqOpt{auth}, http.StatusUnprocessableEntity, "product not available"},
		{"inactive product", http.MethodPost, "/cart/items", handler.AddCartRequest{ProductID: inactive.ID, Quantity: 1}, []reqOpt{auth}, http.StatusUnprocessableEntity, "product not available"},
		{"missing item", http.MethodPatch, "/cart/items/999", handler.UpdateCartItemRequest{Quantity: 1}, []reqOpt{auth}, http.StatusNotFound, "not found"},
		{"bad item id", http.MethodDelete, "/cart/items/abc", nil, []reqOpt{auth}, http.StatusBadRequest, "invalid id"},
		{"guest clear", http.MethodDelete, "/cart", nil, []reqOpt{session("s1")}, http.StatusUnauthorized, "unauthenticated"},
		{"guest merge", http.MethodPost, "/cart/merge", nil, []reqOpt{session("s1")}, http.StatusUnauthorized, "unauthenticated"},
		{"bad tenant", http.MethodGet, "/cart?tenant_id=bad%20tenant", nil, []reqOpt{auth}, http.StatusBadRequest, "invalid tenant_id"},
		{"bad session header", http.MethodGet, "/cart", nil, []reqOpt{session("not a token")}, http.StatusBadRequest, "invalid session"},
		{"bad merge session", http.MethodPost, "/cart/merge", handler.MergeCartRequest{SessionID: "x;y"}, []reqOpt{auth}, http.StatusBadRequest, "invalid session"},
		{"bad token", http.MethodGet, "/cart", nil, []reqOpt{func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }}, http.StatusUnauthorized, "unauthenticated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.method, tt.path, tt.body, tt.opts...)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, decode[handler.ErrorResponse](t, rec).Error)
		})
	}
}

func TestCartAPI_OtherUsersItemIsForbidden(t *testing.T) {
	api := newTestAPI(t)
	p := api.store.PutProduct(model.Product{Name: "tea", Price: 500, Currency: "USD", IsActive: true})
	alice := bearer(t, "alice", "")
	bob := bearer(t, "bob", "")

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/cart/items", handler.AddCartRequest{ProductID: p.ID, Quantity: 1}, alice).Code)
	view := decode[model.CartView](t, api.do(t, http.MethodGet, "/cart", nil, alice))
	path := fmt.Sprintf("/cart/items/%d", view.Items[0].ID)

	rec := api.do(t, http.MethodPatch, path, handler.UpdateCartItemRequest{Quantity: 2}, bob)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.do(t, http.MethodDelete, path, nil, bob)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCartAPI_GuestSessionThenMerge(t *testing.T) {
	api := newTestAPI(t)
	a := api.store.PutProduct(model.Product{Name: "a", Price: 1000, Currency: "USD", IsActive: true})
	b := api.store.PutProduct(model.Product{Name: "b", Price: 250, Currency: "USD", IsActive: true})

	rec := api.do(t, http.MethodPost, "/cart/session", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	sid := decode[handler.SessionResponse](t, rec).SessionID
	require.NotEmpty(t, sid)

	var cookie *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == middleware.SessionCookie {
			cookie = ck
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, sid, cookie.Value)
	assert.Equal(t, int((24 * time.Hour).Seconds()), cookie.MaxAge)

	//cookieだけでゲストを識別できる
	withCookie := func(r *http.Request) { r.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: sid}) }
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/cart/items", handler.AddCartRequest{ProductID: a.ID, Quantity: 2}, withCookie).Code)
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/cart/items", handler.AddCartRequest{ProductID: b.ID, Quantity: 1}, session(sid)).Code)

	guestView := decode[model.CartView](t, api.do(t, http.MethodGet, "/cart", nil, session(sid)))
	assert.Equal(t, int64(2250), guestView.Subtotal)
	require.NotNil(t, guestView.ExpiresAt)

	auth := bearer(t, "user-9", "shop")
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/cart/items", handler.AddCartRequest{ProductID: a.ID, Quantity: 1}, auth).Code)

	rec = api.do(t, http.MethodPost, "/cart/merge", handler.MergeCartRequest{SessionID: sid}, auth)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	userView := decode[model.CartView](t, api.do(t, http.MethodGet, "/cart", nil, auth))
	assert.Equal(t, "shop", userView.TenantID)
	assert.Len(t, userView.Items, 2)
	assert.Equal(t, int64(3250), userView.Subtotal)
	assert.Equal(t, int64(4), userView.ItemCount)
	assert.Nil(t, userView.ExpiresAt)

	rec = api.do(t, http.MethodGet, "/cart", nil, session(sid))
	assert.JSONEq(t, "null", rec.Body.String())
}

func TestCartAPI_MergeUsesRequestSession(t *testing.T) {
	api := newTestAPI(t)
	p := api.store.PutProduct(model.Product{Name: "a", Price: 100, Currency: "USD", IsActive: true})

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/cart/items", handler.AddCartRequest{ProductID: p.ID, Quantity: 3}, session("guest-x")).Code)

	auth := bearer(t, "user-2", "")
	rec := api.do(t, http.MethodPost, "/cart/merge", nil, auth, session("guest-x"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	count := decode[handler.CountResponse](t, api.do(t, http.MethodGet, "/cart/count", nil, auth))
	assert.Equal(t, int64(3), count.Count)
}

func TestCartAPI_TenantQueryOverridesClaim(t *testing.T) {
	api := newTestAPI(t)
	p := api.store.PutProduct(model.Product{Name: "a", Price: 100, Currency: "USD", IsActive: true})
	auth := bearer(t, "user-3", "shop-a")

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/cart/items?tenant_id=shop-b", handler.AddCartRequest{ProductID: p.ID, Quantity: 2}, auth).Code)

	rec := api.do(t, http.MethodGet, "/cart", nil, auth)
	assert.JSONEq(t, "null", rec.Body.String(), "claim tenant has no cart")

	view := decode[model.CartView](t, api.do(t, http.MethodGet, "/cart?tenant_id=shop-b", nil, auth))
	assert.Equal(t, "shop-b", view.TenantID)
	assert.Equal(t, int64(2), view.ItemCount)

	rec = api.do(t, http.MethodDelete, "/cart?tenant_id=shop-b", nil, auth)
	require.Equal(t, http.StatusNoContent, rec.Code)
	view = decode[model.CartView](t, api.do(t, http.MethodGet, "/cart?tenant_id=shop-b", nil, auth))
	assert.Zero(t, view.ItemCount)
}

func TestProductAPI_Detail(t *testing.T) {
	api := newTestAPI(t)
	p := api.store.PutProduct(model.Product{Name: "mug", Price: 1250, Currency: "USD", IsActive: true, TrackInventory: true, Stock: stockOf(2)})

	rec := api.do(t, http.MethodGet, fmt.Sprintf("/products/%d", p.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[usecase.ProductSnapshot](t, rec)
	assert.Equal(t, "mug", snap.Name)
	require.NotNil(t, snap.AvailableQuantity)
	assert.Equal(t, int64(2), *snap.AvailableQuantity)

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/products/999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/products/x", nil).Code)
}
