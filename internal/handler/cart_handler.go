package handler

import (
	"net/http"
	"strconv"
	"time"

	"cartapi/internal/config"
	"cartapi/internal/middleware"
	"cartapi/internal/usecase"
	"cartapi/internal/validator"

	"github.com/labstack/echo/v4"
)

// /cart のハンドラ（購入者はbearerトークン・ゲストセッションのどちらか、または両方で識別）
type CartHandler struct {
	uc *usecase.CartUsecase
}

// DI
func NewCartHandler(uc *usecase.CartUsecase) *CartHandler {
	return &CartHandler{uc: uc}
}

type AddCartRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type UpdateCartItemRequest struct {
	Quantity int64 `json:"quantity"`
}

type MergeCartRequest struct {
	SessionID string `json:"session_id"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

type SessionResponse struct {
	SessionID string `json:"session_id"`
}

func (h *CartHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/cart")
	g.Use(middleware.AuthJWT(cfg.JWTSecret))
	g.Use(middleware.GuestSession())

	g.GET("", h.getCart)
	g.GET("/count", h.getCount)
	g.DELETE("", h.clearCart)
	g.POST("/items", h.addToCart)
	g.PATCH("/items/:id", h.patchItem)
	g.DELETE("/items/:id", h.deleteItem)
	g.POST("/merge", h.merge)
	g.POST("/session", h.issueSession(cfg.GuestCartTTL, !cfg.IsDev()))
}

// カートが無ければnullを返す
func (h *CartHandler) getCart(c echo.Context) error {
	owner, ok := ownerFromContext(c)
	if !ok {
		return invalidTenant(c)
	}

	out, err := h.uc.GetCart(c.Request().Context(), owner)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) getCount(c echo.Context) error {
	owner, ok := ownerFromContext(c)
	if !ok {
		return invalidTenant(c)
	}

	n, err := h.uc.GetCartItemCount(c.Request().Context(), owner)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, CountResponse{Count: n})
}

func (h *CartHandler) addToCart(c echo.Context) error {
	owner, ok := ownerFromContext(c)
	if !ok {
		return invalidTenant(c)
	}

	var req AddCartRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.uc.AddToCart(c.Request().Context(), owner, req.ProductID, req.Quantity)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) patchItem(c echo.Context) error {
	owner, ok := ownerFromContext(c)
	if !ok {
		return invalidTenant(c)
	}

	itemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	var req UpdateCartItemRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	if err := h.uc.UpdateCartItem(c.Request().Context(), owner, itemID, req.Quantity); err != nil {
		return writeError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *CartHandler) deleteItem(c echo.Context) error {
	owner, ok := ownerFromContext(c)
	if !ok {
		return invalidTenant(c)
	}

	itemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	if err := h.uc.RemoveFromCart(c.Request().Context(), owner, itemID); err != nil {
		return writeError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *CartHandler) clearCart(c echo.Context) error {
	owner, ok := ownerFromContext(c)
	if !ok {
		return invalidTenant(c)
	}

	if err := h.uc.ClearCart(c.Request().Context(), owner); err != nil {
		return writeError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// ゲストセッションはbodyのsession_id、無ければリクエスト自身のセッション。
// 成功したらセッションcookieを消す。
func (h *CartHandler) merge(c echo.Context) error {
	owner, ok := ownerFromContext(c)
	if !ok {
		return invalidTenant(c)
	}

	var req MergeCartRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = owner.SessionID
	} else if validator.SessionID(sessionID) != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid session"})
	}

	if err := h.uc.MergeGuestCart(c.Request().Context(), owner, sessionID); err != nil {
		return writeError(c, err)
	}

	c.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	return c.NoContent(http.StatusNoContent)
}

func (h *CartHandler) issueSession(ttl time.Duration, secure bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		sid := h.uc.IssueGuestSession()

		c.SetCookie(&http.Cookie{
			Name:     middleware.SessionCookie,
			Value:    sid,
			Path:     "/",
			MaxAge:   int(ttl.Seconds()),
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
		return c.JSON(http.StatusCreated, SessionResponse{SessionID: sid})
	}
}
