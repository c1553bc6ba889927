package handler

import (
	"net/http"

	"cartapi/internal/domain/model"
	"cartapi/internal/middleware"
	"cartapi/internal/validator"

	"github.com/labstack/echo/v4"
)

func getString(c echo.Context, key string) string {
	s, _ := c.Get(key).(string)
	return s
}

// ownerFromContextはミドルウェアが解決した値からカートの持ち主を組み立てる。
// ?tenant_id= があればトークンのtenantクレームより優先。
func ownerFromContext(c echo.Context) (model.OwnerKey, bool) {
	tenant := c.QueryParam("tenant_id")
	if tenant == "" {
		tenant = getString(c, middleware.CtxTenantIDKey)
	}
	if validator.TenantID(tenant) != nil {
		return model.OwnerKey{}, false
	}
	return model.OwnerKey{
		TenantID:  tenant,
		UserID:    getString(c, middleware.CtxUserIDKey),
		SessionID: getString(c, middleware.CtxSessionIDKey),
	}, true
}

func invalidTenant(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid tenant_id"})
}
