package middleware

import (
	"net/http"
	"strings"

	"cartapi/internal/validator"

	"github.com/labstack/echo/v4"
)

const (
	SessionHeader = "X-Session-ID"
	SessionCookie = "cart_session"
)

// GuestSessionはX-Session-IDヘッダ、無ければcart_session cookieからゲストのセッショントークンを取る。
// 形式が不正なら400。
func GuestSession() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sid := strings.TrimSpace(c.Request().Header.Get(SessionHeader))
			if sid == "" {
				if ck, err := c.Cookie(SessionCookie); err == nil {
					sid = strings.TrimSpace(ck.Value)
				}
			}
			if sid != "" {
				if validator.SessionID(sid) != nil {
					return c.JSON(http.StatusBadRequest, errorJSON("invalid session"))
				}
				c.Set(CtxSessionIDKey, sid)
			}
			return next(c)
		}
	}
}
