package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"cartapi/internal/validator"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	CtxUserIDKey    = "user_id"    // string
	CtxTenantIDKey  = "tenant_id"  // string
	CtxSessionIDKey = "session_id" // string
)

// IdPが発行したHS256のbearerトークンを検証するミドルウェア。
// 認証は任意：Authorizationが無ければゲストとして通す。あって不正なら401。
func AuthJWT(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authz := c.Request().Header.Get("Authorization")
			if authz == "" {
				return next(c)
			}

			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthenticated"))
			}
			rawToken := strings.TrimSpace(parts[1])
			if rawToken == "" {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthenticated"))
			}

			token, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
				if t.Method != jwt.SigningMethodHS256 {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(secret), nil
			})
			if err != nil || token == nil || !token.Valid {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthenticated"))
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthenticated"))
			}

			userID, err := parseSubject(claims["sub"])
			if err != nil || validator.UserID(userID) != nil {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthenticated"))
			}
			c.Set(CtxUserIDKey, userID)

			//tenantクレームは既定値（?tenant_id=で上書き可）
			if tenant, ok := claims["tenant_id"].(string); ok && tenant != "" && validator.TenantID(tenant) == nil {
				c.Set(CtxTenantIDKey, tenant)
			}

			return next(c)
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorJSON(msg string) errorResponse {
	return errorResponse{Error: msg}
}

// subは文字列。古い発行元の数値idも受け付ける
func parseSubject(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case float64:
		return strconv.FormatInt(int64(t), 10), nil
	default:
		return "", errors.New("invalid sub")
	}
}
