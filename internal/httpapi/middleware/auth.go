package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chatvault/internal/auth"
	"github.com/suPer8Hu/chatvault/internal/common"
)

const SubjectKey = "auth_subject"

// AuthRequired accepts "Authorization: Bearer <jwt>", or an access_token
// query parameter for the event stream where browsers cannot set headers.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		} else {
			token = c.Query("access_token")
		}
		if token == "" {
			common.Fail(c, http.StatusUnauthorized, 40100, "missing token")
			return
		}
		sub, err := auth.Parse(secret, token)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		c.Set(SubjectKey, sub)
		c.Next()
	}
}
