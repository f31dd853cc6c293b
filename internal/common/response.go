package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	FailData(c, httpStatus, code, msg, nil)
}

// FailData is Fail with a payload the client needs to roll back local state.
func FailData(c *gin.Context, httpStatus int, code int, msg string, data any) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    data,
	})
}
