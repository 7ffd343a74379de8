package main

import (
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// Echo upstream for trying proxy rules locally: point a rule's target at
// http://127.0.0.1:1234 and compare what arrives with what was sent.
func main() {
	addr := os.Getenv("MOCK_LISTEN")
	if addr == "" {
		addr = "127.0.0.1:1234"
	}

	router := gin.Default()
	router.Any("/*proxyPath", func(ctx *gin.Context) {
		body, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx.JSON(http.StatusOK, gin.H{
			"method": ctx.Request.Method,
			"header": ctx.Request.Header,
			"host":   ctx.Request.Host,
			"path":   ctx.Request.URL.Path,
			"query":  ctx.Request.URL.RawQuery,
			"body":   string(body),
		})
	})

	router.Run(addr)
}
