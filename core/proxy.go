package core

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ProxyHandler forwards site traffic through the cache worker. When the
// worker process is down the gateway degrades to a direct origin fetch, so a
// worker restart never takes the site with it.
func ProxyHandler(worker, origin *OriginClient, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		resp, err := worker.Forward(ctx, c.Request)
		if err == nil {
			resp.WriteTo(c.Writer)
			return
		}
		logger.Warn("cache worker unreachable",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)

		resp, err = origin.Forward(ctx, c.Request)
		if err != nil {
			logger.Error("origin unreachable",
				slog.String("path", c.Request.URL.Path),
				slog.Any("error", err),
			)
			c.String(http.StatusBadGateway, "upstream unavailable")
			return
		}
		resp.WriteTo(c.Writer)
	}
}
