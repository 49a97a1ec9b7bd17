package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/DeanThompson/ginpprof"
	"github.com/gin-gonic/gin"
)

// mountPprof exposes the runtime profiles under /debug/pprof.
func (s *Server) mountPprof(r *gin.Engine) {
	g := r.Group("")
	if tok := s.cfg.PprofToken; tok != "" {
		g.Use(bearer(tok))
	}
	ginpprof.WrapGroup(g)
}

func bearer(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
