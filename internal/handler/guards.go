package handler

import "github.com/gin-gonic/gin"

// Guards are the per-route middlewares resource handlers attach when they
// register their routes. A nil guard is skipped.
type Guards struct {
	Authenticate gin.HandlerFunc
	Login        gin.HandlerFunc
	Register     gin.HandlerFunc
	Sensitive    gin.HandlerFunc
	Compress     gin.HandlerFunc
}

// Use drops the nil guards.
func Use(guards ...gin.HandlerFunc) []gin.HandlerFunc {
	chain := make([]gin.HandlerFunc, 0, len(guards)+1)
	for _, g := range guards {
		if g != nil {
			chain = append(chain, g)
		}
	}
	return chain
}

// Chain prepends the non-nil guards to h.
func Chain(h gin.HandlerFunc, guards ...gin.HandlerFunc) []gin.HandlerFunc {
	return append(Use(guards...), h)
}
