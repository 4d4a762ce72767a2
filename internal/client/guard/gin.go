package guard

import (
	"net/http"

	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"github.com/dmitrijs2005/donorsync/internal/common"
	"github.com/gin-gonic/gin"
)

// Middleware applies p to every request. Only the presence of the access
// token cookie is checked; the API validates the token itself.
func Middleware(p Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := models.StatusAnonymous
		if token, err := c.Cookie(common.AccessTokenCookieName); err == nil && token != "" {
			status = models.StatusAuthenticated
		}

		d := p.Decide(status, c.Request.URL.Path)
		if d.Action == Redirect {
			c.Redirect(http.StatusFound, d.Target)
			c.Abort()
			return
		}
		c.Next()
	}
}
