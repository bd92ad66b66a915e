package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/permitwise/billingcore/internal/orgcontext"
)

const HeaderOrg = "X-Org-ID"

// OrgContext resolves the acting organization from the X-Org-ID header and
// injects it into the request context. Falls back to the configured default
// organization when the header is absent.
func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if raw == "" {
			if s.cfg.DefaultOrgID == 0 {
				AbortWithError(c, ErrInvalidRequest)
				return
			}
			ctx := orgcontext.WithOrgID(c.Request.Context(), s.cfg.DefaultOrgID)
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		orgID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		ctx := orgcontext.WithOrgID(c.Request.Context(), int64(orgID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func orgIDFrom(c *gin.Context) (snowflake.ID, bool) {
	return orgcontext.OrgIDFromContext(c.Request.Context())
}

func parseID(c *gin.Context, param string) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param(param))
	if raw == "" {
		return 0, ErrInvalidRequest
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return id, nil
}
