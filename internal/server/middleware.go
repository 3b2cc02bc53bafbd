package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/croftlabs/croft/internal/tenant/domain"
	"github.com/croftlabs/croft/pkg/tenantctx"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// TenantContextMiddleware resolves the tenant named in the path and
// stores its handle in the request context, so downstream operations
// receive an explicit tenant reference rather than re-resolving it or
// leaning on ambient connection state.
func TenantContextMiddleware(db *gorm.DB, tenants tenantdomain.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.Param("tenant_id"))
		if raw == "" {
			c.Next()
			return
		}
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, tenantdomain.ErrTenantNotFound)
			return
		}

		tenant, err := tenants.FindByID(c.Request.Context(), db, id)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if tenant == nil {
			AbortWithError(c, tenantdomain.ErrTenantNotFound)
			return
		}

		ctx := tenantctx.WithRef(c.Request.Context(), tenantctx.Ref{
			ID:     tenant.ID,
			Schema: tenant.SchemaName,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
