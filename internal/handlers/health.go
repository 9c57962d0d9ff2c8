package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/usermanager/internal/database"
	appErrors "github.com/charlesng35/usermanager/pkg/errors"
	"github.com/charlesng35/usermanager/pkg/response"
)

// Health reports readiness. When db is set the database must answer a ping.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(requestContext(c), 2*time.Second)
			defer cancel()
			if err := database.Ping(ctx, db); err != nil {
				response.Error(c, appErrors.New("UNAVAILABLE", "Database unavailable", http.StatusServiceUnavailable).WithInternal(err))
				return
			}
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
