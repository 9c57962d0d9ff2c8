package handlers

import (
	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/usermanager/pkg/errors"
	"github.com/charlesng35/usermanager/pkg/response"
	appValidator "github.com/charlesng35/usermanager/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When either step fails an error response is written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewValidation(appValidator.FirstMessage(err)))
		return false
	}

	return true
}
