package middleware

import (
	"errors"
	"net/http"

	"coinledger/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last handler error as the BaseError JSON envelope.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil {
			return
		}

		var v errutil.BaseError
		if errors.As(err.Err, &v) {
			c.JSON(v.Code.HTTPStatus(), v.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: err.Error(),
		}.JSON())
	}
}
