package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"silvercare/pkg/errors"
)

type Body struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: 0, Message: message, Data: data})
}

func Fail(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusBadRequest, Body{Code: errors.CodeBadRequest, Message: message, Data: data})
}

// Err maps a coded error to its HTTP status. Foreign errors become 500.
func Err(c *gin.Context, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.CodeBadRequest:
		status = http.StatusBadRequest
	case errors.CodeUnauthorized:
		status = http.StatusUnauthorized
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeInvalidTransition:
		status = http.StatusConflict
	case errors.CodeProviderFailure:
		status = http.StatusBadGateway
	}
	c.JSON(status, Body{Code: code, Message: err.Error()})
}
