package response

import (
	"errors"

	"github.com/gin-gonic/gin"
)

type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

func Success(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Data: data})
}

func Error(c *gin.Context, status int, err error) {
	if err == nil {
		err = errors.New("erro desconhecido")
	}
	c.AbortWithStatusJSON(status, envelope{Error: err.Error()})
}

func ErrorWithMessage(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, envelope{Error: message})
}
