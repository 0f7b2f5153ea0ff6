package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/crisp_call/internal/api/http/converter"
	"github.com/immxrtalbeast/crisp_call/internal/calltimer"
	"github.com/immxrtalbeast/crisp_call/internal/service"
)

const defaultCallListLimit = 50

type UserController struct {
	users service.UserInteractor
}

func NewUserController(users service.UserInteractor) *UserController {
	return &UserController{users: users}
}

func (c *UserController) GetAvailability(ctx *gin.Context) {
	a, err := c.users.Availability(ctx.Request.Context(), ctx.Param("userID"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrInvalidUser) {
			status = http.StatusBadRequest
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"availability": converter.AvailabilityToApi(a)})
}

func (c *UserController) ListCalls(ctx *gin.Context) {
	limit := defaultCallListLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	records, err := c.users.ListCalls(ctx.Request.Context(), ctx.Param("userID"), limit)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"calls": converter.CallRecordsToApi(records, calltimer.Format)})
}
