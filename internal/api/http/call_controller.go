package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/crisp_call/internal/api/http/converter"
	"github.com/immxrtalbeast/crisp_call/internal/call"
	"github.com/immxrtalbeast/crisp_call/internal/service"
	"github.com/immxrtalbeast/crisp_call/internal/signaling"
	"github.com/immxrtalbeast/crisp_call/lib/logger/sl"
)

type CallController struct {
	calls    service.CallInteractor
	events   service.EventSubscriber
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewCallController(calls service.CallInteractor, events service.EventSubscriber, log *slog.Logger) *CallController {
	if log == nil {
		log = slog.Default()
	}
	return &CallController{
		calls:  calls,
		events: events,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *CallController) Dial(ctx *gin.Context) {
	type DialRequest struct {
		CalleeID   string `json:"callee_id" binding:"required"`
		CalleeName string `json:"callee_name"`
	}
	var req DialRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	info, err := c.calls.Dial(ctx.Request.Context(), call.Party{ID: req.CalleeID, Name: req.CalleeName})
	if err != nil {
		ctx.JSON(callErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"call": converter.CallToApi(info)})
}

func (c *CallController) Incoming(ctx *gin.Context) {
	type IncomingRequest struct {
		CallerID   string `json:"caller_id" binding:"required"`
		CallerName string `json:"caller_name"`
	}
	var req IncomingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	info, err := c.calls.Incoming(ctx.Request.Context(), ctx.Param("callID"), call.Party{ID: req.CallerID, Name: req.CallerName})
	if err != nil {
		ctx.JSON(callErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"call": converter.CallToApi(info)})
}

func (c *CallController) Accept(ctx *gin.Context) {
	info, err := c.calls.Accept(ctx.Request.Context(), ctx.Param("callID"))
	if err != nil {
		ctx.JSON(callErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"call": converter.CallToApi(info)})
}

func (c *CallController) Decline(ctx *gin.Context) {
	if err := c.calls.Decline(ctx.Request.Context(), ctx.Param("callID")); err != nil {
		ctx.JSON(callErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *CallController) End(ctx *gin.Context) {
	if err := c.calls.End(ctx.Request.Context(), ctx.Param("callID")); err != nil {
		ctx.JSON(callErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *CallController) ToggleMute(ctx *gin.Context) {
	muted, err := c.calls.ToggleMute(ctx.Request.Context(), ctx.Param("callID"))
	if err != nil {
		ctx.JSON(callErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"muted": muted})
}

func (c *CallController) Active(ctx *gin.Context) {
	info, ok := c.calls.Active()
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "no call"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"call": converter.CallToApi(info)})
}

// Events streams call events to a UI client until either side closes.
func (c *CallController) Events(ctx *gin.Context) {
	const op = "api.call.events"
	log := c.log.With(slog.String("op", op))

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Info("failed to upgrade connection", sl.Err(err))
		return
	}
	defer conn.Close()

	id, events := c.events.Subscribe()
	defer c.events.Unsubscribe(id)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				log.Debug("event client gone", sl.Err(err))
				return
			}
		}
	}
}

func callErrorStatus(err error) int {
	switch {
	case errors.Is(err, call.ErrCallInProgress),
		errors.Is(err, call.ErrCalleeBusy),
		errors.Is(err, call.ErrInvalidPhase),
		errors.Is(err, call.ErrCallEnded):
		return http.StatusConflict
	case errors.Is(err, call.ErrMediaUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, call.ErrInvalidParty):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNoActiveCall),
		errors.Is(err, signaling.ErrCallNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
