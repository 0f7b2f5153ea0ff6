package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(callController *CallController, userController *UserController, allowOrigins []string) *gin.Engine {
	router := gin.Default()
	config := cors.DefaultConfig()
	config.AllowOrigins = allowOrigins
	if len(allowOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowCredentials = true
	}
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))
	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	if userController != nil {
		users := api.Group("/users")
		users.GET("/:userID/availability", userController.GetAvailability)
		users.GET("/:userID/calls", userController.ListCalls)
	}

	if callController != nil {
		calls := api.Group("/calls")
		calls.POST("", callController.Dial)
		calls.GET("/active", callController.Active)
		calls.POST("/:callID/incoming", callController.Incoming)
		calls.POST("/:callID/accept", callController.Accept)
		calls.POST("/:callID/decline", callController.Decline)
		calls.POST("/:callID/end", callController.End)
		calls.POST("/:callID/mute", callController.ToggleMute)

		api.GET("/events/ws", callController.Events)
	}

	return router
}
