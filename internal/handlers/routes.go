package handlers

import (
	"log"
	"time"

	"todo-task/backend/internal/middleware"
	"todo-task/backend/internal/monitoring"
	"todo-task/backend/internal/todo"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Routes bundles the handlers and middleware mounted on the router.
type Routes struct {
	Web          *WebHandler
	Auth         *AuthHandler
	Tasks        *TaskHandler
	Verifier     middleware.TokenVerifier
	RateLimiter  *middleware.RateLimiter
	AllowOrigins []string
	CookieSecure bool
	Logger       *log.Logger
}

func (r Routes) limit() gin.HandlerFunc {
	if r.RateLimiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return r.RateLimiter.Middleware()
}

func (r Routes) corsConfig() cors.Config {
	config := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(r.AllowOrigins) == 0 {
		config.AllowAllOrigins = true
		return config
	}
	config.AllowOrigins = r.AllowOrigins
	config.AllowCredentials = true
	return config
}

func (r Routes) Register(router *gin.Engine) {
	router.Use(middleware.RecoveryWithLog(r.Logger))
	router.Use(monitoring.MetricsMiddleware())

	router.GET("/health", monitoring.HealthHandler())
	router.GET("/ready", monitoring.ReadinessHandler())
	router.GET("/live", monitoring.LivenessHandler())
	router.GET("/metrics", monitoring.MetricsHandler())

	site := router.Group("/")
	site.Use(middleware.ClientIDMiddleware(r.CookieSecure))
	{
		site.GET("/", r.Web.Welcome)
		for _, view := range todo.Views {
			site.GET("/"+string(view), r.Web.View(view))
		}
		site.GET("/events/:view", r.Web.Events)

		site.POST("/signin", r.limit(), r.Web.SignIn)
		site.POST("/register", r.limit(), r.Web.Register)
		site.POST("/signout", r.Web.SignOut)

		site.POST("/tasks", r.Web.AddTask)
		site.POST("/tasks/:id/toggle", r.Web.ToggleTask)
		site.POST("/tasks/:id/edit", r.Web.EditTask)
		site.POST("/tasks/:id/delete", r.Web.DeleteTask)
	}

	api := router.Group("/api/v1")
	api.Use(cors.New(r.corsConfig()))
	{
		authGroup := api.Group("/auth")
		authGroup.Use(r.limit())
		authGroup.POST("/register", r.Auth.Register)
		authGroup.POST("/token", r.Auth.Token)
		authGroup.POST("/refresh", r.Auth.Refresh)
		authGroup.POST("/logout", r.Auth.Logout)

		tasks := api.Group("/tasks")
		tasks.Use(middleware.AuthzMiddleware(r.Verifier))
		tasks.GET("", r.Tasks.GetTasks)
		tasks.POST("", r.Tasks.CreateTask)
		tasks.GET("/stream", r.Tasks.StreamTasks)
		tasks.PATCH("/:id", r.Tasks.UpdateTask)
		tasks.POST("/:id/toggle", r.Tasks.ToggleTask)
		tasks.DELETE("/:id", r.Tasks.DeleteTask)
	}

	router.NoRoute(middleware.ClientIDMiddleware(r.CookieSecure), r.Web.NotFound)
}
