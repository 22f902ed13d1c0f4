package server

import (
	"github.com/gin-gonic/gin"
)

func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("health", h.Health)

	api := r.Group("/", h.Identity)

	api.POST("files/columns", h.Columns)
	api.POST("emails/normalize", h.Normalize)
	api.POST("verify/manual", h.VerifyManual)

	api.POST("uploads", h.Upload)
	api.GET("uploads", h.ListUploads)
	api.GET("uploads/:id/summary", h.UploadSummary)

	api.GET("tasks/:id", h.Task)
	api.GET("tasks/:id/export", h.ExportTask)

	acct := api.Group("account")
	acct.GET("credits", h.Credits)
	acct.GET("usage", h.Usage)
	acct.GET("history", h.History)
	acct.GET("purchases", h.Purchases)
	acct.GET("api-keys", h.APIKeys)
	acct.POST("api-keys", h.CreateAPIKey)
	acct.DELETE("api-keys/:id", h.RevokeAPIKey)
	acct.GET("profile", h.Profile)
	acct.PUT("profile", h.UpdateProfile)

	api.POST("session/signout", h.SignOut)
	return r
}
