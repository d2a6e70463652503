package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"tourney-registry/internal/admin"
	"tourney-registry/internal/config"
	"tourney-registry/internal/ledger"
	"tourney-registry/internal/registration"
	"tourney-registry/internal/review"
	"tourney-registry/internal/settings"
	"tourney-registry/internal/stages"
)

type Deps struct {
	Config       config.Config
	Registration *registration.Service
	Ledger       *ledger.Ledger
	Stages       *stages.Engine
	Review       *review.Queue
	Admin        *admin.Coordinator
	Settings     *settings.Store
	Logger       *slog.Logger
}

func New(d Deps) *http.Server {
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   d.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return &http.Server{
		Addr:    d.Config.HTTPAddr,
		Handler: corsMiddleware.Handler(NewRouter(d)),
	}
}

// NewRouter registers every route on a fresh gin engine.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handlers{Deps: d, logger: d.Logger.With("component", "http")}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// CSV export link handed out by the bot (token = HMAC)
	r.GET("/export/teams.csv", h.exportByToken)

	api := r.Group("/api")
	{
		api.GET("/payment-methods", h.paymentMethods)
		api.POST("/registrations/initiate", h.initiate)
		api.GET("/registrations", h.lookup)
		api.POST("/payments/hosted/verify", h.hostedVerify)
		api.POST("/payments/asyncpay/status", h.asyncStatus)
		api.POST("/payments/asyncpay/callback", h.asyncCallback)
		api.POST("/payments/redirect/confirm", h.redirectConfirm)
		api.POST("/proofs", h.submitProof)
	}

	adm := r.Group("/api/admin", requireAdmin(d.Config.AdminToken))
	{
		adm.GET("/registrations", h.listTeams)
		adm.GET("/registrations/:id", h.getTeam)
		adm.PATCH("/registrations/:id", h.updateTeam)
		adm.DELETE("/registrations/:id", h.deleteTeam)
		adm.POST("/registrations/:id/upgrade", h.upgrade)
		adm.POST("/registrations/:id/downgrade", h.downgrade)
		adm.POST("/registrations/:id/stage", h.setStage)
		adm.POST("/bulk/stage", h.bulkStage)
		adm.POST("/bulk/delete", h.bulkDelete)

		adm.GET("/proofs", h.listProofs)
		adm.GET("/proofs/:id", h.getProof)
		adm.POST("/proofs/:id/verify", h.verifyProof)
		adm.POST("/proofs/:id/reject", h.rejectProof)

		adm.GET("/settings", h.getSettings)
		adm.PUT("/settings", h.updateSettings)
		adm.GET("/export.csv", h.exportCSV)
	}
	return r
}

// requireAdmin checks the bearer token in constant time.
func requireAdmin(token string) gin.HandlerFunc {
	want := []byte("Bearer " + token)
	return func(c *gin.Context) {
		got := []byte(strings.TrimSpace(c.GetHeader("Authorization")))
		if token == "" || subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"result": "error", "kind": "unauthorized", "message": "admin token required"})
			return
		}
		c.Next()
	}
}
