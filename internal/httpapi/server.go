// Package httpapi exposes the attendance core over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smartattendance/internal/apperr"
	"smartattendance/internal/attendance"
	"smartattendance/internal/auth"
	"smartattendance/internal/device"
	"smartattendance/internal/face"
	"smartattendance/internal/httpmiddleware"
	"smartattendance/internal/notify"
	"smartattendance/internal/session"
	"smartattendance/internal/store"
)

// Detector finds the face in a capture that arrives without a detection.
type Detector interface {
	Detect(ctx context.Context, img []byte) (*face.Detection, error)
}

// AuthConfig controls token issuance.
type AuthConfig struct {
	Issuer       string
	SigningKey   string
	AssertionKey string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

// Deps are the collaborators behind the routes. Detector and Limiter are
// optional.
type Deps struct {
	Store      store.Store
	Sessions   *session.Manager
	Attendance *attendance.Service
	Guard      *device.Guard
	Bus        notify.Bus
	Detector   Detector
	Limiter    *httpmiddleware.TokenBucket
	Auth       AuthConfig
}

type server struct {
	Deps
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(d Deps) *gin.Engine {
	if d.Bus == nil {
		d.Bus = notify.Discard{}
	}
	s := &server{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.Logger("/healthz", "/metrics"))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.health)

	limit := func(c *gin.Context) { c.Next() }
	if d.Limiter != nil {
		limit = d.Limiter.Middleware()
	}

	v1 := r.Group("/v1")
	v1.POST("/devices/authorize", limit, s.authorizeDevice)
	v1.POST("/auth/refresh", limit, s.refresh)

	authed := v1.Group("", auth.Bearer(d.Auth.SigningKey, d.Auth.Issuer), limit)
	student := auth.RequireRole(attendance.RoleStudent)
	faculty := auth.RequireRole(attendance.RoleFaculty)

	authed.POST("/face/enroll", student, s.enroll)
	authed.POST("/checkins", student, s.checkIn)
	authed.GET("/attendance", student, s.history)
	authed.GET("/sessions/active", student, s.activeSession)

	authed.POST("/sessions", faculty, s.createSession)
	authed.GET("/sessions/:id", s.getSession)
	authed.POST("/sessions/:id/end", faculty, s.endSession)
	authed.GET("/sessions/:id/summary", faculty, s.summary)
	authed.GET("/sessions/:id/events", s.events)

	return r
}

func (s *server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "store": true})
}

// writeError renders err as {"code","message","reason"} plus extra fields.
func writeError(c *gin.Context, err error, extra gin.H) {
	status := apperr.HTTPStatus(err)
	body := gin.H{}
	var e *apperr.Error
	if errors.As(err, &e) && e.Code != apperr.CodeInternal {
		body["code"] = e.Code
		body["message"] = e.Message
		if e.Reason != "" {
			body["reason"] = e.Reason
		}
	} else {
		body["code"] = apperr.CodeInternal
		body["message"] = "internal error"
	}
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, apperr.Invalid(err.Error()), nil)
		return false
	}
	return true
}

func claims(c *gin.Context) auth.Claims {
	cl, _ := auth.ClaimsFrom(c)
	return cl
}
