package main

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceattend/internal/apperrors"
	"faceattend/internal/attendance"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/identity"
	"faceattend/internal/logger"
	"faceattend/internal/recorder"
	"faceattend/internal/timetable"
)

func (a *app) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(a.log))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(a.cfg.RateLimitPerMin).Gin())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime": time.Since(a.startedAt).String()})
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx := c.Request.Context()
		checks := gin.H{}
		ready := true

		if a.db != nil {
			err := a.db.Client.PingContext(ctx)
			checks["db"] = err == nil
			ready = ready && err == nil
		}
		if a.redis != nil {
			ok := a.redis.Healthy(ctx)
			checks["redis"] = ok
			ready = ready && ok
		}
		if err := a.face.Health(ctx); err != nil {
			checks["face"] = false
			// Recognition being down degrades attendance but the rest of
			// the API still works; report it without failing readiness.
		} else {
			checks["face"] = true
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "checks": checks})
	})

	a.authRoutes(r)

	protected := r.Group("/v1", identity.SessionAuth(a.gate))
	a.attendanceRoutes(protected)
	a.timetableRoutes(protected)
	a.adminRoutes(protected)

	return r
}

func (a *app) authRoutes(r *gin.Engine) {
	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			RollNumber string `json:"rollNumber" binding:"required"`
			Password   string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rollNumber and password required", "code": apperrors.ErrValidation.Code})
			return
		}

		sess, err := a.gate.Authenticate(c.Request.Context(), req.RollNumber, req.Password)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":     sess.Token,
			"user":      sess.User,
			"expiresAt": sess.ExpiresAt,
			"home":      identity.HomeView(sess.User.Role),
		})
	})

	r.POST("/v1/auth/register", func(c *gin.Context) {
		var in identity.RegisterInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.ErrValidation.Code})
			return
		}
		u, err := a.gate.Register(c.Request.Context(), in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"user": u.Public()})
	})

	// Logout succeeds whether or not a session exists.
	r.POST("/v1/auth/logout", func(c *gin.Context) {
		token := bearerToken(c)
		if err := a.gate.End(c.Request.Context(), token); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.GET("/v1/auth/me", identity.SessionAuth(a.gate), func(c *gin.Context) {
		sess := identity.SessionFrom(c)
		c.JSON(http.StatusOK, gin.H{
			"user":      sess.User,
			"expiresAt": sess.ExpiresAt,
			"home":      identity.HomeView(sess.User.Role),
		})
	})
}

func (a *app) attendanceRoutes(g *gin.RouterGroup) {
	// Open a recognition flow. A second open for the same user replaces
	// the first, releasing its capture.
	g.POST("/attendance/sessions", func(c *gin.Context) {
		sess := identity.SessionFrom(c)
		rec := a.newFlow(sess.User)
		id, err := a.flows.Open(c.Request.Context(), rec)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"sessionId": id, "snapshot": rec.Snapshot()})
	})

	g.GET("/attendance/sessions/:id", func(c *gin.Context) {
		rec, ok := a.ownedFlow(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"snapshot": rec.Snapshot()})
	})

	g.POST("/attendance/sessions/:id/frames", func(c *gin.Context) {
		rec, ok := a.ownedFlow(c)
		if !ok {
			return
		}
		var req struct {
			Frame string `json:"frame" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "frame required", "code": apperrors.ErrValidation.Code})
			return
		}
		frame, err := base64.StdEncoding.DecodeString(req.Frame)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "frame must be base64", "code": apperrors.ErrValidation.Code})
			return
		}
		if err := rec.PushFrame(frame); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"snapshot": rec.Snapshot()})
	})

	g.POST("/attendance/sessions/:id/retry", func(c *gin.Context) {
		rec, ok := a.ownedFlow(c)
		if !ok {
			return
		}
		if err := rec.Retry(); err != nil {
			writeError(c, err)
			return
		}
		if err := rec.Start(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"snapshot": rec.Snapshot()})
	})

	g.DELETE("/attendance/sessions/:id", func(c *gin.Context) {
		if _, ok := a.ownedFlow(c); !ok {
			return
		}
		a.flows.Close(c.Param("id"))
		c.Status(http.StatusNoContent)
	})

	// Own history, newest day first. Teachers and admins may look at a
	// specific date or student instead.
	g.GET("/attendance", func(c *gin.Context) {
		sess := identity.SessionFrom(c)
		ctx := c.Request.Context()

		date := c.Query("date")
		userID := c.Query("userId")
		staff := sess.User.Role == identity.RoleTeacher || sess.User.Role == identity.RoleAdmin

		var (
			records []attendance.Record
			err     error
		)
		switch {
		case date != "" && staff:
			records, err = a.records.ListByDate(ctx, date)
		case userID != "" && staff:
			records, err = a.records.ListByUser(ctx, userID)
		case date != "" || userID != "":
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": apperrors.ErrForbidden.Code})
			return
		default:
			records, err = a.records.ListByUser(ctx, sess.User.ID)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	g.GET("/attendance/summary", identity.RequireRole(identity.RoleTeacher, identity.RoleAdmin), func(c *gin.Context) {
		ctx := c.Request.Context()
		date := c.Query("date")
		if date == "" {
			date = time.Now().UTC().Format(attendance.DateLayout)
		}

		count, err := a.records.CountByDate(ctx, date)
		if err != nil {
			writeError(c, err)
			return
		}

		out := gin.H{"date": date, "present": count}
		if a.redis != nil {
			if rollup, ok, rerr := a.redis.DailyRollup(ctx, date); rerr == nil && ok {
				out["rollup"] = rollup
			}
		}
		c.JSON(http.StatusOK, out)
	})
}

func (a *app) timetableRoutes(g *gin.RouterGroup) {
	g.GET("/timetable", func(c *gin.Context) {
		cells, err := a.slots.Assignments(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cells": cells})
	})

	staff := g.Group("", identity.RequireRole(identity.RoleTeacher, identity.RoleAdmin))

	staff.PUT("/timetable/:day/:slot", func(c *gin.Context) {
		var in timetable.Assignment
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.ErrValidation.Code})
			return
		}
		day, slot := c.Param("day"), c.Param("slot")
		if err := a.slots.PutAssignment(c.Request.Context(), day, slot, in); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": timetable.CellKey(day, slot), "assignment": in})
	})

	staff.POST("/timetable/:day/:slot/status", func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status required", "code": apperrors.ErrValidation.Code})
			return
		}

		ctx := c.Request.Context()
		day, slot := c.Param("day"), c.Param("slot")
		cell, err := a.slots.GetAssignment(ctx, day, slot)
		if err != nil {
			writeError(c, err)
			return
		}
		if cell == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no lecture scheduled in that slot", "code": apperrors.ErrNotFound.Code})
			return
		}

		ev, err := timetable.NewEvent(day, slot, *cell, req.Status, time.Now().UTC())
		if err != nil {
			writeError(c, err)
			return
		}
		if err := a.slots.AppendEvent(ctx, ev); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"event": ev})
	})

	g.GET("/timetable/:day/:slot/status", func(c *gin.Context) {
		status, err := a.slots.CurrentStatus(c.Request.Context(), c.Param("day"), c.Param("slot"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": status})
	})

	staff.GET("/lectures", func(c *gin.Context) {
		events, err := a.slots.ListEvents(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})
}

func (a *app) adminRoutes(g *gin.RouterGroup) {
	admin := g.Group("/admin", identity.RequireRole(identity.RoleAdmin))

	admin.GET("/users", func(c *gin.Context) {
		users, err := a.users.List(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]identity.PublicUser, 0, len(users))
		for _, u := range users {
			out = append(out, u.Public())
		}
		c.JSON(http.StatusOK, gin.H{"users": out})
	})

	admin.GET("/stats", func(c *gin.Context) {
		ctx := c.Request.Context()
		stats := gin.H{}
		for _, role := range []identity.Role{identity.RoleStudent, identity.RoleTeacher, identity.RoleAdmin} {
			n, err := a.users.CountByRole(ctx, role)
			if err != nil {
				writeError(c, err)
				return
			}
			stats[string(role)+"s"] = n
		}
		c.JSON(http.StatusOK, stats)
	})
}

// ownedFlow loads the flow in :id and verifies the caller owns it.
// Writes the error response itself when it returns false.
func (a *app) ownedFlow(c *gin.Context) (*recorder.Recorder, bool) {
	sess := identity.SessionFrom(c)
	r, ownerID, found := a.flows.Get(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session", "code": apperrors.ErrNotFound.Code})
		return nil, false
	}
	if ownerID != sess.User.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": apperrors.ErrForbidden.Code})
		return nil, false
	}
	return r, true
}

func writeError(c *gin.Context, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.FromError(err)
	}
	c.JSON(appErr.Status, gin.H{"error": appErr.Message, "code": appErr.Code})
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(authz) <= len(prefix) || !strings.EqualFold(authz[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authz[len(prefix):])
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
