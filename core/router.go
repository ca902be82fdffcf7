package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// NewRouter constructs the gateway engine: console API plus the catch-all
// proxy that funnels site traffic through the cache worker.
func NewRouter(cfg Config, store *sessions.CookieStore, authService AuthService, db *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger) (*gin.Engine, error) {
	startedAt := time.Now()

	rules, err := LoadRouteRules(cfg.RouteRulesPath)
	if err != nil {
		return nil, err
	}
	workerClient, err := NewOriginClient(cfg.WorkerURL)
	if err != nil {
		return nil, err
	}
	originClient, err := NewOriginClient(cfg.OriginURL)
	if err != nil {
		return nil, err
	}

	operatorRepo := NewPgOperatorRepository(db)
	usageRepo := NewPgUsageRepository(db)
	edgeMetrics := NewEdgeMetrics(redisClient)
	metricsService := NewMetricsService(redisClient, edgeMetrics)
	control := NewRedisControlChannel(redisClient, logger)

	r := gin.Default()

	// Every request is authorized at the edge before anything else runs.
	r.Use(EdgeAuthMiddleware(rules, logger, edgeMetrics))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.Use(OriginRefererMiddleware(cfg))
	api.Use(SessionMiddleware(cfg, store))
	api.Use(CSRFMiddleware(cfg, store))
	{
		api.POST("/auth/login", func(c *gin.Context) {
			var req struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
				return
			}

			operator, err := authService.Authenticate(req.Username, req.Password)
			if err != nil {
				respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "incorrect username or password")
				return
			}

			session, err := store.Get(c.Request, sessionName)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "session error")
				return
			}

			// reset session values (simple rotation)
			session.Values = map[interface{}]interface{}{}
			session.Values["username"] = operator.Username
			session.Values["role"] = operator.Role
			applySessionOptions(cfg, session)

			if err := session.Save(c.Request, c.Writer); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to set session")
				return
			}

			c.JSON(http.StatusOK, gin.H{"operator": gin.H{"username": operator.Username, "role": operator.Role}})
		})

		api.POST("/auth/logout", func(c *gin.Context) {
			sessionAny, _ := c.Get("session")
			sess, _ := sessionAny.(*sessions.Session)
			if sess == nil {
				respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required")
				return
			}
			sess.Values = map[interface{}]interface{}{}
			applySessionOptions(cfg, sess)
			sess.Options.MaxAge = -1 // Must be set AFTER applySessionOptions to properly delete cookie
			if err := sess.Save(c.Request, c.Writer); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to clear session")
				return
			}
			c.Status(http.StatusNoContent)
		})

		api.GET("/operators/me", func(c *gin.Context) {
			username, ok := requireLogin(c)
			if !ok {
				return
			}
			ctx := c.Request.Context()
			u, err := operatorRepo.FindByUsername(ctx, username)
			if err != nil {
				respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "operator not found")
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"username":   u.Username,
				"role":       u.Role,
				"created_at": u.CreatedAt,
			})
		})

		api.POST("/usage/start", func(c *gin.Context) {
			ctx := c.Request.Context()
			s, err := usageRepo.Start(ctx, heartbeatSubject(c))
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to start usage session")
				return
			}
			c.JSON(http.StatusCreated, s)
		})

		api.POST("/usage/ping", func(c *gin.Context) {
			ctx := c.Request.Context()
			s, err := usageRepo.Ping(ctx, heartbeatSubject(c))
			if err != nil {
				if errors.Is(err, ErrUsageSessionNotFound) {
					respondError(c, http.StatusNotFound, "NOT_FOUND", "no usage session to ping")
					return
				}
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to record ping")
				return
			}
			c.JSON(http.StatusOK, s)
		})

		admin := api.Group("/admin")
		admin.Use(AdminOnly())
		metrics := admin.Group("/metrics")
		{
			metrics.GET("/overview", func(c *gin.Context) {
				ctx := c.Request.Context()
				decisions, workers, err := metricsService.Overview(ctx)
				if err != nil {
					respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to load metrics")
					return
				}
				c.JSON(http.StatusOK, gin.H{
					"decisions": decisions,
					"workers":   workers,
				})
			})

			metrics.GET("/decisions", func(c *gin.Context) {
				ctx := c.Request.Context()
				decisions, err := edgeMetrics.Snapshot(ctx)
				if err != nil {
					respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to load decision metrics")
					return
				}
				c.JSON(http.StatusOK, decisions)
			})

			metrics.GET("/workers", func(c *gin.Context) {
				ctx := c.Request.Context()
				workers, err := metricsService.Workers(ctx)
				if err != nil {
					respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to load workers")
					return
				}
				c.JSON(http.StatusOK, gin.H{"workers": workers})
			})

			metrics.GET("/workers/:id", func(c *gin.Context) {
				ctx := c.Request.Context()
				id := c.Param("id")
				hb, err := metricsService.WorkerByID(ctx, id)
				if err != nil {
					if errors.Is(err, redis.Nil) {
						respondError(c, http.StatusNotFound, "NOT_FOUND", "worker not found")
						return
					}
					respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to load worker")
					return
				}
				c.JSON(http.StatusOK, hb)
			})
		}

		admin.GET("/system/status", func(c *gin.Context) {
			ctx := c.Request.Context()
			st, err := CollectSystemStatus(ctx, metricsService, startedAt)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to load system status")
				return
			}
			c.JSON(http.StatusOK, st)
		})

		admin.GET("/usage/sessions", func(c *gin.Context) {
			page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
			if err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
				return
			}
			ctx := c.Request.Context()
			items, total, err := usageRepo.List(ctx, page, perPage)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to fetch usage sessions")
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"items":       items,
				"page":        page,
				"per_page":    perPage,
				"total_items": total,
				"total_pages": calcTotalPages(total, perPage),
			})
		})

		// Broadcast a control message to the cache worker fleet.
		admin.POST("/cache-worker/message", func(c *gin.Context) {
			var msg WorkerMessage
			if err := c.ShouldBindJSON(&msg); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
				return
			}
			if strings.TrimSpace(msg.Type) == "" {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "type is required")
				return
			}
			if err := control.Publish(c.Request.Context(), msg); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to publish message")
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"published": msg.Type})
		})

		admin.POST("/operators", func(c *gin.Context) {
			var req struct {
				Username string `json:"username"`
				Password string `json:"password"`
				Role     string `json:"role"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
				return
			}
			req.Username = strings.TrimSpace(req.Username)
			req.Role = strings.TrimSpace(req.Role)
			if req.Username == "" || req.Password == "" {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "username and password are required")
				return
			}
			if req.Role == "" {
				req.Role = "viewer"
			}
			if req.Role != "viewer" && req.Role != "admin" {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid role")
				return
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to hash password")
				return
			}
			ctx := c.Request.Context()
			if _, err := operatorRepo.Create(ctx, req.Username, string(hash), req.Role); err != nil {
				// naive duplicate detection
				if strings.Contains(err.Error(), "duplicate") || strings.Contains(err.Error(), "unique") {
					respondError(c, http.StatusConflict, "CONFLICT", "username already exists")
					return
				}
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to create operator")
				return
			}

			record, err := operatorRepo.FindByUsername(ctx, req.Username)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to load created operator")
				return
			}

			c.JSON(http.StatusCreated, gin.H{
				"id":         record.ID,
				"username":   record.Username,
				"role":       record.Role,
				"created_at": record.CreatedAt,
			})
		})

		admin.GET("/operators", func(c *gin.Context) {
			page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
			if err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
				return
			}
			ctx := c.Request.Context()
			items, total, err := operatorRepo.List(ctx, page, perPage)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to fetch operators")
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"items":       items,
				"page":        page,
				"per_page":    perPage,
				"total_items": total,
				"total_pages": calcTotalPages(total, perPage),
			})
		})
	}

	// Everything else is site traffic headed for the cache worker.
	r.NoRoute(ProxyHandler(workerClient, originClient, logger))

	return r, nil
}

func requireLogin(c *gin.Context) (string, bool) {
	sessionAny, _ := c.Get("session")
	sess, _ := sessionAny.(*sessions.Session)
	username, _ := sess.Values["username"].(string)
	if strings.TrimSpace(username) == "" {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required")
		return "", false
	}
	return username, true
}

// heartbeatSubject identifies the caller of the usage endpoints: the bearer
// token when one is sent, otherwise the client address.
func heartbeatSubject(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); token != "" {
			return token
		}
	}
	return c.ClientIP()
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

func parsePagination(pageStr, perPageStr string) (int, int, error) {
	page := 1
	perPage := defaultPerPage
	if strings.TrimSpace(pageStr) != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, errors.New("page must be a positive integer")
		}
		page = p
	}
	if strings.TrimSpace(perPageStr) != "" {
		p, err := strconv.Atoi(perPageStr)
		if err != nil || p <= 0 {
			return 0, 0, errors.New("per_page must be a positive integer")
		}
		if p > maxPerPage {
			p = maxPerPage
		}
		perPage = p
	}
	return page, perPage, nil
}

func calcTotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
