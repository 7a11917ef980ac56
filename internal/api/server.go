package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/zapdesk/internal/domain"
	"github.com/zapdesk/zapdesk/internal/service"
	"github.com/zapdesk/zapdesk/internal/storage"
	"github.com/zapdesk/zapdesk/internal/whatsapp"
	"github.com/zapdesk/zapdesk/internal/ws"
	"github.com/zapdesk/zapdesk/pkg/config"
)

type Server struct {
	app      *fiber.App
	cfg      *config.Config
	services *service.Services
	hub      *ws.Hub
	webhooks *whatsapp.WebhookProcessor
	storage  *storage.Storage
}

func NewServer(cfg *config.Config, services *service.Services, hub *ws.Hub, webhooks *whatsapp.WebhookProcessor, store *storage.Storage) *Server {
	app := fiber.New(fiber.Config{
		AppName:   "ZapDesk CRM",
		BodyLimit: 32 * 1024 * 1024, // 32MB max upload
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		},
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestLogger())

	app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginEmbedderPolicy: "require-corp",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-origin",
		PermissionPolicy:          "geolocation=(), microphone=(), camera=()",
	}))

	// Rate limiting - 500 requests per minute per IP. Gateway callbacks and
	// the websocket are exempt.
	app.Use(limiter.New(limiter.Config{
		Max:        500,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "too many requests, please slow down",
			})
		},
		Next: func(c *fiber.Ctx) bool {
			path := c.Path()
			return strings.HasPrefix(path, "/webhooks/") || strings.HasPrefix(path, "/ws")
		},
	}))

	corsOrigins := "http://localhost:3000,http://localhost:8080"
	if cfg.IsProduction() && len(cfg.CORSOrigins) > 0 {
		corsOrigins = strings.Join(cfg.CORSOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,Upgrade,Connection",
		AllowCredentials: true,
	}))

	server := &Server{
		app:      app,
		cfg:      cfg,
		services: services,
		hub:      hub,
		webhooks: webhooks,
		storage:  store,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	// Health check
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":     "ok",
			"time":       time.Now(),
			"ws_clients": s.hub.GetClientCount(),
		})
	})

	// Prometheus metrics
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Gateway callbacks (no auth; org scoped by path)
	s.app.Post("/webhooks/uazapi/:org", s.handleGatewayWebhook)

	// Billing provider callbacks (secret header, no JWT)
	s.app.Post("/webhooks/billing/:provider", s.handleBillingWebhook)

	// API routes
	api := s.app.Group("/api")

	// Auth routes (no auth required)
	auth := api.Group("/auth")
	auth.Post("/login", s.handleLogin)
	auth.Post("/register", s.handleRegister)

	// Protected routes
	protected := api.Group("", s.authMiddleware)

	protected.Get("/me", s.handleGetMe)
	protected.Post("/auth/logout", s.handleLogout)

	// Instance routes (one WhatsApp connection per organization)
	instance := protected.Group("/instance")
	instance.Get("/", s.handleGetInstance)
	instance.Post("/", s.handleProvisionInstance)
	instance.Post("/connect", s.handleConnectInstance)
	instance.Post("/disconnect", s.handleDisconnectInstance)
	instance.Delete("/", s.handleDeleteInstance)

	// Contact routes
	contacts := protected.Group("/contacts")
	contacts.Get("/", s.handleGetContacts)
	contacts.Post("/", s.handleCreateContact)
	contacts.Post("/sync", s.handleSyncContacts)
	contacts.Get("/:id", s.handleGetContact)
	contacts.Post("/:id/avatar", s.handleRefreshAvatar)
	contacts.Put("/:id", s.handleUpdateContact)
	contacts.Delete("/:id", s.handleDeleteContact)

	// Chat routes
	chats := protected.Group("/chats")
	chats.Get("/", s.handleGetChats)
	chats.Get("/:id", s.handleGetChat)
	chats.Get("/:id/messages", s.handleGetMessages)
	chats.Post("/:id/read", s.handleMarkAsRead)
	chats.Post("/:id/draft", s.handleDraftReply)

	// Message routes
	messages := protected.Group("/messages")
	messages.Post("/send", s.handleSendMessage)
	messages.Get("/:id/media", s.handleDownloadMedia)

	// Media upload
	media := protected.Group("/media")
	media.Post("/upload", s.handleUploadMedia)
	media.Post("/presign", s.handlePresignMedia)
	media.Delete("/", s.handleDeleteMedia)

	// Pipeline routes
	pipelines := protected.Group("/pipelines")
	pipelines.Get("/", s.handleGetPipelines)
	pipelines.Post("/", s.handleCreatePipeline)

	// Lead routes
	leads := protected.Group("/leads")
	leads.Get("/", s.handleGetLeads)
	leads.Post("/", s.handleCreateLead)
	leads.Get("/:id", s.handleGetLead)
	leads.Put("/:id", s.handleUpdateLead)
	leads.Patch("/:id/move", s.handleMoveLead)
	leads.Delete("/:id", s.handleDeleteLead)

	// Campaign routes
	campaigns := protected.Group("/campaigns")
	campaigns.Get("/", s.handleGetCampaigns)
	campaigns.Post("/", s.handleCreateCampaign)
	campaigns.Get("/:id", s.handleGetCampaign)
	campaigns.Get("/:id/recipients", s.handleGetCampaignRecipients)
	campaigns.Post("/:id/start", s.handleStartCampaign)
	campaigns.Post("/:id/pause", s.handlePauseCampaign)

	// WebSocket route
	s.app.Use("/ws", s.wsUpgrade)
	s.app.Get("/ws", websocket.New(s.handleWebSocket))
}

// requestLogger logs each request through zerolog.
func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Info().
			Int("status", c.Response().StatusCode()).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Dur("latency", time.Since(start)).
			Msg("request")
		return err
	}
}

// Auth middleware
func (s *Server) authMiddleware(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		authHeader = c.Cookies("auth-token")
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return c.Status(401).JSON(fiber.Map{
			"success": false,
			"error":   "Unauthorized",
		})
	}

	claims, err := s.services.Auth.ValidateToken(token, s.cfg.JWTSecret)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid token",
		})
	}

	c.Locals("claims", claims)
	c.Locals("user_id", claims.UserID)
	c.Locals("org_id", claims.OrganizationID)
	return c.Next()
}

// WebSocket upgrade middleware
func (s *Server) wsUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		token := c.Query("token")
		if token == "" {
			return c.Status(401).JSON(fiber.Map{"error": "Missing token"})
		}

		claims, err := s.services.Auth.ValidateToken(token, s.cfg.JWTSecret)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid token"})
		}

		c.Locals("claims", claims)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (s *Server) handleWebSocket(conn *websocket.Conn) {
	claims := conn.Locals("claims").(*service.JWTClaims)

	client := &ws.Client{
		ID:     uuid.New().String(),
		OrgID:  claims.OrganizationID,
		UserID: claims.UserID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		Hub:    s.hub,
	}

	s.hub.Register(client)
	go client.WritePump()
	client.ReadPump()
}

// fail maps domain sentinel errors to HTTP status codes; everything else is
// a 500 with the error logged rather than leaked.
func fail(c *fiber.Ctx, err error) error {
	var code int
	var msg string

	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		code, msg = 401, "invalid credentials"
	case errors.Is(err, domain.ErrForbidden):
		code, msg = 403, "insufficient permissions"
	case errors.Is(err, domain.ErrNotFound):
		code, msg = 404, "not found"
	case errors.Is(err, domain.ErrConflict):
		code, msg = 409, err.Error()
	case errors.Is(err, domain.ErrNotConnected):
		code, msg = 409, err.Error()
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		code, msg = 500, "internal server error"
	}

	return c.Status(code).JSON(fiber.Map{"success": false, "error": msg})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(400).JSON(fiber.Map{"success": false, "error": msg})
}

func orgID(c *fiber.Ctx) uuid.UUID {
	return c.Locals("org_id").(uuid.UUID)
}

func claims(c *fiber.Ctx) *service.JWTClaims {
	return c.Locals("claims").(*service.JWTClaims)
}

func pathID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	return uuid.Parse(c.Params(name))
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
