package arenaserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gladiator/internal/config"
	"github.com/cory-johannsen/gladiator/internal/match"
	"github.com/cory-johannsen/gladiator/internal/stream"
)

// UserHeader carries the authenticated caller id, set by the upstream gateway.
const UserHeader = "X-User-ID"

// DefaultLocale is used when a stream request names no locale.
const DefaultLocale = "en"

// Handler serves the match stream and status routes.
type Handler struct {
	svc          *Service
	pingInterval time.Duration
	logger       *zap.Logger
}

// NewHandler creates a Handler.
//
// Precondition: pingInterval > 0.
func NewHandler(svc *Service, pingInterval time.Duration, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, pingInterval: pingInterval, logger: logger}
}

// Register mounts the routes on r.
func (h *Handler) Register(r fiber.Router) {
	r.Get("/matches/:id/stream", h.stream)
	r.Get("/matches/:id/status", h.status)
}

// NewApp builds the fiber application serving h.
func NewApp(cfg config.HTTPConfig, h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          h.handleError,
	})
	if cfg.AllowOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AllowOrigins,
			AllowMethods: "GET,OPTIONS",
			AllowHeaders: "Origin, Accept, Cache-Control, " + UserHeader,
		}))
	}
	h.Register(app)
	return app
}

func (h *Handler) stream(c *fiber.Ctx) error {
	mode, err := ParseMode(c.Query("mode"))
	if err != nil {
		return err
	}
	req := OpenRequest{
		MatchID: c.Params("id"),
		UserID:  c.Get(UserHeader),
		Locale:  c.Query("locale", DefaultLocale),
		Mode:    mode,
	}
	src, err := h.svc.Open(c.UserContext(), req)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	logger := h.logger.With(zap.String("match_id", req.MatchID), zap.String("mode", string(mode)))
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer src.Close()
		start := time.Now()
		if err := stream.Publish(h.svc.base, w, src, h.pingInterval); err != nil {
			logger.Debug("spectator detached", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
			return
		}
		logger.Debug("stream finished", zap.Duration("elapsed", time.Since(start)))
	})
	return nil
}

func (h *Handler) status(c *fiber.Ctx) error {
	view, err := h.svc.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

// statusCode maps domain errors to HTTP status codes.
func statusCode(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, match.ErrMatchNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, match.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, ErrUnknownMode):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func (h *Handler) handleError(c *fiber.Ctx, err error) error {
	code := statusCode(err)
	msg := err.Error()
	if code == fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		msg = "internal error"
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

// HTTPService runs a fiber app as a lifecycle service.
type HTTPService struct {
	app    *fiber.App
	addr   string
	logger *zap.Logger
}

// NewHTTPService creates an HTTPService listening on addr.
func NewHTTPService(app *fiber.App, addr string, logger *zap.Logger) *HTTPService {
	return &HTTPService{app: app, addr: addr, logger: logger}
}

// Start listens and serves until ctx is cancelled.
func (s *HTTPService) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.logger.Info("http listener started", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("serving http: %w", err)
	}
}

// Stop closes the listener and waits for open streams to end. Streams end
// once the service's base context is cancelled, so stop the loops first.
func (s *HTTPService) Stop(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("shutting down http: %w", err)
	}
	return nil
}
