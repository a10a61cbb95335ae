// Package web exposes the library over a JSON HTTP API.
package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"library-lending/library"
)

// Options tunes the HTTP layer.
type Options struct {
	CORSOrigins    []string
	LoginRateLimit int
	RequestTimeout time.Duration
	Logger         *slog.Logger
	// AccessLog receives one line per request; nil disables access logging.
	AccessLog io.Writer
}

// Server wires HTTP routes onto a LibraryManager.
type Server struct {
	app    *fiber.App
	lm     *library.LibraryManager
	tokens *Tokens
	log    *slog.Logger
}

// New builds the fiber app with middleware and routes.
func New(lm *library.LibraryManager, tokens *Tokens, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.LoginRateLimit < 1 {
		opts.LoginRateLimit = 5
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	s := &Server{lm: lm, tokens: tokens, log: opts.Logger}
	s.app = fiber.New(fiber.Config{
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           90 * time.Second,
	})

	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	s.app.Use(requestid.New())
	if opts.AccessLog != nil {
		s.app.Use(logger.New(logger.Config{
			Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
			Output: opts.AccessLog,
		}))
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(opts.CORSOrigins, ","),
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	s.app.Use(timeout(opts.RequestTimeout))

	s.routes(rateLimit(opts.LoginRateLimit))
	return s
}

// App exposes the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.log.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// timeout bounds each request's context.
func timeout(d time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), d)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// rateLimit throttles credential endpoints per client IP.
func rateLimit(max int) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return failure(c, fiber.StatusTooManyRequests, "rate_limited", "too many attempts, try again later", nil)
		},
	})
}

// handleError turns library and fiber errors into the JSON envelope.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var le *library.Error
	if errors.As(err, &le) {
		status := le.Kind.HTTPStatus()
		if le.Kind == library.KindInternal {
			s.log.ErrorContext(c.UserContext(), "request failed",
				"method", c.Method(), "path", c.Path(), "requestid", c.Locals("requestid"), "err", err)
		}
		return failure(c, status, string(le.Kind), le.Message, le.Fields)
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return failure(c, fe.Code, kindForStatus(fe.Code), fe.Message, nil)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return failure(c, fiber.StatusServiceUnavailable, "timeout", "request timed out", nil)
	}

	s.log.ErrorContext(c.UserContext(), "request failed",
		"method", c.Method(), "path", c.Path(), "requestid", c.Locals("requestid"), "err", err)
	return failure(c, fiber.StatusInternalServerError, string(library.KindInternal), "internal server error", nil)
}

func kindForStatus(code int) string {
	switch code {
	case fiber.StatusBadRequest:
		return "bad_request"
	case fiber.StatusNotFound:
		return string(library.KindNotFound)
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusUnauthorized:
		return string(library.KindUnauthenticated)
	case fiber.StatusForbidden:
		return string(library.KindForbidden)
	default:
		if code >= 500 {
			return string(library.KindInternal)
		}
		return "error"
	}
}
