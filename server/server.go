// Package server exposes ChainPay over HTTP.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitwit/chainpay/logger"
	"github.com/vitwit/chainpay/types"
)

// Service is the payment API served over HTTP. *chainpay.ChainPay
// implements it.
type Service interface {
	CreateInvoice(ctx context.Context, req types.CreateInvoiceRequest) (*types.InvoiceResponse, error)
	GetInvoice(ctx context.Context, id string) (*types.InvoiceResponse, error)
	VerifyPayment(ctx context.Context, invoiceID, txHash string) (*types.VerificationResult, error)
	CheckPayment(ctx context.Context, invoiceID string, depth int, checkpoint *types.ScanCheckpoint) (*types.ScanResult, error)
	Networks() []types.NetworkConfig
}

// Server is the HTTP front of a Service.
type Server struct {
	app       *fiber.App
	svc       Service
	logger    logger.Logger
	gatherer  prometheus.Gatherer
	accessLog bool
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetricsGatherer serves the gatherer's metrics on /metrics.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithAccessLog enables the per-request access log line.
func WithAccessLog(enabled bool) Option {
	return func(s *Server) { s.accessLog = enabled }
}

// New builds the fiber app and registers the routes.
func New(svc Service, opts ...Option) *Server {
	s := &Server{svc: svc}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrNoop(s.logger)

	s.app = fiber.New(fiber.Config{
		AppName:               "chainpayd",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recover.New())
	s.app.Use(cors.New())
	if s.accessLog {
		s.app.Use(fiberlogger.New(fiberlogger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if s.gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.app.Group("/api/v1")
	api.Get("/networks", s.listNetworks)

	invoices := api.Group("/invoices")
	invoices.Post("/", s.createInvoice)
	invoices.Get("/:id", s.getInvoice)
	invoices.Post("/:id/verify", s.verifyPayment)
	invoices.Get("/:id/candidates", s.checkPayment)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", map[string]any{"addr": addr})
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return Error(c, fe.Code, "", fe.Message)
	}

	var cpe *types.ChainPayError
	if errors.As(err, &cpe) {
		if cpe.Code == types.ErrInvalidRequest {
			return BadRequest(c, cpe.Error(), cpe.Data)
		}
		status := StatusFor(cpe.Code)
		if status >= fiber.StatusInternalServerError {
			s.logger.Error("request failed", map[string]any{
				"path":  c.Path(),
				"code":  cpe.Code,
				"error": err.Error(),
			})
		}
		return Error(c, status, cpe.Code, cpe.Error())
	}

	s.logger.Error("unhandled error", map[string]any{"path": c.Path(), "error": err.Error()})
	return ServerError(c, "internal server error")
}
