package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/parqsoft/mailer-svc/internal/service/models/mail"
	"github.com/parqsoft/mailer-svc/internal/service/models/process"
	recordprocess "github.com/parqsoft/mailer-svc/internal/transport/http/record_process"
	sendmail "github.com/parqsoft/mailer-svc/internal/transport/http/send_mail"
	"github.com/parqsoft/mailer-svc/pkg/logger"
	"github.com/spf13/viper"
)

type mailService interface {
	Send(ctx context.Context, req *mail.Request, attempt int) error
}

type processService interface {
	Record(ctx context.Context, outcome process.Outcome) (process.Receipt, error)
}

// consumerControl exposes operational restart of the queue consumer.
type consumerControl interface {
	Start(ctx context.Context, queue string) error
	Shutdown() error
}

type HTTPTransport struct {
	server      *http.Server
	router      *chi.Mux
	mailSvc     mailService
	processSvc  processService
	consumerCtl consumerControl
}

func NewHTTPTransport(mailSvc mailService, processSvc processService, consumerCtl consumerControl) *HTTPTransport {
	router := newRouter()
	server := newServer(router)

	return &HTTPTransport{
		server:      server,
		router:      router,
		mailSvc:     mailSvc,
		processSvc:  processSvc,
		consumerCtl: consumerCtl,
	}
}

func (h *HTTPTransport) Run() error {
	return h.server.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (h *HTTPTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterRoutes registers the routes for the HTTPTransport.
func (h *HTTPTransport) RegisterRoutes() {
	h.router.Route("/api", func(r chi.Router) {
		r.Post("/mail/send", h.sendMail)
		r.Post("/process", h.recordProcess)
		r.Post("/consumer/start", h.startConsumer)
		r.Post("/consumer/close", h.closeConsumer)
	})
}

func (h *HTTPTransport) sendMail(w http.ResponseWriter, r *http.Request) {
	sendmail.SendMail(w, r, h.mailSvc)
}

func (h *HTTPTransport) recordProcess(w http.ResponseWriter, r *http.Request) {
	recordprocess.RecordProcess(w, r, h.processSvc)
}

type startConsumerRequest struct {
	Queue string `json:"queue"`
}

type consumerControlResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *HTTPTransport) startConsumer(w http.ResponseWriter, r *http.Request) {
	req := startConsumerRequest{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			slog.Error("Error decoding request body for start consumer", "error", err)

			return
		}
	}

	// The consumer outlives the request.
	if err := h.consumerCtl.Start(context.Background(), req.Queue); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		slog.Error("Error starting consumer", "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(consumerControlResponse{
		Success: true,
		Message: "consumer started",
	}); err != nil {
		slog.Error("Error sending response for start consumer", "error", err)
	}
}

func (h *HTTPTransport) closeConsumer(w http.ResponseWriter, r *http.Request) {
	if err := h.consumerCtl.Shutdown(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error closing consumer", "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(consumerControlResponse{
		Success: true,
		Message: "consumer closed",
	}); err != nil {
		slog.Error("Error sending response for close consumer", "error", err)
	}
}

func newRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(logger.NewLoggerMiddleware(slog.Default()))

	allowedOrigins := viper.GetStringSlice("server.http.cors.allowed_origins")
	allowedMethods := viper.GetStringSlice("server.http.cors.allowed_methods")
	allowedHeaders := viper.GetStringSlice("server.http.cors.allowed_headers")
	exposedHeaders := viper.GetStringSlice("server.http.cors.exposed_headers")
	allowCredentials := viper.GetBool("server.http.cors.allow_credentials")
	maxAge := viper.GetInt("server.http.cors.max_age")

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   allowedMethods,
		AllowedHeaders:   allowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           maxAge,
	})

	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	return &http.Server{
		Addr:    "0.0.0.0:" + viper.GetString("server.http.port"),
		Handler: router,
	}
}
