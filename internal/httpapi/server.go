package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/account"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	checkoutsvc "github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
)

const (
	headerCartSession    = "X-Cart-Session"
	headerIdempotencyKey = "Idempotency-Key"
	headerStripeSig      = "Stripe-Signature"
	cookieCartSession    = "cart_session"

	requestTimeout = 30 * time.Second
)

// Dependencies — сервисы, которые обслуживает HTTP API.
type Dependencies struct {
	Carts       *cart.Sessions
	Checkout    *checkoutsvc.Service
	Reconcile   *reconcile.Handler
	Catalog     *catalog.Service
	Account     *account.Service
	Auth        *Authenticator
	CORSOrigins []string
	Logger      *log.Entry
}

// Server собирает маршруты витрины.
type Server struct {
	carts     *cart.Sessions
	checkout  *checkoutsvc.Service
	reconcile *reconcile.Handler
	catalog   *catalog.Service
	account   *account.Service
	auth      *Authenticator
	origins   []string
	logger    *log.Entry
}

// NewServer создаёт Server.
func NewServer(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	auth := deps.Auth
	if auth == nil {
		auth = NewAuthenticator("", nil)
	}
	return &Server{
		carts:     deps.Carts,
		checkout:  deps.Checkout,
		reconcile: deps.Reconcile,
		catalog:   deps.Catalog,
		account:   deps.Account,
		auth:      auth,
		origins:   deps.CORSOrigins,
		logger:    logger,
	}
}

// Handler возвращает корневой http.Handler с трассировкой OpenTelemetry.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.Router(), "storefront-http")
}

// Router строит chi-маршрутизатор без обёртки трассировки.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", headerIdempotencyKey, headerCartSession},
		ExposedHeaders:   []string{headerCartSession, middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Webhook подписан провайдером, bearer-токен не нужен.
	if s.reconcile != nil {
		r.Post("/api/webhook/stripe", s.handleStripeWebhook)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(middleware.Timeout(requestTimeout))

		if s.carts != nil {
			r.Route("/api/cart", func(r chi.Router) {
				r.Get("/", s.handleGetCart)
				r.Delete("/", s.handleClearCart)
				r.Post("/items", s.handleAddCartItem)
				r.Patch("/items/{id}", s.handleUpdateCartItem)
				r.Delete("/items/{id}", s.handleRemoveCartItem)
			})
		}

		if s.catalog != nil {
			r.Get("/api/products", s.handleListProducts)
			r.Get("/api/products/{id}", s.handleGetProduct)
			r.Get("/api/brands", s.handleListBrands)
			r.Get("/api/categories", s.handleListCategories)

			r.Route("/api/admin", func(r chi.Router) {
				r.Use(s.requireAdmin)
				s.mountAdmin(r)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			if s.checkout != nil {
				r.Post("/api/checkout/payment-intent", s.handleCreatePaymentIntent)
			}
			if s.account != nil {
				r.Get("/api/sync", s.handleSync)
				r.Post("/api/sync", s.handleSync)
				r.Get("/api/user/profile", s.handleGetProfile)
				r.Patch("/api/user/profile", s.handleUpdateProfile)
				r.Patch("/api/user/address", s.handleUpdateAddress)
				r.Get("/api/orders", s.handleListOrders)
				r.Get("/api/orders/{id}", s.handleGetOrder)
			}
		})
	})

	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return s.origins
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := s.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"duration_ms": time.Since(started).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("http request")
			return
		}
		entry.Debug("http request")
	})
}
