package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cartcache-backend/api/controllers"
	"github.com/angelmondragon/cartcache-backend/api/middleware"
	"github.com/angelmondragon/cartcache-backend/internal/cart"
	"github.com/angelmondragon/cartcache-backend/pkg/config"
	"github.com/angelmondragon/cartcache-backend/pkg/logger"
	"github.com/angelmondragon/cartcache-backend/pkg/metrics"
)

// NewRouter builds the HTTP surface: health probes, the Prometheus scrape
// endpoint, and the cart and stats routes.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	cache controllers.ConnectivityChecker,
	gatherer prometheus.Gatherer,
	httpMetrics *metrics.HTTPMetrics,
	cartService cart.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, httpMetrics),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, cache))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSOrigins))
		mountCartRoutes(r, logg, cartService)
	})

	return r
}

func mountCartRoutes(r chi.Router, logg *logger.Logger, cartService cart.Service) {
	r.Route("/carts/{userID}", func(r chi.Router) {
		r.Get("/", controllers.CartGet(cartService, logg))
		r.Delete("/", controllers.CartClear(cartService, logg))
		r.Post("/items", controllers.CartAddItem(cartService, logg))
		r.Put("/items/{productID}", controllers.CartUpdateQuantity(cartService, logg))
		r.Delete("/items/{productID}", controllers.CartRemoveItem(cartService, logg))
	})

	r.Get("/stats/top-products", controllers.TopProducts(cartService, logg))
}
