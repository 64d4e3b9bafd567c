package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	httpmw "github.com/cwrk-planet/muc-session/internal/transport/http/middleware"
	"github.com/cwrk-planet/muc-session/pkg/httputil"
)

type Deps struct {
	Handler *Handler
	// Events: поток событий комнаты по WebSocket; nil отключает маршрут.
	Events  http.HandlerFunc
	Metrics http.Handler

	Token          string
	AllowedOrigins []string
	Logger         *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if len(d.AllowedOrigins) == 0 {
		d.AllowedOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httputil.MiddlewareRequestID)
	r.Use(httputil.MiddlewareLogging(d.Logger))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{httputil.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.OK(w, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	h := d.Handler
	r.Group(func(pr chi.Router) {
		pr.Use(httpmw.BearerAuth(d.Token))

		if d.Events != nil {
			pr.Get("/ws/rooms/{room}/events", d.Events)
		}

		pr.Group(func(api chi.Router) {
			api.Use(middleware.Timeout(30 * time.Second))

			api.Route("/rooms", func(rm chi.Router) {
				rm.Get("/", h.ListRooms)
				rm.Put("/active", h.SetActive)

				rm.Route("/{room}", func(rr chi.Router) {
					rr.Get("/", h.GetRoom)
					rr.Delete("/", h.DestroyRoom)
					rr.Post("/connect", h.Connect)
					rr.Post("/disconnect", h.Disconnect)
					rr.Post("/presence", h.Presence)
					rr.Post("/history", h.LoadHistory)
					rr.Post("/chat-state", h.ChatState)
					rr.Get("/reactions", h.Reactions)
					rr.Get("/deleted", h.Deleted)

					rr.Get("/members", h.Members)
					rr.Post("/members/{jid}/rank-up", h.RankUp)
					rr.Post("/members/{jid}/rank-down", h.RankDown)
					rr.Post("/members/{jid}/ban", h.Ban)

					rr.Get("/messages", h.Messages)
					rr.Post("/messages", h.SendMessage)
					rr.Delete("/messages/{id}", h.DeleteMessage)
					rr.Post("/messages/{id}/resend", h.ResendMessage)
					rr.Post("/messages/{id}/reactions", h.React)
				})
			})
		})
	})

	return r
}
