package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/pricecircle-backend/api/controllers"
	"github.com/angelmondragon/pricecircle-backend/api/middleware"
	"github.com/angelmondragon/pricecircle-backend/internal/discussion"
	"github.com/angelmondragon/pricecircle-backend/internal/notifications"
	"github.com/angelmondragon/pricecircle-backend/internal/proposals"
	"github.com/angelmondragon/pricecircle-backend/internal/votes"
	"github.com/angelmondragon/pricecircle-backend/pkg/config"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/pricecircle-backend/pkg/redis"
)

// Params groups everything the HTTP surface is wired to.
type Params struct {
	Config         *config.Config
	Logger         *logger.Logger
	Readiness      []controllers.ReadinessCheck
	Gatherer       prometheus.Gatherer
	Idempotency    pkgredis.IdempotencyStore
	Members        middleware.MembershipChecker
	ProposalGroups middleware.ProposalGroupResolver
	Proposals      proposals.Service
	Votes          votes.Service
	Discussion     discussion.Service
	Notifications  notifications.Service
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Readiness...))
	})

	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	idem := middleware.Idempotency(p.Idempotency, middleware.DefaultIdempotencyTTL, logg)
	idemCritical := middleware.Idempotency(p.Idempotency, middleware.CriticalIdempotencyTTL, logg)
	groupMember := middleware.RequireGroupMember(p.Members, logg)
	proposalMember := middleware.RequireProposalMember(p.ProposalGroups, p.Members, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/groups/{groupId}/proposals", func(r chi.Router) {
			r.Use(groupMember)
			r.Get("/", controllers.ListGroupProposals(p.Proposals, logg))
			r.With(idem).Post("/", controllers.CreateProposal(p.Proposals, logg))
		})

		r.Route("/proposals/{proposalId}", func(r chi.Router) {
			r.Use(proposalMember)
			r.Get("/", controllers.GetProposal(p.Proposals, logg))
			r.Delete("/", controllers.DeleteProposal(p.Proposals, logg))
			r.With(idemCritical).Post("/reject", controllers.RejectProposal(p.Proposals, logg))

			r.Put("/vote", controllers.CastVote(p.Votes, logg))
			r.Get("/vote", controllers.GetMyVote(p.Votes, logg))

			r.Get("/messages", controllers.ListMessages(p.Discussion, logg))
			r.With(idem).Post("/messages", controllers.PostMessage(p.Discussion, logg))
			r.Get("/messages/stream", controllers.StreamMessages(p.Discussion, cfg.Discussion.StreamHeartbeat, logg))
		})

		r.Delete("/messages/{messageId}", controllers.DeleteMessage(p.Discussion, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(p.Notifications, logg))
			r.With(idem).Post("/read-all", controllers.MarkAllNotificationsRead(p.Notifications, logg))
			r.With(idem).Post("/{notificationId}/read", controllers.MarkNotificationRead(p.Notifications, logg))
		})
	})

	return r
}
