package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/club-membership/internal/infra"
)

type RouterConfig struct {
	Auth     *Auth
	Validate *IPRateLimiter
	Metrics  *infra.Metrics
	Gatherer prometheus.Gatherer
}

func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	if cfg.Metrics != nil {
		r.Use(metricsMiddleware(cfg.Metrics))
	}

	r.HandleFunc("/health", h.Health).Methods("GET")
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	validate := http.Handler(http.HandlerFunc(h.ValidateInvitation))
	if cfg.Validate != nil {
		validate = cfg.Validate.Middleware(validate)
	}
	r.Handle("/invitations/{token}", validate).Methods("GET")

	api := r.NewRoute().Subrouter()
	api.Use(cfg.Auth.Middleware)
	api.HandleFunc("/invitations", h.IssueInvitation).Methods("POST")
	api.HandleFunc("/invitations/{token}/consume", h.ConsumeInvitation).Methods("POST")

	api.HandleFunc("/memberships/join", h.Join).Methods("POST")
	api.HandleFunc("/memberships/confirm-transfer", h.ConfirmTransfer).Methods("POST")
	api.HandleFunc("/memberships/me", h.MyMembership).Methods("GET")

	api.HandleFunc("/clubs", h.CreateClub).Methods("POST")
	api.HandleFunc("/clubs/{clubId}/invitations", h.ListInvitations).Methods("GET")
	api.HandleFunc("/clubs/{clubId}/members", h.ListMembers).Methods("GET")
	api.HandleFunc("/clubs/{clubId}/members/{userId}", h.RemoveMember).Methods("DELETE")
	api.HandleFunc("/clubs/{clubId}/teams", h.ListTeams).Methods("GET")
	api.HandleFunc("/clubs/{clubId}/teams", h.CreateTeam).Methods("POST")
	api.HandleFunc("/clubs/{clubId}/teams/{teamId}", h.DeleteTeam).Methods("DELETE")
	api.HandleFunc("/clubs/{clubId}/events", h.Events).Methods("GET")

	api.HandleFunc("/subscriptions/{clubId}", h.SubscriptionStatus).Methods("GET")
	api.HandleFunc("/subscriptions/{clubId}/plan", h.ChangePlan).Methods("PUT")
	api.HandleFunc("/subscriptions/{clubId}/plan", h.CancelPlan).Methods("DELETE")
	return r
}
