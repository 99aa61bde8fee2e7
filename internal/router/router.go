package router

import (
	"net/http"

	"github.com/fundverse/backend/internal/auth"
	"github.com/fundverse/backend/internal/dashboard"
	"github.com/fundverse/backend/internal/handlers"
	"github.com/fundverse/backend/internal/middleware"
	"github.com/fundverse/backend/internal/models"
)

// Deps are the handlers and guards the API is built from.
type Deps struct {
	Auth          *auth.Handler
	Tokens        middleware.TokenValidator
	Contributions *handlers.ContributionHandler
	Dashboard     *dashboard.Handler
	Limits        middleware.Limits
	DailyTotal    middleware.DailyTotalFunc
}

// New returns an http.Handler that serves the API under /api/v1.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	authn := middleware.Authenticate(d.Tokens)
	authed := func(h http.HandlerFunc) http.Handler { return authn(h) }
	only := func(h http.HandlerFunc, roles ...string) http.Handler {
		return authn(middleware.RequireRole(roles...)(h))
	}
	limits := middleware.ContributionLimits(d.Limits, d.DailyTotal)

	const (
		backer   = models.RoleBacker
		operator = models.RoleOperator
		adapter  = models.RoleAdapter
	)

	// Identity
	mux.HandleFunc("POST "+base+"/auth/register", d.Auth.Register)
	mux.HandleFunc("POST "+base+"/auth/login", d.Auth.Login)
	mux.Handle("GET "+base+"/users/me", authed(d.Auth.Me))
	mux.Handle("GET "+base+"/users/{id}/registered", authed(d.Auth.Registered))
	mux.Handle("POST "+base+"/users", only(d.Auth.CreateUser, operator))

	// Campaign read model
	mux.Handle("PUT "+base+"/campaigns/{id}", only(d.Contributions.PutCampaign, operator))

	// Contributions
	mux.Handle("POST "+base+"/campaigns/{id}/contributions",
		authn(middleware.RequireRole(backer, operator)(limits(http.HandlerFunc(d.Contributions.RecordContribution)))))
	mux.Handle("GET "+base+"/campaigns/{id}/contributions", authed(d.Dashboard.ListCampaignContributions))
	mux.Handle("GET "+base+"/users/me/contributions", only(d.Dashboard.ListMyContributions, backer))
	mux.Handle("GET "+base+"/users/me/holdings", only(d.Dashboard.MyHoldings, backer))
	mux.Handle("GET "+base+"/contributions/{id}", authed(d.Dashboard.GetContribution))

	// Escrow transitions
	mux.Handle("POST "+base+"/contributions/{id}/submit", only(d.Contributions.Submit, backer, operator))
	mux.Handle("POST "+base+"/contributions/{id}/poll", only(d.Contributions.Poll, adapter, operator))
	mux.Handle("POST "+base+"/contributions/{id}/confirm", only(d.Contributions.Confirm, adapter))
	mux.Handle("POST "+base+"/contributions/{id}/release", only(d.Contributions.Release, operator))
	mux.Handle("POST "+base+"/contributions/{id}/refund", only(d.Contributions.Refund, backer, operator))

	// Aggregates and settlement
	mux.Handle("GET "+base+"/campaigns/{id}/escrow-summary", authed(d.Dashboard.EscrowSummary))
	mux.Handle("GET "+base+"/campaigns/{id}/funding", authed(d.Dashboard.UnifiedFunding))
	mux.Handle("POST "+base+"/campaigns/{id}/settle", only(d.Contributions.Settle, operator))
	mux.Handle("POST "+base+"/campaigns/{id}/reconcile", only(d.Contributions.Reconcile, operator))

	// Native rail
	mux.Handle("GET "+base+"/transfers/{id}", authed(d.Dashboard.GetTransfer))
	mux.Handle("GET "+base+"/transfers", only(d.Dashboard.ListTransfers, operator))

	return mux
}
