package middleware

import (
	"net/http"

	"github.com/2beens/fixfit/internal/telemetry/tracing"
	"github.com/2beens/fixfit/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

// AdminTokenHeader carries the plain admin token; only its bcrypt hash is configured.
const AdminTokenHeader = "X-FIXFIT-TOKEN"

type AdminAuth struct {
	tokenHash string
}

func NewAdminAuth(tokenHash string) *AdminAuth {
	if tokenHash != "" {
		cost, err := pkg.TokenHashCostOf(tokenHash)
		switch {
		case err != nil:
			log.Errorf("[admin auth] admin token hash is not a bcrypt hash: %s", err)
		case cost > pkg.TokenHashCost:
			log.Warnf("[admin auth] admin token hash cost %d above %d slows down every admin request", cost, pkg.TokenHashCost)
		}
	}
	return &AdminAuth{
		tokenHash: tokenHash,
	}
}

func (a *AdminAuth) Check() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, span := tracing.GlobalTracer.Start(r.Context(), "middleware.admin_auth")
			defer span.End()

			if r.Method == http.MethodOptions {
				w.Header().Add("Allow", "GET, DELETE, OPTIONS")
				w.WriteHeader(http.StatusOK)
				span.SetStatus(codes.Ok, "options-ok")
				return
			}

			if a.tokenHash == "" {
				log.Warnf("[admin auth] no admin token configured, rejecting %s", r.URL.Path)
				http.Error(w, "no can do", http.StatusUnauthorized)
				span.SetStatus(codes.Error, "admin-disabled")
				return
			}

			authToken := r.Header.Get(AdminTokenHeader)
			if authToken == "" {
				log.Tracef("[missing token] [admin auth] unauthorized => %s", r.URL.Path)
				http.Error(w, "no can do", http.StatusUnauthorized)
				span.SetStatus(codes.Error, "missing-auth-token")
				return
			}

			if !pkg.CheckTokenHash(authToken, a.tokenHash) {
				reqIp, _ := pkg.ReadUserIP(r)
				log.Warnf("[invalid token] [admin auth] unauthorized => %s from %s", r.URL.Path, reqIp)
				http.Error(w, "no can do", http.StatusUnauthorized)
				span.SetStatus(codes.Error, "invalid-auth-token")
				return
			}

			span.SetStatus(codes.Ok, "ok")
			next.ServeHTTP(w, r)
		})
	}
}
