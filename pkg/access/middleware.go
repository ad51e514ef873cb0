package access

import (
	"context"
	"errors"
	"net/http"

	"github.com/fieldnote/fieldnote/pkg/contextkeys"
	"github.com/fieldnote/fieldnote/pkg/httputil"
	"github.com/fieldnote/fieldnote/pkg/observability"
)

// WithSubject stores the authenticated admin in ctx
func WithSubject(ctx context.Context, subject Subject) context.Context {
	return contextkeys.WithSubject(ctx, subject)
}

// SubjectFromContext returns the authenticated admin, if any
func SubjectFromContext(ctx context.Context) (Subject, bool) {
	subject, ok := ctx.Value(contextkeys.SubjectKey).(Subject)
	return subject, ok
}

// Middleware guards HTTP handlers with access checks
type Middleware struct {
	resolver *Resolver
}

// NewMiddleware creates a new access middleware
func NewMiddleware(resolver *Resolver) *Middleware {
	return &Middleware{resolver: resolver}
}

// RequireLevel rejects requests whose subject holds less than needed on the
// resource of the given kind identified by the idVar route variable.
//
//	router.Handle("/groups/{groupID}/surveys", mw.RequireLevel(access.LevelEdit, access.KindGroup, "groupID")(h))
func (m *Middleware) RequireLevel(needed Level, kind ResourceKind, idVar string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := SubjectFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			id, err := httputil.ParseID(r, idVar)
			if err != nil {
				httputil.WriteBadRequest(w, err.Error())
				return
			}

			err = m.resolver.CheckAccess(r.Context(), subject, needed, Resource{Kind: kind, ID: id})
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case IsForbidden(err):
				httputil.WriteForbidden(w, needed.String()+" access required")
			case errors.Is(err, ErrInvalidResource):
				httputil.WriteBadRequest(w, err.Error())
			default:
				observability.FromContext(r.Context()).WithError(err).Error("Access check failed")
				httputil.WriteInternalError(w)
			}
		})
	}
}
