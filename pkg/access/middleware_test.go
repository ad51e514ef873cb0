package access

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireLevel(t *testing.T) {
	f := newFixture(t)
	f.grant(t, f.alice, Group(1), LevelEdit)
	f.grant(t, f.bob, Group(1), LevelView)

	mw := NewMiddleware(f.resolver)
	router := mux.NewRouter()
	router.Handle("/groups/{groupID}/allocations",
		mw.RequireLevel(LevelEdit, KindGroup, "groupID")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := SubjectFromContext(r.Context())
			require.True(t, ok)
			w.Header().Set("X-Subject", subject.Email)
			w.WriteHeader(http.StatusNoContent)
		})),
	)

	tests := []struct {
		name    string
		path    string
		subject *Subject
		status  int
	}{
		{"no subject", "/groups/1/allocations", nil, http.StatusUnauthorized},
		{"edit is enough", "/groups/1/allocations", &f.alice, http.StatusNoContent},
		{"view is too low", "/groups/1/allocations", &f.bob, http.StatusForbidden},
		{"no grant", "/groups/2/allocations", &f.alice, http.StatusForbidden},
		{"super admin", "/groups/2/allocations", &f.root, http.StatusNoContent},
		{"bad id", "/groups/abc/allocations", &f.alice, http.StatusBadRequest},
		{"zero id", "/groups/0/allocations", &f.root, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.subject != nil {
				req = req.WithContext(WithSubject(req.Context(), *tt.subject))
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, tt.subject.Email, rec.Header().Get("X-Subject"))
			}
		})
	}
}
