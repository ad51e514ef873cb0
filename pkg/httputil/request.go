package httputil

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ParseID reads a route variable holding a database id. Ids are positive.
func ParseID(r *http.Request, key string) (int64, error) {
	raw, ok := mux.Vars(r)[key]
	if !ok || raw == "" {
		return 0, fmt.Errorf("missing path parameter: %s", key)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return id, nil
}
