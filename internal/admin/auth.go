package admin

import (
	"crypto/subtle"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
)

// Handler returns the admin routes with authentication applied.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	guard := func(h http.HandlerFunc) http.HandlerFunc { return requireToken(s.cfg.Token, h) }

	s.routes(mux, guard)
	if s.deps.Metrics != nil {
		mux.HandleFunc("GET /metrics", guard(s.deps.Metrics.ServeHTTP))
	}
	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", guard(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", guard(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", guard(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", guard(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", guard(hpprof.Trace))
	}
	return mux
}

// requireToken accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func requireToken(token string, h http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return h
	}
	want := []byte(token)
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(v)
			}
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}
