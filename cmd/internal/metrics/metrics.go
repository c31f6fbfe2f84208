// Package metrics exposes authentication counters over prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "learnhub"

// Auth records session and authentication events.
// It satisfies session.Recorder and authn.Observer.
type Auth struct {
	reg *prometheus.Registry

	sessionsCreated *prometheus.CounterVec
	sessionsRevoked *prometheus.CounterVec
	refreshRotated  *prometheus.CounterVec
	authRejected    *prometheus.CounterVec
}

// NewAuth registers the auth collectors on a fresh registry, together with
// the standard Go and process collectors.
func NewAuth() *Auth {
	a := &Auth{
		reg: prometheus.NewRegistry(),
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Sessions created at login, by degraded flag.",
		}, []string{"degraded"}),
		sessionsRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "revoked_total",
			Help:      "Sessions revoked, by reason.",
		}, []string{"reason"}),
		refreshRotated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "refresh_total",
			Help:      "Refresh attempts that reached rotation, by outcome.",
		}, []string{"result"}),
		authRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "rejected_total",
			Help:      "Requests rejected by the auth middleware, by error code.",
		}, []string{"code"}),
	}

	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		a.sessionsCreated,
		a.sessionsRevoked,
		a.refreshRotated,
		a.authRejected,
	)
	return a
}

// SessionCreated counts one login session.
func (a *Auth) SessionCreated(degraded bool) {
	a.sessionsCreated.WithLabelValues(strconv.FormatBool(degraded)).Inc()
}

// SessionsRevoked adds n revocations for reason. Zero is ignored.
func (a *Auth) SessionsRevoked(reason string, n int) {
	if n <= 0 {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	a.sessionsRevoked.WithLabelValues(reason).Add(float64(n))
}

// RefreshRotated counts one rotation attempt.
func (a *Auth) RefreshRotated(ok bool) {
	result := "ok"
	if !ok {
		result = "lost"
	}
	a.refreshRotated.WithLabelValues(result).Inc()
}

// AuthRejected counts one middleware rejection.
func (a *Auth) AuthRejected(code string) {
	a.authRejected.WithLabelValues(code).Inc()
}

// Registry returns the underlying registry.
func (a *Auth) Registry() *prometheus.Registry { return a.reg }

// Handler serves the registry in the prometheus exposition format.
func (a *Auth) Handler() http.Handler {
	return promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{})
}
