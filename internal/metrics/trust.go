package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Trust-plane Prometheus metrics. Defined in a standalone package so the
// keys, token and membership packages can share them without import cycles.

var (
	KeyRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signing_key_rotations_total",
		Help: "Completed signing key rotations",
	})

	KeysPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signing_keys_pruned_total",
		Help: "Signing keys removed by the retention policy",
	})

	TokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "service_tokens_issued_total",
		Help: "Service tokens minted for outbound calls",
	})

	TokenVerifyFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "service_token_verify_failures_total",
		Help: "Inbound service credentials rejected, by scheme",
	}, []string{"scheme"})

	JWKSCacheRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jwks_cache_refreshes_total",
		Help: "JWKS snapshot refreshes performed by verifiers",
	})

	MembershipFetchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "membership_fetch_failures_total",
		Help: "Membership lookups that failed closed (network, status, shape)",
	})
)

// Register registers the trust metrics on the given registry (or the default
// registry if nil). Double registration is tolerated.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		KeyRotations,
		KeysPruned,
		TokensIssued,
		TokenVerifyFailures,
		JWKSCacheRefreshes,
		MembershipFetchFailures,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
