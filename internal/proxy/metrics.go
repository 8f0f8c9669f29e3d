package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socksrelay_connections_accepted_total",
		Help: "Client connections accepted.",
	})

	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "socksrelay_connections_active",
		Help: "Client connections currently registered.",
	})

	connectionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socksrelay_connection_failures_total",
		Help: "Connections that ended with an error, by error kind.",
	}, []string{"kind"})

	relayBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socksrelay_relay_bytes_total",
		Help: "Bytes relayed, by direction.",
	}, []string{"direction"})

	upstreamConnectSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "socksrelay_upstream_connect_duration_seconds",
		Help:    "Time to connect and complete the upstream SOCKS5 handshake.",
		Buckets: prometheus.DefBuckets,
	})

	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socksrelay_resolve_total",
		Help: "Local hostname resolutions, by result.",
	}, []string{"result"})
)
