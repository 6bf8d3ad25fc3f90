package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeeDigitalWorks/blobgate/pkg/debug"
)

var (
	factory = promauto.With(debug.Registry())

	checksTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "blobgate_gateway_checks_total",
		Help: "Guarded requests by result",
	}, []string{"result"})

	rejections = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "blobgate_gateway_rejections_total",
		Help: "Rejected requests by error id",
	}, []string{"error_id"})
)
