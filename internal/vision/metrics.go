package vision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// callsTotal 按结果统计真实分析服务的调用次数
var callsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fileguard_vision_calls_total",
		Help: "Remote vision analysis calls by outcome",
	},
	[]string{"outcome"},
)

const (
	outcomeOK          = "ok"
	outcomeUnavailable = "unavailable"
	outcomeError       = "provider_error"
)
