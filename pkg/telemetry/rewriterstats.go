package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

type PacketResult string

const (
	rewriterNamespace = "ssrc_rewriter"

	PacketRewritten   PacketResult = "rewritten"
	PacketDropped     PacketResult = "dropped"
	PacketPassthrough PacketResult = "passthrough"
)

type RTCPAction string

const (
	RTCPForwarded  RTCPAction = "forwarded"
	RTCPTranslated RTCPAction = "translated"
	RTCPDropped    RTCPAction = "dropped"
)

var (
	promPacketTotal   *prometheus.CounterVec
	promRTCPTotal     *prometheus.CounterVec
	promHandoverTotal prometheus.Counter
	promByeTotal      prometheus.Counter
)

// Init registers the rewriter counters. Optional: a library user that does
// not care about metrics can skip it, the increment helpers are nil-safe.
func Init(constLabels prometheus.Labels) {
	promPacketTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   rewriterNamespace,
		Subsystem:   "packet",
		Name:        "total",
		ConstLabels: constLabels,
	}, []string{"result"})
	promRTCPTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   rewriterNamespace,
		Subsystem:   "rtcp",
		Name:        "total",
		ConstLabels: constLabels,
	}, []string{"action"})
	promHandoverTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   rewriterNamespace,
		Subsystem:   "handover",
		Name:        "total",
		ConstLabels: constLabels,
	})
	promByeTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   rewriterNamespace,
		Subsystem:   "bye",
		Name:        "total",
		ConstLabels: constLabels,
	})

	prometheus.MustRegister(promPacketTotal)
	prometheus.MustRegister(promRTCPTotal)
	prometheus.MustRegister(promHandoverTotal)
	prometheus.MustRegister(promByeTotal)
}

func IncrementPackets(result PacketResult, count uint64) {
	if promPacketTotal != nil {
		promPacketTotal.WithLabelValues(string(result)).Add(float64(count))
	}
}

func IncrementRTCP(action RTCPAction, count uint64) {
	if promRTCPTotal != nil {
		promRTCPTotal.WithLabelValues(string(action)).Add(float64(count))
	}
}

func IncrementHandovers() {
	if promHandoverTotal != nil {
		promHandoverTotal.Inc()
	}
}

func IncrementByes() {
	if promByeTotal != nil {
		promByeTotal.Inc()
	}
}
