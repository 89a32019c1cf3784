package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	TypeLabel   = "type"
	ReasonLabel = "reason"
	ViaLabel    = "via"

	PushDataType = "push_data"
	PullDataType = "pull_data"

	ForwardedViaNATS = "nats"
	ForwardedViaMQTT = "mqtt"
)

var (
	PacketReceivedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loragw",
			Name:      "received_packet_total",
			Help:      "The total number of UDP packets received from gateways",
		},
		[]string{TypeLabel},
	)

	RxpkReceivedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loragw",
			Name:      "received_rxpk_total",
			Help:      "The total number of valid rxpk received",
		},
	)

	RxpkDecodeErrorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loragw",
			Name:      "rxpk_decode_error_total",
			Help:      "The total number of rejected rxpk",
		},
		[]string{ReasonLabel},
	)

	ForwardedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loragw",
			Name:      "forwarded_total",
			Help:      "The total number of frames forwarded",
		},
		[]string{ViaLabel},
	)

	ForwardErrorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loragw",
			Name:      "forward_error_total",
			Help:      "The total number of frames that failed to be forwarded",
		},
		[]string{ViaLabel},
	)

	ErrorCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loragw",
			Name:      "error_total",
			Help:      "The total number of errors occurring",
		},
	)

	InsertCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loragw",
			Name:      "insert_total",
			Help:      "The total number of inserts in db",
		},
	)
)
