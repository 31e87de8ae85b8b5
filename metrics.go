package bagplay

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recordsPlayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bagplay_records_played",
		Help: "The total number of message records dispatched to handlers",
	})

	bytesPlayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bagplay_bytes_played",
		Help: "The total number of message body bytes dispatched",
	})

	definitionsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bagplay_definitions_skipped",
		Help: "The total number of definition/header/index records consumed without dispatch",
	})

	parseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bagplay_parse_failures",
		Help: "The total number of records that failed to parse",
	})

	outOfOrderWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bagplay_out_of_order_warnings",
		Help: "The total number of records observed earlier than the presumed first record",
	})

	brokerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bagplay_broker_reconnects",
		Help: "The total number of reconnections to the republish broker",
	})

	playersOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bagplay_players_open",
		Help: "The number of bag players currently open",
	})

	queueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bagplay_queue_size",
		Help: "The number of messages in the republish queue",
	})
)

// StartMetrics serves the prometheus metrics endpoint in a separate goroutine.
func StartMetrics(metricsPort int) {
	go func() {
		listenAddress := ":" + strconv.Itoa(metricsPort)
		log.Debugln("Starting metrics at " + listenAddress + "/metrics")
		http.Handle("/metrics", promhttp.Handler())
		err := http.ListenAndServe(listenAddress, nil)
		if err != nil {
			log.Errorln("Failed to listen and serve metrics:", err)
			return
		}
	}()
}
