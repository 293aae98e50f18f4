// Package metrics provides Prometheus metrics for the FTP server.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftpserver_commands_total",
			Help: "Total FTP commands dispatched",
		},
		[]string{"command", "code"},
	)

	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftpserver_logins_total",
			Help: "Total login attempts",
		},
		[]string{"result"},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ftpserver_bytes_uploaded_total",
			Help: "Total bytes received over STOR",
		},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ftpserver_bytes_downloaded_total",
			Help: "Total bytes sent over RETR",
		},
	)

	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ftpserver_connections_active",
			Help: "Currently open control connections",
		},
	)

	connectionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ftpserver_connections_rejected_total",
			Help: "Connections refused by the admission limit",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCommand records one dispatched command and its reply code.
func RecordCommand(command string, code int) {
	commandsTotal.WithLabelValues(command, strconv.Itoa(code)).Inc()
	if command == "PASS" {
		switch {
		case code == 230:
			loginsTotal.WithLabelValues("success").Inc()
		case code == 421:
			loginsTotal.WithLabelValues("rejected").Inc()
			connectionsRejected.Inc()
		default:
			loginsTotal.WithLabelValues("failure").Inc()
		}
	}
}

// RecordUpload adds to the uploaded byte counter.
func RecordUpload(bytes int64) {
	if bytes > 0 {
		bytesUploaded.Add(float64(bytes))
	}
}

// RecordDownload adds to the downloaded byte counter.
func RecordDownload(bytes int64) {
	if bytes > 0 {
		bytesDownloaded.Add(float64(bytes))
	}
}

// ConnectionOpened bumps the active-connection gauge.
func ConnectionOpened() { connectionsActive.Inc() }

// ConnectionClosed decrements the active-connection gauge.
func ConnectionClosed() { connectionsActive.Dec() }
