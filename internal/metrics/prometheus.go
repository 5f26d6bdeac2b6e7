package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	eventsMetricName      = "aero_webrtc_signaling_relay_events_total"
	connectionsMetricName = "aero_webrtc_signaling_relay_connections"
	roomsMetricName       = "aero_webrtc_signaling_relay_rooms"
)

// GaugeFunc reports the current number of rooms and live connections.
type GaugeFunc func() (rooms, conns int)

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// All counters share one metric with an `event` label. gauges may be nil.
func PrometheusHandler(m *Metrics, gauges GaugeFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintf(w, "# HELP %s Internal event counters.\n", eventsMetricName)
		_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", eventsMetricName)
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", eventsMetricName, labelEscaper.Replace(k), snap[k])
		}

		if gauges == nil {
			return
		}
		rooms, conns := gauges()
		_, _ = fmt.Fprintf(w, "# HELP %s Live signaling connections.\n", connectionsMetricName)
		_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", connectionsMetricName)
		_, _ = fmt.Fprintf(w, "%s %d\n", connectionsMetricName, conns)
		_, _ = fmt.Fprintf(w, "# HELP %s Rooms with at least one member.\n", roomsMetricName)
		_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", roomsMetricName)
		_, _ = fmt.Fprintf(w, "%s %d\n", roomsMetricName, rooms)
	})
}
