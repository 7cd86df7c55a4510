package pump

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Directions used as the "direction" label and log field.
const (
	Upload   = "upload"
	Download = "download"
	Loopback = "loopback"
)

// Metrics counts bytes, chunks and not-ready polls per direction.
// A nil *Metrics records nothing.
type Metrics struct {
	bytes  *prometheus.CounterVec
	chunks *prometheus.CounterVec
	polls  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serialpump",
			Name:      "bytes_total",
			Help:      "Bytes moved between the host endpoint and the serial link.",
		}, []string{"direction"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serialpump",
			Name:      "chunks_total",
			Help:      "Write-and-flush cycles performed.",
		}, []string{"direction"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serialpump",
			Name:      "polls_total",
			Help:      "Sleeps taken because the link FIFO was not ready.",
		}, []string{"direction"}),
	}
	for _, c := range []prometheus.Collector{m.bytes, m.chunks, m.polls} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) chunk(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.WithLabelValues(direction).Add(float64(n))
	m.chunks.WithLabelValues(direction).Inc()
}

func (m *Metrics) poll(direction string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(direction).Inc()
}
