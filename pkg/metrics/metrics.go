// Package metrics implements a Prometheus-format EventSink for the
// exchange orchestrator: request/response counters and byte totals,
// exposed as a text-format scrape body using the same exposition encoder
// the rest of the Prometheus ecosystem uses.
package metrics

import (
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Sink implements exchange.EventSink, accumulating counters in memory
// and rendering them on demand rather than pushing to a remote
// collector.
type Sink struct {
	requestsTotal  atomic.Int64
	headBytesTotal atomic.Int64
	responsesTotal atomic.Int64
	bytesTotal     atomic.Int64
	exchangeNanos  atomic.Int64
	serverStarts   atomic.Int64
	serverStops    atomic.Int64

	mu           sync.Mutex
	statusCounts map[int]int64
}

// New returns a ready-to-use Sink.
func New() *Sink {
	return &Sink{statusCounts: make(map[int]int64)}
}

func (s *Sink) RequestHeadReceived(method, path string, headBytes int, elapsed time.Duration) {
	s.requestsTotal.Add(1)
	s.headBytesTotal.Add(int64(headBytes))
}

func (s *Sink) ResponseSent(statusCode int, bytesWritten int64, elapsed time.Duration) {
	s.responsesTotal.Add(1)
	s.bytesTotal.Add(bytesWritten)
	s.exchangeNanos.Add(elapsed.Nanoseconds())
	s.mu.Lock()
	s.statusCounts[statusCode]++
	s.mu.Unlock()
}

func (s *Sink) HTTPServerStarted(addr string) { s.serverStarts.Add(1) }
func (s *Sink) HTTPServerStopped()            { s.serverStops.Add(1) }

// WriteTo encodes the current counter values in Prometheus text
// exposition format onto w.
func (s *Sink) WriteTo(w io.Writer) error {
	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))

	families := []*dto.MetricFamily{
		counterFamily("flowhttp_requests_total", "Total requests received.", float64(s.requestsTotal.Load())),
		counterFamily("flowhttp_request_head_bytes_total", "Total request head bytes parsed.", float64(s.headBytesTotal.Load())),
		counterFamily("flowhttp_responses_total", "Total responses sent.", float64(s.responsesTotal.Load())),
		counterFamily("flowhttp_response_bytes_total", "Total response bytes written.", float64(s.bytesTotal.Load())),
		counterFamily("flowhttp_exchange_seconds_total", "Total time spent in exchanges.", float64(s.exchangeNanos.Load())/1e9),
		counterFamily("flowhttp_server_starts_total", "Total times the server has started.", float64(s.serverStarts.Load())),
		counterFamily("flowhttp_server_stops_total", "Total times the server has stopped.", float64(s.serverStops.Load())),
	}
	families = append(families, s.statusFamily())

	for _, f := range families {
		if err := encoder.Encode(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) statusFamily() *dto.MetricFamily {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := "flowhttp_responses_by_status_total"
	help := "Total responses sent, labeled by status code."
	typ := dto.MetricType_COUNTER
	family := &dto.MetricFamily{Name: &name, Help: &help, Type: &typ}

	for code, count := range s.statusCounts {
		labelName := "status"
		labelValue := strconv.Itoa(code)
		c := float64(count)
		family.Metric = append(family.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: &labelName, Value: &labelValue}},
			Counter: &dto.Counter{Value: &c},
		})
	}
	return family
}

func counterFamily(name, help string, value float64) *dto.MetricFamily {
	typ := dto.MetricType_COUNTER
	n, h, v := name, help, value
	return &dto.MetricFamily{
		Name: &n,
		Help: &h,
		Type: &typ,
		Metric: []*dto.Metric{
			{Counter: &dto.Counter{Value: &v}},
		},
	}
}
