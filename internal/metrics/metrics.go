package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taoyao-code/vndstream/internal/protocol/vnd"
	"github.com/taoyao-code/vndstream/internal/stream"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// StreamMetrics 流指标，实现 stream.Observer
type StreamMetrics struct {
	BytesReceived      prometheus.Counter
	FramesTotal        *prometheus.CounterVec // labels: kind
	DataFramesTotal    *prometheus.CounterVec // labels: channel
	PairsTotal         prometheus.Counter
	OrderingViolations *prometheus.CounterVec // labels: reason
	SequenceGaps       prometheus.Counter
	LastSequence       prometheus.Gauge
	CommandsTotal      *prometheus.CounterVec // labels: cmd, result=ok|nack|timeout|error
	StatusCurSamples   prometheus.Gauge
	StatusProducedSeq  prometheus.Gauge
}

var _ stream.Observer = (*StreamMetrics)(nil)

// NewStreamMetrics 注册并返回流指标
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnd_bytes_received_total",
			Help: "Total bytes read from the bulk-IN endpoint.",
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vnd_frames_total",
			Help: "Deframer output by kind.",
		}, []string{"kind"}),
		DataFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vnd_data_frames_total",
			Help: "Data frames by channel.",
		}, []string{"channel"}),
		PairsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnd_pairs_completed_total",
			Help: "Completed A/B pairs.",
		}),
		OrderingViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vnd_ordering_violations_total",
			Help: "A/B ordering violations by reason.",
		}, []string{"reason"}),
		SequenceGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnd_sequence_gaps_total",
			Help: "Pairs whose sequence did not follow the previous pair.",
		}),
		LastSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vnd_last_pair_sequence",
			Help: "Sequence number of the last completed pair.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vnd_commands_total",
			Help: "Commands sent by name and result.",
		}, []string{"cmd", "result"}),
		StatusCurSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vnd_status_cur_samples",
			Help: "cur_samples from the last status block.",
		}),
		StatusProducedSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vnd_status_produced_seq",
			Help: "produced_seq from the last status block.",
		}),
	}
	reg.MustRegister(
		m.BytesReceived, m.FramesTotal, m.DataFramesTotal, m.PairsTotal, m.OrderingViolations,
		m.SequenceGaps, m.LastSequence, m.CommandsTotal, m.StatusCurSamples, m.StatusProducedSeq,
	)
	return m
}

func (m *StreamMetrics) ObserveRead(n int) { m.BytesReceived.Add(float64(n)) }

func (m *StreamMetrics) ObserveFrame(f vnd.Frame) {
	m.FramesTotal.WithLabelValues(f.Kind().String()).Inc()
	switch fr := f.(type) {
	case *vnd.DataFrame:
		m.DataFramesTotal.WithLabelValues(fr.Channel.String()).Inc()
	case *vnd.StatusFrame:
		m.StatusCurSamples.Set(float64(fr.CurSamples))
		m.StatusProducedSeq.Set(float64(fr.ProducedSeq))
	}
}

func (m *StreamMetrics) ObservePair(res stream.PairResult) {
	if res.Violation != nil {
		m.OrderingViolations.WithLabelValues(string(res.Violation.Reason)).Inc()
	}
	if res.Paired {
		m.PairsTotal.Inc()
		m.LastSequence.Set(float64(res.Sequence))
	}
	if res.GapDetected {
		m.SequenceGaps.Inc()
	}
}

// ObserveCommand 记录一次命令往返的结果
func (m *StreamMetrics) ObserveCommand(cmd vnd.Command, result string) {
	m.CommandsTotal.WithLabelValues(cmd.Name(), result).Inc()
}
