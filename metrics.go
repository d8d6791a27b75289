package main

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for this process, grounded on
// the teacher's PrometheusMetrics (prometheus.go): one struct of
// promauto-registered gauges/counters, built once at startup and updated
// from a periodic sampler.
type Metrics struct {
	peerBuffersActive  *prometheus.GaugeVec
	peerLossRate       *prometheus.GaugeVec
	peerTargetLatency  *prometheus.GaugeVec
	peerAudioLevel     *prometheus.GaugeVec
	mixerActivePeers   prometheus.Gauge
	syncedStreams      prometheus.Gauge
	syncedFramesPlayed *prometheus.GaugeVec
	clockSynced        prometheus.Gauge
	clockOffsetUs      prometheus.Gauge
	packetsDecodeFail  prometheus.Counter
	packetsMalformed   prometheus.Counter
	sendPartial        prometheus.Counter
	goroutineCount     prometheus.Gauge
	memoryAllocBytes   prometheus.Gauge
	processCPUPercent  prometheus.Gauge
	processRSSBytes    prometheus.Gauge
}

// NewMetrics registers every collector with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		peerBuffersActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "partyaudio_jitter_buffer_active",
				Help: "1 if a (peer, stream) jitter buffer is live, per peer/stream label",
			},
			[]string{"peer", "stream"},
		),
		peerLossRate: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "partyaudio_jitter_loss_rate",
				Help: "Jitter buffer loss-rate EMA in [0,1], per peer/stream",
			},
			[]string{"peer", "stream"},
		),
		peerTargetLatency: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "partyaudio_jitter_target_latency_frames",
				Help: "Jitter buffer target latency in frames, per peer/stream",
			},
			[]string{"peer", "stream"},
		),
		peerAudioLevel: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "partyaudio_jitter_audio_level",
				Help: "RMS audio level 0-100 of the last emitted chunk, per peer/stream",
			},
			[]string{"peer", "stream"},
		),
		mixerActivePeers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "partyaudio_mixer_active_buffers",
			Help: "Number of live (peer, stream) buffers in the realtime mix engine",
		}),
		syncedStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "partyaudio_synced_streams_active",
			Help: "Number of synced streams currently held by the scheduler",
		}),
		syncedFramesPlayed: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "partyaudio_synced_frames_played",
				Help: "Frames played so far for a synced stream",
			},
			[]string{"stream_id"},
		),
		clockSynced: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "partyaudio_party_clock_synced",
			Help: "1 if the party clock has an offset estimate, else 0",
		}),
		clockOffsetUs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "partyaudio_party_clock_offset_microseconds",
			Help: "Current party clock offset from local time, in microseconds",
		}),
		packetsDecodeFail: promauto.NewCounter(prometheus.CounterOpts{
			Name: "partyaudio_opus_decode_failures_total",
			Help: "Opus decode failures across all streams",
		}),
		packetsMalformed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "partyaudio_packets_malformed_total",
			Help: "Inbound datagrams dropped for failing to deserialize",
		}),
		sendPartial: promauto.NewCounter(prometheus.CounterOpts{
			Name: "partyaudio_send_partial_total",
			Help: "Outbound sends that wrote fewer bytes than requested",
		}),
		goroutineCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "partyaudio_goroutines",
			Help: "Current number of goroutines (runtime.NumGoroutine)",
		}),
		memoryAllocBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "partyaudio_memory_alloc_bytes",
			Help: "Currently allocated heap bytes (runtime.MemStats.Alloc)",
		}),
		processCPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "partyaudio_process_cpu_percent",
			Help: "Process CPU usage percent, sampled by the resource monitor",
		}),
		processRSSBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "partyaudio_process_rss_bytes",
			Help: "Process resident set size in bytes, sampled by the resource monitor",
		}),
	}
}

// updateResourceMetrics refreshes the runtime-derived gauges, grounded on
// the teacher's updateResourceMetrics (prometheus.go).
func (m *Metrics) updateResourceMetrics() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.goroutineCount.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(ms.Alloc))
}
