// Command partyaudio runs the peer-to-peer real-time audio-sharing fabric
// described in this repository: it joins the link-local multicast group,
// drives the decentralized party clock, and fans inbound audio into the
// realtime mixer and synced-stream scheduler. Device capture/playback,
// Opus encode/decode of locally-captured audio, and file decoding are the
// out-of-scope external collaborators (spec.md §1); this binary exercises
// the transport, clock, and mixing engine end to end without them wired
// to a real sound card.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	debugMode := *debug
	if v := os.Getenv("DEBUG"); v != "" {
		debugMode = v == "true" || v == "1" || v == "yes"
	}
	if debugMode {
		log.Println("Debug mode enabled")
	}

	config, err := LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	instance := NewInstance()
	log.Printf("partyaudio instance %s starting", instance.ID)

	var metrics *Metrics
	if config.Prometheus.Enabled {
		metrics = NewMetrics()
	}

	app, err := NewApp(config, metrics)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := app.Dispatcher.Run(app.Socket); err != nil {
			log.Printf("dispatcher stopped: %v", err)
		}
	}()

	go runMaintenanceLoop(ctx, app)

	if metrics != nil {
		rm, err := NewResourceMonitor()
		if err != nil {
			log.Printf("WARN: resource monitor unavailable: %v", err)
		} else {
			go rm.Run(ctx, 5*time.Second, func(cpuPct, rssBytes float64) {
				metrics.processCPUPercent.Set(cpuPct)
				metrics.processRSSBytes.Set(rssBytes)
			})
		}
		go runMetricsSampleLoop(ctx, app, metrics)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: config.Prometheus.Listen, Handler: mux}
		go func() {
			log.Printf("Prometheus metrics listening on %s", config.Prometheus.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("ERROR: prometheus server: %v", err)
			}
		}()
	}

	var statusServer *http.Server
	if config.Status.Enabled {
		ws := NewStatusWebSocket(app.Snapshot)
		go ws.Run(time.Second, ctx.Done())

		mux := http.NewServeMux()
		mux.HandleFunc("/status", ws.ServeHTTP)
		statusServer = &http.Server{Addr: config.Status.Listen, Handler: mux}
		go func() {
			log.Printf("Status websocket listening on %s", config.Status.Listen)
			if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("ERROR: status server: %v", err)
			}
		}()
	}

	var mqttPublisher *MQTTPublisher
	if config.MQTT.Enabled {
		mqttPublisher, err = NewMQTTPublisher(config.MQTT)
		if err != nil {
			log.Printf("WARN: mqtt publisher unavailable: %v", err)
		} else {
			go mqttPublisher.Run(func() StatusPayload {
				snap := app.Snapshot()
				return StatusPayload{
					Timestamp:    time.Now().Unix(),
					ClockSynced:  snap.ClockSynced,
					ClockOffset:  snap.ClockOffset,
					MixerActive:  snap.MixerActive,
					SyncedActive: snap.SyncedActive,
				}
			}, ctx.Done())
		}
	}

	log.Printf("partyaudio running (uptime tracking since %s)", startTime.Format(time.RFC3339))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	cancel()
	if mqttPublisher != nil {
		mqttPublisher.Disconnect()
	}
	if statusServer != nil {
		statusServer.Close()
	}
}

// runMaintenanceLoop drives the low-rate (≤1Hz) maintenance work: party
// clock ticks, and reaping stale realtime/synced buffers (spec.md §5
// "A low-rate maintenance task").
func runMaintenanceLoop(ctx context.Context, app *App) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.Clock.Tick()
			app.Mixer.Reap()
			app.Scheduler.CleanupStale()
		}
	}
}

// runMetricsSampleLoop refreshes the Prometheus gauges that aren't
// counters updated inline elsewhere.
func runMetricsSampleLoop(ctx context.Context, app *App, metrics *Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.updateResourceMetrics()

			info := app.Clock.DebugInfo()
			if info.Synced {
				metrics.clockSynced.Set(1)
			} else {
				metrics.clockSynced.Set(0)
			}
			metrics.clockOffsetUs.Set(float64(info.OffsetUs))
			metrics.mixerActivePeers.Set(float64(app.Mixer.ActiveCount()))

			streams := app.Scheduler.ActiveStreams()
			metrics.syncedStreams.Set(float64(len(streams)))
			for _, p := range streams {
				metrics.syncedFramesPlayed.WithLabelValues(formatStreamID(p.StreamID)).Set(float64(p.FramesPlayed))
			}

			for key, stats := range app.Mixer.Stats() {
				peer := key.SourceAddr
				stream := formatStreamID(key.StreamID)
				metrics.peerBuffersActive.WithLabelValues(peer, stream).Set(1)
				metrics.peerLossRate.WithLabelValues(peer, stream).Set(stats.LossRate())
				metrics.peerTargetLatency.WithLabelValues(peer, stream).Set(float64(stats.TargetLatency()))
				metrics.peerAudioLevel.WithLabelValues(peer, stream).Set(float64(stats.AudioLevel()))
			}
		}
	}
}

func formatStreamID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
