// Command tachtalkd runs the TachTalk ELM327 proxy and shift-light engine
// end to end: accepts scan-tool clients, proxies/caches to the dongle,
// renders the shift-light, fans RPM out over SSE, and exposes Prometheus
// metrics plus the capture download/clear endpoints. Flag-based startup
// follows the teacher's cmd/exporter_example1 shape (a single flat main,
// no subcommands); none of the example repos pull in a CLI framework
// (cobra, urfave/cli), so stdlib's "flag" package is the grounded choice
// here too.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tachtalk/tachtalk/pkg/cache"
	"github.com/tachtalk/tachtalk/pkg/capture"
	"github.com/tachtalk/tachtalk/pkg/clock"
	"github.com/tachtalk/tachtalk/pkg/config"
	"github.com/tachtalk/tachtalk/pkg/dongle"
	"github.com/tachtalk/tachtalk/pkg/elm327"
	"github.com/tachtalk/tachtalk/pkg/metrics"
	"github.com/tachtalk/tachtalk/pkg/poller"
	"github.com/tachtalk/tachtalk/pkg/proxy"
	"github.com/tachtalk/tachtalk/pkg/rpmled"
	"github.com/tachtalk/tachtalk/pkg/shiftlight"
	"github.com/tachtalk/tachtalk/pkg/telemetry"
)

func main() {
	var (
		configPath      = flag.String("config", "tachtalk.json", "path to the operator config JSON document")
		listenAddr      = flag.String("listen", ":35000", "address the client-facing ELM327 proxy listens on")
		dongleAddr      = flag.String("dongle-addr", "192.168.0.10:35000", "address of the WiFi ELM327 dongle")
		metricsAddr     = flag.String("metrics-listen", ":9090", "address the /metrics and /capture HTTP server listens on")
		sseAddr         = flag.String("sse-listen", ":8081", "address the telemetry SSE endpoint listens on")
		captureCapacity = flag.Int("capture-capacity", capture.DefaultCapacity, "capture ring buffer size in bytes")
		logLevel        = flag.String("log-level", "info", "logrus level: debug, info, warn, error")
	)
	flag.Parse()

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid -log-level")
	}
	log.SetLevel(level)
	entry := logrus.NewEntry(log)

	store, err := config.NewFileStore(*configPath)
	if err != nil {
		entry.WithError(err).Fatal("failed to load config")
	}
	cfg := store.Get()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = *listenAddr
	}
	if cfg.Obd2.DongleAddr == "" {
		cfg.Obd2.DongleAddr = *dongleAddr
	}
	if cfg.TotalLEDs == 0 {
		cfg.TotalLEDs = 10
	}
	if cfg.Brightness == 0 {
		cfg.Brightness = 255
	}

	wall := clock.Wall{}
	reg := prometheus.NewRegistry()
	registry := metrics.NewRegistry(reg)

	recorder := capture.NewRecorder(*captureCapacity, wall)
	pidCache := cache.NewCache(wall)
	broadcaster := telemetry.New(entry.WithField("component", "telemetry"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	onDongleResponse := func(cmd string, raw []byte, err error) {
		if err != nil {
			return
		}
		resp := pidCache.Update(cmd, raw)
		if elm327.Canonicalize(cmd) != cache.RPMPid {
			return
		}
		for _, line := range resp {
			if rpm, ok := elm327.ExtractRPM(line); ok {
				broadcaster.Publish(rpm)
				break
			}
		}
	}

	timeoutMS, clamped := cfg.Obd2.ClampedTimeout()
	if clamped {
		entry.WithField("configured_ms", cfg.Obd2.TimeoutMS).Warn("obd2 timeout clamped to maximum")
	}

	d := dongle.New(
		cfg.Obd2.DongleAddr,
		time.Duration(timeoutMS)*time.Millisecond,
		recorder,
		pidCache.Supported(),
		registry.DongleLink,
		entry.WithField("component", "dongle"),
		onDongleResponse,
	)

	sched := poller.New(pidCache, d, cache.MaintenanceIntervalMS*time.Millisecond)

	ledSink := shiftlight.NewLogSink(entry.WithField("component", "shiftlight"))
	ledTask := rpmled.New(wall, ledSink, d, publisherFunc(broadcaster.Publish), entry.WithField("component", "rpmled"), rpmled.Config{
		Thresholds: cfg.ToThresholds(),
		TotalLEDs:  cfg.TotalLEDs,
	})

	server := proxy.NewServer(cfg.ListenAddr, pidCache, d, recorder, rpmPublisherFunc{task: ledTask}, entry.WithField("component", "proxy"))
	server.WithCacheMetrics(registry.CacheHits, registry.CacheMisses, registry.FastQueue, registry.SlowQueue)

	go d.Run(ctx)
	go sched.Run(ctx)
	go ledTask.Run(ctx)
	go broadcaster.Run(ctx.Done())

	go func() {
		if err := server.Run(ctx); err != nil {
			entry.WithError(err).Fatal("proxy server failed")
		}
	}()

	go serveMetricsAndCapture(ctx, *metricsAddr, reg, registry, recorder, broadcaster, entry.WithField("component", "http"))

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/telemetry/sse", broadcaster)
		srv := &http.Server{Addr: *sseAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			entry.WithError(err).Fatal("telemetry server failed")
		}
	}()

	entry.WithFields(logrus.Fields{
		"listen":        cfg.ListenAddr,
		"dongle_addr":   cfg.Obd2.DongleAddr,
		"metrics_listen": *metricsAddr,
		"sse_listen":    *sseAddr,
	}).Info("tachtalkd started")

	<-ctx.Done()
	entry.Info("shutting down")
}

// publisherFunc adapts a func(uint32) to rpmled.Publisher.
type publisherFunc func(rpm uint32)

func (f publisherFunc) Publish(rpm uint32) { f(rpm) }

// rpmPublisherFunc adapts *rpmled.Task to proxy.RPMPublisher by feeding
// client-observed RPM values back into the LED task's message channel.
type rpmPublisherFunc struct {
	task *rpmled.Task
}

func (r rpmPublisherFunc) PublishRPM(rpm uint32) {
	select {
	case r.task.Messages <- rpmled.Message{Kind: rpmled.MsgRPM, RPM: rpm}:
	default:
	}
}

func serveMetricsAndCapture(ctx context.Context, addr string, reg *prometheus.Registry, registry *metrics.Registry, recorder *capture.Recorder, broadcaster *telemetry.Broadcaster, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/capture/download", func(w http.ResponseWriter, r *http.Request) {
		data, err := recorder.Download()
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="capture.ttcap"`)
		w.Write(data)
	})

	mux.HandleFunc("/capture/clear", func(w http.ResponseWriter, r *http.Request) {
		if err := recorder.Clear(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				registry.CaptureUtil.Set(recorder.Utilization())
				registry.SSESubs.Set(float64(broadcaster.SubscriberCount()))
			}
		}
	}()

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal(fmt.Sprintf("http server on %s failed", addr))
	}
}
