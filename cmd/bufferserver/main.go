package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/downfa11-org/bufferserver/pkg/config"
	"github.com/downfa11-org/bufferserver/pkg/consumer"
	"github.com/downfa11-org/bufferserver/pkg/metrics"
	"github.com/downfa11-org/bufferserver/pkg/server"
	"github.com/downfa11-org/bufferserver/pkg/upstream"
	"github.com/downfa11-org/bufferserver/pkg/window"
	"github.com/downfa11-org/bufferserver/util"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	util.SetLevel(cfg.LogLevel)

	util.Info("🚀 Starting buffer server on port %d", cfg.Port)
	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
	} else {
		util.Info("📉 Exporter disabled")
	}

	dropPolicy, err := consumer.ParseDropPolicy(cfg.ConsumerDropPolicy)
	if err != nil {
		util.Fatal("❌ %v", err)
	}
	m := upstream.NewManager(upstream.Options{
		BlockSize: cfg.BlockSize,
		Consumer: consumer.Options{
			QueueSize:  cfg.ConsumerQueueSize,
			DropPolicy: dropPolicy,
		},
		DefaultPolicy:   cfg.DefaultPolicy,
		RetainWindows:   uint32(cfg.RetainWindows),
		CleanupInterval: time.Duration(cfg.CleanupIntervalMS) * time.Millisecond,
	})
	defer m.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, w := range cfg.SyntheticWindows {
		gen := &window.Generator{
			Start:    time.Now().Add(-time.Duration(w.StartOffsetMS) * time.Millisecond),
			Interval: time.Duration(w.IntervalMS) * time.Millisecond,
			Listener: m.WindowPublisher(w.Upstream),
		}
		upstreamName := w.Upstream
		go func() {
			if err := gen.Run(ctx); err != nil {
				util.Error("Window generator for '%s' stopped: %v", upstreamName, err)
			}
		}()
		util.Info("⏱️ Synthetic windows on '%s' every %dms", w.Upstream, w.IntervalMS)
	}

	if err := server.NewServer(cfg, m).RunServer(ctx); err != nil {
		util.Fatal("❌ Buffer server failed: %v", err)
	}
	util.Info("👋 Buffer server stopped")
}
