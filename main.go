package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"

	"github.com/flowscope/datapath-agent/pkg/config"
	ovstracer "github.com/flowscope/datapath-agent/pkg/ebpf/gadgets/ovs/tracer"
	ovstypes "github.com/flowscope/datapath-agent/pkg/ebpf/gadgets/ovs/types"
	skbdroptracer "github.com/flowscope/datapath-agent/pkg/ebpf/gadgets/skbdrop/tracer"
	skbdroptypes "github.com/flowscope/datapath-agent/pkg/ebpf/gadgets/skbdrop/types"
	"github.com/flowscope/datapath-agent/pkg/metricsmanager"
	metricsprometheus "github.com/flowscope/datapath-agent/pkg/metricsmanager/prometheus"
)

func main() {
	configDir := "/etc/config"
	if envPath := os.Getenv("CONFIG_DIR"); envPath != "" {
		configDir = envPath
	}

	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		logger.L().Fatal("load config error", helpers.Error(err))
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		logger.L().Fatal("error removing memlock limit", helpers.Error(err))
	}

	var metrics metricsmanager.MetricsManager = metricsmanager.NewMetricsMock()
	if cfg.EnablePrometheusExporter {
		metrics = metricsprometheus.NewPrometheusMetric()
	}
	metrics.Start()
	defer metrics.Destroy()

	if cfg.EnableOvsTracing {
		eventsMap, err := ebpf.LoadPinnedMap(cfg.OvsEventsMapPath, nil)
		if err != nil {
			logger.L().Fatal("loading pinned ovs events map", helpers.String("path", cfg.OvsEventsMapPath), helpers.Error(err))
		}

		tracer, err := ovstracer.NewTracer(&ovstracer.Config{
			EventsMap:       eventsMap,
			PerfBufferPages: cfg.PerfBufferPages,
		}, metrics, func(event *ovstypes.Event) {
			logger.L().Info("ovs event", helpers.String("event", event.String()))
		})
		if err != nil {
			logger.L().Fatal("starting ovs tracer", helpers.Error(err))
		}
		defer tracer.Stop()
	}

	if cfg.EnableDropTracing {
		eventsMap, err := ebpf.LoadPinnedMap(cfg.DropEventsMapPath, nil)
		if err != nil {
			logger.L().Fatal("loading pinned drop events map", helpers.String("path", cfg.DropEventsMapPath), helpers.Error(err))
		}

		tracer, err := skbdroptracer.NewTracer(&skbdroptracer.Config{
			EventsMap:       eventsMap,
			PerfBufferPages: cfg.PerfBufferPages,
		}, metrics, func(event *skbdroptypes.Event) {
			logger.L().Info("skb drop event", helpers.String("event", event.String()))
		})
		if err != nil {
			logger.L().Fatal("starting skbdrop tracer", helpers.Error(err))
		}
		defer tracer.Stop()
	}

	logger.L().Info("datapath-agent started", helpers.String("node", os.Getenv(config.NodeNameEnvVar)))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown

	logger.L().Info("shutting down")
}
