// Command batchganged is the cluster gang scheduler daemon: it loads a
// partition/job/topology snapshot, runs the gang scheduler's timeslicer
// against it, and signals SUSPEND/RESUME against real process groups
// (spec.md §4.9, §4.10).
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clustercore/batchcore/control"
	"github.com/clustercore/batchcore/gang"
	"github.com/clustercore/batchcore/logx"
)

var log = logx.For("batchganged")

func main() {
	snapshotPath := flag.String("snapshot", "/etc/batchcore/gang-snapshot.json", "JSON partition/job/topology snapshot")
	granularity := flag.String("granularity", "core", "resource granularity: node, cpu, socket, or core")
	timeslice := flag.Duration("timeslice", 30*time.Second, "timeslicer rotation period")
	fastSchedule := flag.Bool("fast-schedule", true, "fast_schedule setting, recorded in the scheduler options; resource counts always come from the snapshot")
	flag.Parse()

	gr, err := parseGranularity(*granularity)
	if err != nil {
		log.Fatal().Err(err).Msg("parse granularity")
	}

	cfg := control.NewConfigStore()
	debug := control.NewDebugProbes()
	metrics := control.NewMetricsRegistry()
	control.RegisterPlatformProbes(debug)

	topo, err := gang.NewFileTopology(*snapshotPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *snapshotPath).Msg("load snapshot")
	}
	signaler := gang.NewPIDSignaler()

	opts := gang.Options{Granularity: gr, TimeSlice: *timeslice, FastSchedule: *fastSchedule}
	sched := gang.NewScheduler(opts, topo, topo, topo, topo, signaler)
	if err := sched.Init(); err != nil {
		log.Fatal().Err(err).Msg("scheduler init")
	}
	defer func() {
		if err := sched.Fini(); err != nil {
			log.Error().Err(err).Msg("scheduler fini")
		}
	}()

	control.RegisterGangProbes(debug, sched)
	debug.RegisterProbe("snapshot.path", func() any { return *snapshotPath })
	debug.RegisterProbe("scheduler.granularity", func() any { return *granularity })
	cfg.SetGangOptions(opts)
	control.RegisterReloadHook(func() {
		if err := sched.Reconfig(); err != nil {
			log.Error().Err(err).Msg("hotreload triggered reconfig")
		}
	})

	stopReporting := make(chan struct{})
	go reportMetrics(metrics, debug, stopReporting)

	jobScan := make(chan os.Signal, 1)
	reload := make(chan os.Signal, 1)
	shutdown := make(chan os.Signal, 1)
	signal.Notify(jobScan, syscall.SIGUSR1)
	signal.Notify(reload, syscall.SIGHUP)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	scanTicker := time.NewTicker(10 * time.Second)
	defer scanTicker.Stop()

	for {
		select {
		case <-scanTicker.C:
			if err := sched.JobScan(); err != nil {
				log.Error().Err(err).Msg("periodic job scan")
			}
		case <-jobScan:
			if err := sched.JobScan(); err != nil {
				log.Error().Err(err).Msg("job scan")
			}
		case <-reload:
			log.Info().Msg("reloading snapshot")
			if err := topo.Reload(); err != nil {
				log.Error().Err(err).Msg("reload snapshot")
				continue
			}
			control.TriggerHotReloadSync()
		case sig := <-shutdown:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			close(stopReporting)
			return
		}
	}
}

func parseGranularity(s string) (gang.GranularityType, error) {
	switch s {
	case "node":
		return gang.GrNode, nil
	case "cpu":
		return gang.GrCPU, nil
	case "socket":
		return gang.GrSocket, nil
	case "core":
		return gang.GrCore, nil
	default:
		return 0, &granularityError{s}
	}
}

type granularityError struct{ value string }

func (e *granularityError) Error() string {
	return "gang: unknown granularity " + e.value + " (want node, cpu, socket, or core)"
}

func reportMetrics(metrics *control.MetricsRegistry, debug *control.DebugProbes, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for k, v := range debug.DumpState() {
				metrics.Set(k, v)
			}
			byCat := metrics.ByCategory()
			log.Debug().
				Int("gang_metrics", len(byCat[control.CategoryGang])).
				Int("platform_metrics", len(byCat[control.CategoryPlatform])).
				Msg("metrics snapshot")
		}
	}
}
