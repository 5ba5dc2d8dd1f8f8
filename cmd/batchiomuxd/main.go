// Command batchiomuxd is a per-node IO-MUX daemon: it execs one task,
// wires its stdin/stdout/stderr into a Coordinator, and accepts client
// connections on a Unix socket that fan task output out and relay stdin
// back in (spec.md §4.6).
package main

import (
	"crypto/rand"
	"flag"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/clustercore/batchcore/control"
	"github.com/clustercore/batchcore/iomux"
	"github.com/clustercore/batchcore/logx"
	"github.com/clustercore/batchcore/reactor"
)

// takeFD duplicates f's file descriptor and closes f, so the caller owns
// an independent fd the Go runtime's pipe finalizer and os/exec's own
// bookkeeping will never close out from under the reactor.
func takeFD(f *os.File) (int, error) {
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		f.Close()
		return 0, err
	}
	f.Close()
	return fd, nil
}

var log = logx.For("batchiomuxd")

func main() {
	listenPath := flag.String("listen", "/tmp/batchiomuxd.sock", "unix socket path clients attach to")
	nodeID := flag.Uint("nodeid", 0, "node id reported in the client init message")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		log.Fatal().Msg("usage: batchiomuxd [flags] -- <task command> [args...]")
	}

	cfg := control.NewConfigStore()
	debug := control.NewDebugProbes()
	metrics := control.NewMetricsRegistry()
	control.RegisterPlatformProbes(debug)

	opts := iomux.DefaultOptions()
	opts.NodeID = uint32(*nodeID)
	if _, err := rand.Read(opts.CredSig[:]); err != nil {
		log.Fatal().Err(err).Msg("generate credential signature")
	}

	r, err := reactor.New()
	if err != nil {
		log.Fatal().Err(err).Msg("construct reactor")
	}
	coord := iomux.NewCoordinator(r, opts)

	// Pipes are created by hand, SLURM-io-style, rather than via
	// exec.Cmd's StdinPipe/StdoutPipe helpers: those hand ownership of
	// the parent-side fd to Cmd.Wait, which conflicts with the
	// reactor's direct syscall-level ownership of the same fd.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		log.Fatal().Err(err).Msg("task stdin pipe")
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		log.Fatal().Err(err).Msg("task stdout pipe")
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		log.Fatal().Err(err).Msg("task stderr pipe")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		log.Fatal().Err(err).Msg("start task")
	}
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Info().Err(err).Msg("task exited")
		}
	}()

	const gtaskID, ltaskID = 1, 1
	stdinFD, err := takeFD(stdinW)
	if err != nil {
		log.Fatal().Err(err).Msg("take stdin fd")
	}
	if err := coord.AttachTaskStdin(gtaskID, stdinFD); err != nil {
		log.Fatal().Err(err).Msg("attach task stdin")
	}
	stdoutFD, err := takeFD(stdoutR)
	if err != nil {
		log.Fatal().Err(err).Msg("take stdout fd")
	}
	if err := coord.AttachTaskStdout(gtaskID, ltaskID, stdoutFD); err != nil {
		log.Fatal().Err(err).Msg("attach task stdout")
	}
	stderrFD, err := takeFD(stderrR)
	if err != nil {
		log.Fatal().Err(err).Msg("take stderr fd")
	}
	if err := coord.AttachTaskStderr(gtaskID, ltaskID, stderrFD); err != nil {
		log.Fatal().Err(err).Msg("attach task stderr")
	}

	os.Remove(*listenPath)
	ln, err := net.Listen("unix", *listenPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *listenPath).Msg("listen")
	}
	defer ln.Close()

	go acceptClients(ln, coord)

	control.RegisterIOMuxProbes(debug, coord)
	debug.RegisterProbe("socket.path", func() any { return *listenPath })
	cfg.SetIOMuxOptions(opts)
	cfg.OnReload(func() { log.Info().Msg("config reload observed") })

	stopReporting := make(chan struct{})
	go reportMetrics(metrics, debug, stopReporting)

	shutdown := make(chan os.Signal, 1)
	reload := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	signal.Notify(reload, syscall.SIGHUP)

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run() }()

	for {
		select {
		case <-reload:
			cfg.SetConfig(cfg.GetSnapshot())
		case sig := <-shutdown:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			close(stopReporting)
			_ = coord.Shutdown()
			r.Shutdown()
			<-runErr
			_ = cmd.Process.Signal(syscall.SIGTERM)
			return
		case err := <-runErr:
			if err != nil {
				log.Error().Err(err).Msg("reactor run exited")
			}
			close(stopReporting)
			return
		}
	}
}

func acceptClients(ln net.Listener, coord *iomux.Coordinator) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		unixConn, ok := conn.(*net.UnixConn)
		if !ok {
			conn.Close()
			continue
		}
		raw, err := unixConn.File()
		if err != nil {
			conn.Close()
			continue
		}
		if _, err := coord.AttachClient(int(raw.Fd())); err != nil {
			log.Warn().Err(err).Msg("attach client failed")
			raw.Close()
		}
	}
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
				Int("iomux_metrics", len(byCat[control.CategoryIOMux])).
				Int("platform_metrics", len(byCat[control.CategoryPlatform])).
				Msg("metrics snapshot")
		}
	}
}
