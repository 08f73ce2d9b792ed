// Command ipcpd runs a single IPC process: it loads configuration,
// constructs the Core API (internal/ipcp), optionally dials a peer
// over a UDP shim, and serves Prometheus metrics until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/samsneelam1981/rlite-go/internal/config"
	"github.com/samsneelam1981/rlite-go/internal/ipcp"
	"github.com/samsneelam1981/rlite-go/internal/logging"
	"github.com/samsneelam1981/rlite-go/internal/shimudp"
)

var (
	appName    = "ipcpd"
	appVersion = "dev" // injected at build time via -ldflags
)

// parsedArgs holds the parsed command line arguments.
type parsedArgs struct {
	address     uint64
	logLevel    string
	metricsAddr string
	peerListen  string
	peerDial    string
}

func main() {
	args, action := parseFlagsWithArgs(os.Args[1:])
	if action != "" {
		return
	}
	if err := run(args); err != nil {
		logging.Default().Fatal(err)
	}
}

func parseFlagsWithArgs(args []string) (parsedArgs, string) {
	fs := pflag.NewFlagSet("ipcpd", pflag.ContinueOnError)
	address := fs.Uint64("address", 0, "this IPC process's own address (0 uses config/env default)")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	metricsAddr := fs.String("metrics-listen", "", "Prometheus /metrics listen address")
	peerListen := fs.String("peer-listen", "", "local host:port for the UDP shim lower flow")
	peerDial := fs.String("peer-dial", "", "remote host:port to dial for the UDP shim lower flow")
	help := fs.BoolP("help", "h", false, "show help")
	version := fs.Bool("version", false, "show version")

	if err := fs.Parse(args); err != nil {
		return parsedArgs{}, "error"
	}

	if *help {
		fmt.Println(fs.FlagUsages())
		return parsedArgs{}, "help"
	}
	if *version {
		fmt.Printf("%s %s\n", appName, appVersion)
		return parsedArgs{}, "version"
	}

	return parsedArgs{
		address:     *address,
		logLevel:    *logLevel,
		metricsAddr: *metricsAddr,
		peerListen:  *peerListen,
		peerDial:    *peerDial,
	}, ""
}

func run(args parsedArgs) error {
	cfg, err := config.LoadWithOverrides(config.LoadOptions{
		Address:     args.address,
		LogLevel:    args.logLevel,
		MetricsAddr: args.metricsAddr,
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.SetLevelFromString(cfg.Logging.Level)

	flavour, err := cfg.Flavour()
	if err != nil {
		return err
	}

	proc := ipcp.New(cfg.IPCP.Address, flavour)

	if args.peerListen != "" && args.peerDial != "" {
		peer, err := shimudp.Dial(args.peerListen, args.peerDial, 0, proc.SDURx)
		if err != nil {
			return fmt.Errorf("dialing peer shim: %w", err)
		}
		defer peer.Close()
		proc.PDUFTSet(peer.Address(), peer)
		logging.Default().WithFields(map[string]interface{}{
			"local": args.peerListen, "remote": args.peerDial,
		}).Info("UDP shim lower flow established")
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(proc.Metrics); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}

	logging.Default().WithFields(map[string]interface{}{
		"address": cfg.IPCP.Address, "metrics": cfg.Metrics.ListenAddr,
	}).Info("ipcpd starting")

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- server.ListenAndServe() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logging.Default().Info("shutting down")
		return server.Shutdown(context.Background())
	case err := <-serveErrCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
