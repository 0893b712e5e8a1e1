package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmharte/secprobe/pkg/config"
	"github.com/jmharte/secprobe/pkg/probe"
	"github.com/jmharte/secprobe/pkg/reach"
	"github.com/jmharte/secprobe/pkg/runner"
	"github.com/jmharte/secprobe/pkg/transport"
	"github.com/jmharte/secprobe/pkg/transport/dcom"
	"github.com/jmharte/secprobe/pkg/transport/wsman"
	"github.com/sirupsen/logrus"
)

// passwordEnv is read for the single-host mode when -user is given.
const passwordEnv = "SECPROBE_PASSWORD"

func main() {
	var (
		configPath = flag.String("config", "", "YAML sweep configuration; when set, -host and credential flags are ignored")
		host       = flag.String("host", "", "single host to probe (default: local hostname)")
		user       = flag.String("user", "", "account for the target; password read from $"+passwordEnv+" (default: ambient identity)")
		kind       = flag.String("transport", string(transport.DefaultKind), "management transport: dcom or wsman")
		ping       = flag.Bool("ping", false, "require the host to answer an echo request before connecting")
		resolver   = flag.String("resolver", "", "DNS server used by the reachability check (host or host:port)")
		timeout    = flag.Duration("timeout", transport.DefaultTimeout, "per-query timeout")
		port       = flag.Int("port", 0, "transport port override (default: the transport's own)")
		tls        = flag.Bool("tls", false, "use the encrypted wsman endpoint")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tuning := transport.Options{Timeout: *timeout, Port: *port, TLS: *tls}
	if err := run(ctx, log, *configPath, *host, *user, *kind, *ping, *resolver, tuning); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logrus.Logger, configPath, host, user, kind string, ping bool, resolver string, tuning transport.Options) error {
	transports := transport.NewRegistry()
	if err := transports.Register(dcom.Kind, dcom.Open); err != nil {
		return err
	}
	if err := transports.Register(wsman.Kind, wsman.Open); err != nil {
		return err
	}

	var reachOpts []reach.Option
	if resolver != "" {
		reachOpts = append(reachOpts, reach.WithResolver(resolver))
	}
	pinger, err := reach.New(reachOpts...)
	if err != nil {
		return err
	}

	if configPath != "" {
		return runSweep(ctx, log, transports, pinger, configPath)
	}

	prober, err := probe.New(transports,
		probe.WithLogger(log),
		probe.WithPinger(pinger),
		probe.WithTransportOptions(tuning),
	)
	if err != nil {
		return err
	}
	return runSingle(ctx, prober, host, user, kind, ping)
}

// runSingle probes one host and writes its record to stdout.
func runSingle(ctx context.Context, prober *probe.Prober, host, user, kind string, ping bool) error {
	if host == "" {
		name, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("no host given and hostname lookup failed: %w", err)
		}
		host = name
	}

	params := probe.Params{
		Host:              host,
		Transport:         transport.Kind(kind),
		CheckReachability: ping,
	}
	if user != "" {
		params.Credentials = &transport.Credentials{
			Username: user,
			Password: os.Getenv(passwordEnv),
		}
	}

	rec, err := prober.Run(ctx, params)
	if err != nil {
		return err
	}
	return writeJSON(rec)
}

// runSweep probes every host in the config file and writes one
// outcome per host to stdout.
func runSweep(ctx context.Context, log *logrus.Logger, transports *transport.Registry, pinger probe.Pinger, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	targets, err := cfg.Targets()
	if err != nil {
		return err
	}

	if cfg.Resolver != "" {
		pinger, err = reach.New(reach.WithResolver(cfg.Resolver))
		if err != nil {
			return err
		}
	}

	prober, err := probe.New(transports,
		probe.WithLogger(log),
		probe.WithPinger(pinger),
		probe.WithTransportOptions(cfg.TransportOptions()),
	)
	if err != nil {
		return err
	}

	opts := []runner.Option{
		runner.WithWorkers(cfg.Sweep.Workers),
		runner.WithLogger(log),
	}
	if cfg.Sweep.RatePerSecond > 0 {
		opts = append(opts, runner.WithRateLimit(cfg.Sweep.RatePerSecond, cfg.Sweep.Burst))
	}
	r, err := runner.New(prober, opts...)
	if err != nil {
		return err
	}

	outcomes := r.Run(ctx, targets)

	type sweepResult struct {
		Host   string        `json:"host"`
		Record *probe.Record `json:"record,omitempty"`
		Error  string        `json:"error,omitempty"`
	}
	results := make([]sweepResult, 0, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		sr := sweepResult{Host: o.Host, Record: o.Record}
		if o.Err != nil {
			sr.Error = o.Err.Error()
			failed++
		}
		results = append(results, sr)
	}

	if err := writeJSON(results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d hosts failed", failed, len(outcomes))
	}
	return nil
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
