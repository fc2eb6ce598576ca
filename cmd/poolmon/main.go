package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lathiat/poolmon/config"
	"github.com/lathiat/poolmon/director"
	"github.com/lathiat/poolmon/logger"
	"github.com/lathiat/poolmon/monitor"
	"github.com/lathiat/poolmon/probe"
	"github.com/lathiat/poolmon/scanner"
	"github.com/lathiat/poolmon/statusapi"
	"github.com/lathiat/poolmon/weights"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg := config.NewDefaultConfig()

	// Parse command-line flags
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", "poolmon.toml", "Path to TOML configuration file")
	socket := flag.String("socket", "", "Director admin socket address (overrides config)")
	interval := flag.String("interval", "", "Time between scan cycles (overrides config)")
	timeout := flag.String("timeout", "", "Wall-clock deadline per port probe (overrides config)")
	weightsFile := flag.String("weights", "", "Path to the enable-weight table file (overrides config)")
	credentialsFile := flag.String("credentials", "", "Path to the login credentials file (overrides config)")
	logOutput := flag.String("logoutput", "", "Log output: stderr, stdout, syslog, or a file path (overrides config)")
	logLevel := flag.String("loglevel", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("poolmon version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	loadConfig(*configPath, &cfg)

	// Command-line flags override file settings
	if *socket != "" {
		cfg.Director.Socket = *socket
	}
	if *interval != "" {
		cfg.Scan.Interval = *interval
	}
	if *timeout != "" {
		cfg.Scan.Timeout = *timeout
	}
	if *weightsFile != "" {
		cfg.Weights.File = *weightsFile
	}
	if *credentialsFile != "" {
		cfg.Credentials.File = *credentialsFile
	}
	if *logOutput != "" {
		cfg.Logging.Output = *logOutput
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "POOLMON: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "POOLMON: Warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer func(f *os.File) {
			fmt.Fprintf(os.Stderr, "POOLMON: Closing log file %s\n", f.Name())
			if err := f.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "POOLMON: Error closing log file %s: %v\n", f.Name(), err)
			}
		}(logFile)
	}

	logger.Infof("poolmon starting (version %s, commit: %s, built: %s)", version, commit, date)
	logger.Infof("Logging format: %s, level: %s", cfg.Logging.Format, cfg.Logging.Level)

	// Durations were checked by Validate
	directorTimeout, _ := cfg.Director.GetTimeout()
	scanInterval, _ := cfg.Scan.GetInterval()
	scanTimeout, _ := cfg.Scan.GetTimeout()

	plainSpecs, err := probe.ParsePortSpecs(cfg.Scan.Ports, false)
	if err != nil {
		logger.Fatalf("Invalid scan.ports: %v", err)
	}
	tlsSpecs, err := probe.ParsePortSpecs(cfg.Scan.TLSPorts, true)
	if err != nil {
		logger.Fatalf("Invalid scan.tls_ports: %v", err)
	}

	// A credentials file that cannot be read downgrades probes to
	// banner-only checks rather than stopping the daemon.
	var creds *probe.Credentials
	if cfg.Credentials.File != "" {
		username, password, err := config.LoadCredentialsFile(cfg.Credentials.File)
		if err != nil {
			logger.Warnf("Failed to load credentials from %s, probing without login: %v", cfg.Credentials.File, err)
		} else {
			creds = &probe.Credentials{Username: username, Password: password}
			logger.Infof("Authenticated probes enabled for user '%s'", username)
		}
	}

	weightTable := weights.NewTable(cfg.Weights.File)
	if err := weightTable.Reload(); err != nil {
		logger.Fatalf("Failed to load weight table from %s: %v", cfg.Weights.File, err)
	}

	scan := scanner.New(plainSpecs, tlsSpecs, probe.Options{
		Timeout:     scanTimeout,
		Credentials: creds,
		TLSVerify:   cfg.Scan.TLSVerify,
	})
	client := director.New(cfg.Director.Socket, directorTimeout)
	mon := monitor.New(client, scan, weightTable, scanInterval)

	// Set up context and signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range signalChan {
			if sig == syscall.SIGHUP {
				logger.Infof("Received signal: %s, reloading weight table...", sig)
				mon.Reload()
				continue
			}
			logger.Infof("Received signal: %s, shutting down...", sig)
			cancel()
			return
		}
	}()

	logger.Infof("Monitoring director %s: %d plaintext port(s), %d TLS port(s), interval %s",
		cfg.Director.Socket, len(plainSpecs), len(tlsSpecs), scanInterval)

	if err := mon.Start(ctx); err != nil {
		logger.Fatalf("Failed to start pool monitor: %v", err)
	}
	defer mon.Stop()

	errChan := make(chan error, 1)
	if cfg.Status.Start {
		go statusapi.Start(ctx, mon, statusapi.ServerOptions{
			Addr:        cfg.Status.Addr,
			MetricsPath: cfg.Status.MetricsPath,
		}, errChan)
	}

	// Wait for shutdown signal or a status server failure
	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-errChan:
		logger.Errorf("Status server error: %v", err)
		cancel()
	}
}

// loadConfig loads configuration from the TOML file. A missing file at the
// default path falls back to application defaults; an explicitly given path
// that cannot be read is fatal.
func loadConfig(configPath string, cfg *config.Config) {
	if err := config.LoadConfigFromFile(configPath, cfg); err != nil {
		if os.IsNotExist(err) {
			if configPath == "poolmon.toml" {
				logger.Infof("WARNING: default configuration file '%s' not found. Using application defaults.", configPath)
				return
			}
			fmt.Fprintf(os.Stderr, "POOLMON: configuration file '%s' not found\n", configPath)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "POOLMON: failed to load configuration from '%s': %v\n", configPath, err)
		os.Exit(1)
	}
	logger.Infof("loaded configuration from %s", configPath)
}
