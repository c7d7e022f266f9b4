package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cesanta/errors"
	"github.com/golang/glog"
	flag "github.com/spf13/pflag"

	"github.com/riscv-debug/bridge/bridge"
	"github.com/riscv-debug/bridge/config"
)

var (
	configPath   = flag.String("config", "", "Path to the bridge's JSON configuration file")
	rspPort      = flag.Int("rsp-port", 0, "Override the configured RSP listener port (0: use config value)")
	rawPort      = flag.Int("raw-port", 0, "Override the configured raw memory request listener port (0: use config value)")
	capabilities = flag.String("capabilities", "", "Override the configured qSupported capabilities string")
)

func run() error {
	if *configPath == "" {
		return errors.Errorf("-config is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return errors.Annotatef(err, "loading config")
	}
	if *rspPort != 0 {
		cfg.Listeners.RSPPort = *rspPort
	}
	if *rawPort != 0 {
		cfg.Listeners.RawPort = *rawPort
	}
	if *capabilities != "" {
		cfg.Capabilities = *capabilities
	}

	b, err := bridge.New(cfg, bridge.Callbacks{Capabilities: cfg.Capabilities})
	if err != nil {
		return errors.Annotatef(err, "building bridge")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		glog.Infof("dbgbridged: caught signal, shutting down")
		cancel()
	}()

	glog.Infof("dbgbridged: serving RSP on :%d, raw memory requests on :%d", cfg.Listeners.RSPPort, cfg.Listeners.RawPort)
	if err := b.Run(ctx); err != nil && err != context.Canceled {
		return errors.Annotatef(err, "bridge run")
	}
	return nil
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		glog.Errorf("dbgbridged: %+v", err)
		glog.Flush()
		os.Exit(1)
	}
}
