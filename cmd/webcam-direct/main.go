// Command webcam-direct runs the host: it advertises the provisioning
// GATT service, drives each connecting mobile through registration and
// SDP exchange, and exposes the negotiated camera streams as virtual
// capture devices.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/currantlabs/ble"
	"github.com/currantlabs/ble/examples/lib/dev"
	"github.com/pkg/errors"

	"github.com/user/webcam-direct/comm"
	"github.com/user/webcam-direct/config"
	"github.com/user/webcam-direct/gatt"
	"github.com/user/webcam-direct/logger"
	"github.com/user/webcam-direct/session"
	"github.com/user/webcam-direct/store"
	"github.com/user/webcam-direct/vdevice"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: built-in defaults)")
	device := flag.String("device", "default", "ble device implementation")
	logLevel := flag.String("log-level", "", "override configured log level")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config: %v", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	st, err := store.Open(cfg.DataDir, cfg.StoreFile)
	if err != nil {
		fatal("opening data store: %v", err)
	}

	builder, err := vdevice.NewBuilder()
	if err != nil {
		fatal("creating virtual device builder: %v", err)
	}

	disp := comm.NewDispatcher(session.New(st, builder), comm.Options{
		QueueSize:           cfg.RequestQueueSize,
		BufferSizeLimit:     cfg.BufferSizeLimit,
		SubscriberQueueSize: cfg.SubscriberQueueSize,
	})
	defer disp.Close()

	d, err := dev.NewDevice(*device)
	if err != nil {
		fatal("opening ble device: %v", err)
	}
	ble.SetDefaultDevice(d)

	svc := gatt.NewProvisioningService(disp.Requester())
	if err := ble.AddService(svc); err != nil {
		fatal("adding provisioning service: %v", err)
	}

	logger.Info("main", "advertising %q, ctrl-c to quit", cfg.DeviceName)
	ctx := ble.WithSigHandler(context.WithCancel(context.Background()))
	err = ble.AdvertiseNameAndServices(ctx, cfg.DeviceName, svc.UUID)
	switch errors.Cause(err) {
	case nil, context.Canceled:
		logger.Info("main", "stopped")
	default:
		fatal("advertising: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
