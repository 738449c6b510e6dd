// Package app aggregates every matterbridge subsystem into a single
// runnable unit: the Device Registry, Process Executor, Command Gateway,
// Commissioning Orchestrator, Polling Engine, Notification Fan-Out, MQTT
// Controller, and HTTP API Server, wired together in dependency order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bdobrica/matterbridge/internal/matterbridge/commission"
	"github.com/bdobrica/matterbridge/internal/matterbridge/config"
	"github.com/bdobrica/matterbridge/internal/matterbridge/datamodel"
	"github.com/bdobrica/matterbridge/internal/matterbridge/executor"
	"github.com/bdobrica/matterbridge/internal/matterbridge/fanout"
	"github.com/bdobrica/matterbridge/internal/matterbridge/gateway"
	"github.com/bdobrica/matterbridge/internal/matterbridge/httpapi"
	"github.com/bdobrica/matterbridge/internal/matterbridge/mqtt"
	"github.com/bdobrica/matterbridge/internal/matterbridge/polling"
	"github.com/bdobrica/matterbridge/internal/matterbridge/registry"
	"github.com/bdobrica/matterbridge/internal/matterbridge/types"
)

// App owns every subsystem's lifetime.
type App struct {
	cfg *config.Config

	reg  *registry.Registry
	gw   *gateway.Gateway
	orch *commission.Orchestrator
	poll *polling.Engine
	hub  *fanout.Hub
	mq   *mqtt.Controller
	http *httpapi.Server
}

// New constructs every subsystem in dependency order: Registry first (it
// backs everything else), then the Process Executor, the Notification
// Fan-Out, the Polling Engine (which implements gateway.PollPauser), the
// Command Gateway, the Commissioning Orchestrator, the MQTT Controller, and
// finally the HTTP API Server that fronts them all.
func New(cfg *config.Config) (*App, error) {
	reg, err := registry.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: open registry: %w", err)
	}

	dict := datamodel.NewStatic()

	exec := executor.New(executor.Config{
		ChipToolPath:   cfg.ChipToolPath,
		MaxConcurrent:  cfg.MaxConcurrentDevices,
		CommandTimeout: cfg.CommandTimeout,
	})

	hub := fanout.NewHub()

	// mqChanged is filled in once the MQTT Controller (which needs the
	// Command Gateway, built after the Polling Engine) exists; the Polling
	// Engine's notify callback calls through it so both fan-outs see every
	// change regardless of construction order.
	var mqChanged func(types.Device, []types.Attribute)

	poll := polling.New(polling.Config{
		PollingInterval:       cfg.PollingInterval,
		MaxConcurrentDevices:  cfg.MaxConcurrentDevices,
		DeviceErrorStop:       cfg.DeviceErrorStop,
		AutoDiscoveryInterval: cfg.AutoDiscoveryInterval,
	}, reg, polling.NewExecReader(exec, dict, reg), func(d types.Device, changed []types.Attribute) {
		hub.OnAttributesChanged(d, changed)
		if mqChanged != nil {
			mqChanged(d, changed)
		}
	})

	gw := gateway.New(exec, dict, poll)
	orch := commission.New(gw, reg)

	var mq *mqtt.Controller
	if cfg.MQTTBrokerURL != "" {
		mq = mqtt.New(mqtt.Config{
			BrokerURL: fmt.Sprintf("%s:%d", cfg.MQTTBrokerURL, cfg.MQTTBrokerPort),
			ClientID:  "matterbridge",
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
		}, gw, reg, dict)
		mqChanged = mq.OnAttributesChanged
	}

	httpSrv, err := httpapi.New(reg, gw, orch, dict, hub)
	if err != nil {
		reg.Close()
		return nil, fmt.Errorf("app: build http server: %w", err)
	}

	return &App{
		cfg:  cfg,
		reg:  reg,
		gw:   gw,
		orch: orch,
		poll: poll,
		hub:  hub,
		mq:   mq,
		http: httpSrv,
	}, nil
}

// Run starts every subsystem's goroutine and blocks until an interrupt or
// SIGTERM arrives (or a subsystem fails outright). Call Stop after Run
// returns to release the resources New acquired.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 3)

	go func() {
		if err := a.poll.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("app: polling engine: %w", err)
		}
	}()

	if a.mq != nil {
		go func() {
			if err := a.mq.Start(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("app: mqtt controller: %w", err)
			}
		}()
	}

	go func() {
		if err := httpapi.Serve(ctx, a.cfg.HTTPAddr, a.http); err != nil {
			errCh <- fmt.Errorf("app: http server: %w", err)
		}
	}()

	slog.Info("app: matterbridge running", "http_addr", a.cfg.HTTPAddr)

	select {
	case <-ctx.Done():
		slog.Info("app: shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop releases the resources Run's subsystems were using. Call it after Run
// returns, mirroring the defer-Stop/call-Run pairing in cmd/matterbridge.
func (a *App) Stop() {
	slog.Info("app: closing registry")
	a.reg.Close()
}
