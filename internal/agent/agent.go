// Package agent runs the device side of labwatch: it bootstraps against the
// server, keeps the relay connection open and routes what arrives to the
// input bridge and the screencast producer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"labwatch/internal/bridge"
	"labwatch/internal/config"
	"labwatch/internal/domain"
	"labwatch/internal/input"
	"labwatch/internal/network"
	"labwatch/internal/protocol"
	"labwatch/internal/screencast"
	"labwatch/internal/ui"
)

const defaultServerPort = 8080

// Agent wires one lab machine to the relay.
type Agent struct {
	cfgMgr   *config.Manager
	injector input.Injector
	capturer screencast.Capturer
	retry    time.Duration

	bridge   *bridge.Bridge
	api      *network.APIClient
	ws       *network.WSClient
	producer *screencast.Producer
	ui       *ui.Server
	uiURL    string

	stopOnce sync.Once
}

// Option configures an Agent.
type Option func(*Agent)

// WithInjector replaces the desktop injector.
func WithInjector(inj input.Injector) Option {
	return func(a *Agent) { a.injector = inj }
}

// WithCapturer replaces the screen capturer.
func WithCapturer(c screencast.Capturer) Option {
	return func(a *Agent) { a.capturer = c }
}

// WithRetryInterval sets the relay reconnect delay.
func WithRetryInterval(d time.Duration) Option {
	return func(a *Agent) { a.retry = d }
}

// New creates an agent from the current configuration.
func New(cfgMgr *config.Manager, opts ...Option) *Agent {
	a := &Agent{cfgMgr: cfgMgr}
	for _, opt := range opts {
		opt(a)
	}

	cfg := cfgMgr.Get()
	if a.injector == nil {
		if cfg.Agent.InjectInput {
			a.injector = input.NewInjector()
		} else {
			log.Printf("Agent: input injection disabled, recording only")
			a.injector = input.NewRecorder(1920, 1080)
		}
	}
	if a.capturer == nil {
		a.capturer = screencast.NewScreenCapturer()
	}
	return a
}

// Bridge returns the input bridge. It is nil until Start succeeds.
func (a *Agent) Bridge() *bridge.Bridge {
	return a.bridge
}

// UIURL returns the local UI address, if it is running.
func (a *Agent) UIURL() string {
	return a.uiURL
}

// Start bootstraps the device and connects to the relay. It fails when the
// device cannot be identified or is not registered with the server.
func (a *Agent) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()

	hw, err := a.hardwareAddress(cfg)
	if err != nil {
		return err
	}

	serverAddr, err := a.serverAddr(ctx, cfg)
	if err != nil {
		return err
	}
	log.Printf("Agent: hardware address %s, server %s", hw, serverAddr)

	a.api = network.NewAPIClient(serverAddr, cfg.General.DeviceToken)
	deviceID, err := a.api.ResolveDeviceID(ctx, hw)
	if err != nil {
		return fmt.Errorf("resolve device %s: %w", hw, err)
	}

	a.bridge = bridge.New(a.injector, hw)
	a.bridge.SetDeviceID(deviceID)

	user, err := a.api.ActiveUser(ctx, hw)
	switch {
	case err == nil:
		a.bridge.SetBoundUser(user.ID, user.Name)
	case errors.Is(err, domain.ErrUnauthenticated):
		// nobody checked in
	default:
		log.Printf("Agent: failed to fetch active user: %v", err)
	}

	if cfg.Agent.PowerReport {
		if err := a.api.ReportPower(ctx, hw, domain.PowerOn); err != nil {
			log.Printf("Agent: power report failed: %v", err)
		}
	}

	a.ws = network.NewWSClient(serverAddr, cfg.General.DeviceToken, hw)
	if a.retry > 0 {
		a.ws.SetRetryInterval(a.retry)
	}
	a.producer = screencast.NewProducer(a.capturer, a.ws,
		screencast.WithInterval(cfg.ScreencastInterval()),
		screencast.WithQuality(cfg.Screencast.Quality),
	)
	a.ws.OnConnect = a.onConnect
	a.ws.OnDisconnect = a.onDisconnect
	a.ws.OnMessage = a.onMessage
	a.ws.Start()

	if cfg.General.UIEnabled {
		a.ui = ui.NewServer(a.cfgMgr, a.bridge)
		url, err := a.ui.Start(cfg.General.UIAddr, false)
		if err != nil {
			log.Printf("Agent: local UI unavailable: %v", err)
			a.ui = nil
		} else {
			a.uiURL = url
			log.Printf("Agent: local UI at %s", url)
		}
	}
	return nil
}

func (a *Agent) hardwareAddress(cfg *config.Config) (string, error) {
	if cfg.Agent.HardwareAddress != "" {
		return domain.NormalizeHardwareAddress(cfg.Agent.HardwareAddress), nil
	}
	return network.HardwareAddress()
}

// serverAddr returns the configured server or the first one found on the
// local network.
func (a *Agent) serverAddr(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.General.ServerAddr != "" {
		return cfg.General.ServerAddr, nil
	}

	port := defaultServerPort
	if _, p, err := net.SplitHostPort(cfg.General.ListenAddr); err == nil {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			port = n
		}
	}

	log.Printf("Agent: no server configured, scanning LAN on port %d", port)
	servers, err := network.ScanLAN(ctx, port)
	if err != nil {
		return "", fmt.Errorf("discover server: %w", err)
	}
	if len(servers) == 0 {
		return "", fmt.Errorf("discover server: %w", domain.ErrTransportDisconnected)
	}
	return servers[0].Addr(), nil
}

func (a *Agent) onConnect() {
	a.bridge.SetConnected(true)
	deviceID := a.bridge.DeviceID()

	join, _ := protocol.NewMessage(protocol.TypeJoin, deviceID, nil)
	if err := a.ws.SendMessage(join); err != nil {
		log.Printf("Agent: join failed: %v", err)
	}

	size, err := a.bridge.ScreenSize()
	if err != nil {
		log.Printf("Agent: screen size unavailable: %v", err)
		return
	}
	msg, err := protocol.NewMessage(protocol.TypeScreenSize, deviceID, protocol.ScreenSizePayload{
		Width:  int(size.Width),
		Height: int(size.Height),
	})
	if err != nil {
		return
	}
	if err := a.ws.SendMessage(msg); err != nil {
		log.Printf("Agent: screen size announce failed: %v", err)
	}
}

func (a *Agent) onDisconnect() {
	a.producer.StopAll()
	a.bridge.SetConnected(false)
}

func (a *Agent) onMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeScreencastStart:
		a.producer.Start(a.bridge.DeviceID())
	case protocol.TypeScreencastStop:
		a.producer.Stop(a.bridge.DeviceID())
	default:
		if err := a.bridge.Handle(msg); err != nil {
			log.Printf("Agent: %s failed: %v", msg.Type, err)
		}
	}
}

// Stop ends the screencast, signs the device out and reports power off.
func (a *Agent) Stop(ctx context.Context) {
	a.stopOnce.Do(func() {
		if a.producer != nil {
			a.producer.StopAll()
		}
		if a.ws != nil {
			a.ws.Close()
		}
		if a.api != nil && a.bridge != nil {
			hw := a.bridge.HardwareAddress()
			if err := a.api.ForceLogout(ctx, hw); err != nil {
				log.Printf("Agent: logout on shutdown failed: %v", err)
			}
			if a.cfgMgr.Get().Agent.PowerReport {
				if err := a.api.ReportPower(ctx, hw, domain.PowerOff); err != nil {
					log.Printf("Agent: power report failed: %v", err)
				}
			}
		}
		if a.ui != nil {
			if err := a.ui.Stop(ctx); err != nil {
				log.Printf("Agent: local UI shutdown: %v", err)
			}
		}
	})
}

// StatusLines renders bridge state for the tray menu.
func StatusLines(s bridge.State) (device, user string) {
	device = "Device: unregistered"
	if s.DeviceID != "" {
		device = "Device: " + s.DeviceID
	}
	if !s.Connected {
		device += " (offline)"
	}

	user = "User: none"
	switch {
	case s.BoundUserName != "":
		user = "User: " + s.BoundUserName
	case s.BoundUser != "":
		user = "User: " + s.BoundUser
	}
	return device, user
}
