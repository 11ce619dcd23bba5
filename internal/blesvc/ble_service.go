// Package blesvc maintains the BLE connection to the Zwift Ride left
// controller through the BlueZ DBus API and publishes raw notification
// payloads to the bus. It owns connection lifecycle only; payloads are
// opaque here and decoded downstream.
package blesvc

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/godbus/dbus/v5"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/GuiPerPT/zwift-ride-keytrigger/pkg/bus"
)

// Zwift Ride GATT identity. The measurement characteristic notifies
// button/analog frames, control takes the handshake write, response
// notifies UTF-8 status strings.
const (
	RideServiceUUID     = "0000fc82-0000-1000-8000-00805f9b34fb"
	measurementCharUUID = "00000002-19ca-4651-86e5-fa29dcdd09d1"
	controlCharUUID     = "00000003-19ca-4651-86e5-fa29dcdd09d1"
	responseCharUUID    = "00000004-19ca-4651-86e5-fa29dcdd09d1"

	rideName       = "Zwift Ride"
	manufacturerID = 0x094a
	leftDeviceID   = 0x08

	handshake = "RideOn"
)

type EventType uint8

const (
	EventConnected EventType = iota
	EventNotification
	EventResponse
	EventDisconnected
)

// Event is one transport occurrence for a controller address. Payload
// is set for notifications and responses.
type Event struct {
	Type    EventType
	Payload []byte
}

type (
	TransportBus       = bus.Bus[string, Event]
	TransportPublisher = bus.Publisher[Event]
)

type Config struct {
	Adapter     string
	Address     string
	ScanTimeout time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Adapter == "" {
		c.Adapter = "hci0"
	}
	if c.ScanTimeout == 0 {
		c.ScanTimeout = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 5 * time.Second
	}
	return c
}

type Service struct {
	log      *zap.Logger
	config   Config
	bus      *TransportBus
	registry *Registry

	conn      *dbus.Conn
	connected *atomic.Bool
	ready     chan struct{}
}

func New(log *zap.Logger, db *badger.DB, transportBus *TransportBus, config Config) *Service {
	return &Service{
		log:       log,
		config:    config.withDefaults(),
		bus:       transportBus,
		registry:  NewRegistry(db, time.Now),
		connected: atomic.NewBool(false),
		ready:     make(chan struct{}),
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Connected() bool {
	return s.connected.Load()
}

// Start connects to the controller and pumps notifications until the
// context ends. Scanning and connecting retry up to MaxAttempts; once a
// session has been established, a drop resets the attempt budget and
// reconnection begins again.
func (s *Service) Start(ctx context.Context) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system dbus: %w", err)
	}
	// The system bus connection is shared process-wide; it is not
	// closed on shutdown.
	s.conn = conn
	close(s.ready)

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		attempts++
		s.log.Info("Connection attempt",
			zap.Int("attempt", attempts),
			zap.Int("maxAttempts", s.config.MaxAttempts),
		)
		addr, err := s.resolveAddress(ctx, attempts)
		if err == nil {
			err = s.session(ctx, addr)
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			// Session ended after a successful connection; start over
			// with a fresh attempt budget.
			attempts = 0
		} else {
			s.log.Error("Connection failed", zap.Error(err))
			if attempts >= s.config.MaxAttempts {
				return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
			}
		}
		s.log.Info("Retrying", zap.Duration("delay", s.config.RetryDelay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.config.RetryDelay):
		}
	}
}

// resolveAddress picks the controller address: configuration wins, the
// first attempt then tries the last controller we connected to, and
// everything else scans.
func (s *Service) resolveAddress(ctx context.Context, attempt int) (string, error) {
	if s.config.Address != "" {
		return s.config.Address, nil
	}
	if attempt == 1 {
		if last, ok, err := s.registry.LastConnected(); err == nil && ok {
			s.log.Info("Trying last connected controller", zap.String("address", last.Address))
			return last.Address, nil
		}
	}
	found, err := s.scanForController(ctx)
	if err != nil {
		return "", err
	}
	if err := s.registry.Observe(found.Address, found.Name); err != nil {
		s.log.Warn("Failed to record controller", zap.Error(err))
	}
	return found.Address, nil
}

// session runs one full connection: connect, resolve characteristics,
// handshake, then pump notifications until the device drops or the
// context ends. A disconnect event is always published on the way out
// so the dispatcher can release held keys.
func (s *Service) session(ctx context.Context, address string) error {
	devicePath := deviceObjectPath(s.config.Adapter, address)
	publish := s.bus.CreatePublisher(address)

	if err := s.connectDevice(ctx, devicePath); err != nil {
		return err
	}
	defer s.disconnectDevice(devicePath)

	if err := s.waitServicesResolved(ctx, devicePath); err != nil {
		return err
	}
	chars, err := s.resolveCharacteristics(devicePath)
	if err != nil {
		return err
	}

	sigCh := make(chan *dbus.Signal, 64)
	s.conn.Signal(sigCh)
	defer s.conn.RemoveSignal(sigCh)

	for _, path := range []dbus.ObjectPath{chars.measurement, chars.response, devicePath} {
		if err := s.addPropertiesMatch(path); err != nil {
			return err
		}
		defer s.removePropertiesMatch(path)
	}
	for _, path := range []dbus.ObjectPath{chars.measurement, chars.response} {
		if err := s.startNotify(path); err != nil {
			return err
		}
		defer s.stopNotify(path)
	}

	if err := s.writeCharacteristic(chars.control, []byte(handshake)); err != nil {
		return fmt.Errorf("handshake write failed: %w", err)
	}
	s.log.Info("Connected to left controller", zap.String("address", address))
	if err := s.registry.MarkConnected(address); err != nil {
		s.log.Warn("Failed to record connection", zap.Error(err))
	}
	s.connected.Store(true)
	publish(ctx, Event{Type: EventConnected})

	defer func() {
		s.connected.Store(false)
		// Publish with a fresh context: the disconnect event must reach
		// the dispatcher even when the session context is already gone.
		pubCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		publish(pubCtx, Event{Type: EventDisconnected})
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-sigCh:
			if !ok {
				return fmt.Errorf("dbus signal channel closed")
			}
			if done, err := s.handleSignal(ctx, sig, devicePath, chars, publish); done {
				return err
			}
		}
	}
}

// handleSignal routes a PropertiesChanged signal. It reports done=true
// when the device dropped the connection.
func (s *Service) handleSignal(
	ctx context.Context,
	sig *dbus.Signal,
	devicePath dbus.ObjectPath,
	chars characteristics,
	publish TransportPublisher,
) (bool, error) {
	if sig.Name != dbusPropertiesIface+".PropertiesChanged" || len(sig.Body) < 2 {
		return false, nil
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false, nil
	}

	switch sig.Path {
	case devicePath:
		if v, ok := changed["Connected"]; ok {
			if connected, ok := v.Value().(bool); ok && !connected {
				s.log.Warn("Controller dropped the connection")
				return true, nil
			}
		}
	case chars.measurement:
		if payload, ok := changedValue(changed); ok {
			publish(ctx, Event{Type: EventNotification, Payload: payload})
		}
	case chars.response:
		if payload, ok := changedValue(changed); ok {
			publish(ctx, Event{Type: EventResponse, Payload: payload})
		}
	}
	return false, nil
}

func changedValue(changed map[string]dbus.Variant) ([]byte, bool) {
	v, ok := changed["Value"]
	if !ok {
		return nil, false
	}
	payload, ok := v.Value().([]byte)
	return payload, ok
}
