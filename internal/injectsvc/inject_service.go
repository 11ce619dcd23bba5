// Package injectsvc presents a virtual HID keyboard to the kernel via
// uhid and injects boot-protocol reports for key presses and releases.
// Injection is best effort: the OS gives no confirmation that a report
// took effect, so callers log failures and move on.
package injectsvc

import (
	"context"
	"fmt"
	"sync"

	"github.com/psanford/uhid"
	"go.uber.org/zap"
)

// Standard boot-protocol keyboard report descriptor: one modifier byte,
// one reserved byte, five LED output bits, six keycode slots.
var bootKeyboardDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xa1, 0x01, // Collection (Application)
	0x05, 0x07, //   Usage Page (Keyboard)
	0x19, 0xe0, //   Usage Minimum (LeftControl)
	0x29, 0xe7, //   Usage Maximum (RightGUI)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x08, //   Report Count (8)
	0x81, 0x02, //   Input (Data, Variable, Absolute)
	0x95, 0x01, //   Report Count (1)
	0x75, 0x08, //   Report Size (8)
	0x81, 0x01, //   Input (Constant)
	0x95, 0x05, //   Report Count (5)
	0x75, 0x01, //   Report Size (1)
	0x05, 0x08, //   Usage Page (LEDs)
	0x19, 0x01, //   Usage Minimum (Num Lock)
	0x29, 0x05, //   Usage Maximum (Kana)
	0x91, 0x02, //   Output (Data, Variable, Absolute)
	0x95, 0x01, //   Report Count (1)
	0x75, 0x03, //   Report Size (3)
	0x91, 0x01, //   Output (Constant)
	0x95, 0x06, //   Report Count (6)
	0x75, 0x08, //   Report Size (8)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x65, //   Logical Maximum (101)
	0x05, 0x07, //   Usage Page (Keyboard)
	0x19, 0x00, //   Usage Minimum (0)
	0x29, 0x65, //   Usage Maximum (101)
	0x81, 0x00, //   Input (Data, Array)
	0xc0, // End Collection
}

const (
	uhidDeviceName = "ride-keytrigger"
	busUSB         = 0x03

	// Reuse the controller's identity so the virtual keyboard is easy
	// to spot in device listings.
	vendorID  = 0x094a
	productID = 0x0008
)

type Service struct {
	log   *zap.Logger
	ready chan struct{}

	mu        sync.Mutex
	dev       *uhid.Device
	modifiers uint8
	held      []uint8
}

func New(log *zap.Logger) *Service {
	return &Service{
		log:   log,
		ready: make(chan struct{}),
	}
}

// Start creates the uhid device and drains its kernel events until the
// context ends. LED output reports are acknowledged and ignored.
func (s *Service) Start(ctx context.Context) error {
	dev, err := uhid.NewDevice(uhidDeviceName, bootKeyboardDescriptor)
	if err != nil {
		return fmt.Errorf("failed to create uhid device: %w", err)
	}
	dev.Data.Bus = busUSB
	dev.Data.VendorID = vendorID
	dev.Data.ProductID = productID

	events, err := dev.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open uhid device: %w", err)
	}
	s.mu.Lock()
	s.dev = dev
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.dev = nil
		s.mu.Unlock()
		dev.Close()
	}()

	s.log.Info("Virtual keyboard created", zap.String("name", uhidDeviceName))
	close(s.ready)
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				return nil
			}
		}
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Press sends a report with the named key added to the held set.
func (s *Service) Press(key string) error {
	code, ok := KeyCode(key)
	if !ok {
		return fmt.Errorf("unknown key name: %s", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if code >= modifierBase {
		s.modifiers |= 1 << (code - modifierBase)
	} else {
		if !contains(s.held, code) {
			if len(s.held) >= 6 {
				return fmt.Errorf("key rollover exceeded, dropping press of %s", key)
			}
			s.held = append(s.held, code)
		}
	}
	return s.inject()
}

// Release sends a report with the named key removed. Releasing a key
// that is not held still injects the current state, keeping the call
// idempotent.
func (s *Service) Release(key string) error {
	code, ok := KeyCode(key)
	if !ok {
		return fmt.Errorf("unknown key name: %s", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if code >= modifierBase {
		s.modifiers &^= 1 << (code - modifierBase)
	} else {
		s.held = remove(s.held, code)
	}
	return s.inject()
}

func (s *Service) inject() error {
	if s.dev == nil {
		return fmt.Errorf("uhid device not open")
	}
	if err := s.dev.InjectEvent(buildReport(s.modifiers, s.held)); err != nil {
		return fmt.Errorf("failed to inject report: %w", err)
	}
	return nil
}

// buildReport lays out the 8-byte boot keyboard report: modifier bits,
// a reserved byte, then up to six keycode slots.
func buildReport(modifiers uint8, held []uint8) []byte {
	report := make([]byte, 8)
	report[0] = modifiers
	copy(report[2:], held)
	return report
}

func contains(codes []uint8, code uint8) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func remove(codes []uint8, code uint8) []uint8 {
	out := codes[:0]
	for _, c := range codes {
		if c != code {
			out = append(out, c)
		}
	}
	return out
}
