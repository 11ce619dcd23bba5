// Package dispatchsvc consumes transport events in arrival order,
// decodes frames, and drives the key injector from the dispatch state
// machine. All dispatcher state is owned by the single Start goroutine;
// nothing else touches it.
package dispatchsvc

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GuiPerPT/zwift-ride-keytrigger/dispatch"
	"github.com/GuiPerPT/zwift-ride-keytrigger/internal/blesvc"
	"github.com/GuiPerPT/zwift-ride-keytrigger/internal/configsvc"
	"github.com/GuiPerPT/zwift-ride-keytrigger/rideapi"
)

// KeyInjector is the OS-level key synthesis collaborator. Calls are
// best effort; a failure is logged, never retried mid-stream.
type KeyInjector interface {
	Press(key string) error
	Release(key string) error
}

type Option func(*Service)

func WithRepeatDelay(d time.Duration) Option {
	return func(s *Service) {
		s.repeatDelay = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

type Service struct {
	log         *zap.Logger
	configSvc   *configsvc.Service
	mappingPath string
	bus         *blesvc.TransportBus
	injector    KeyInjector
	repeatDelay time.Duration
	now         func() time.Time
	ready       chan struct{}

	disp       *dispatch.Dispatcher
	state      *dispatch.State
	deferredCh chan string
	mappingCh  chan dispatch.Mapping
}

func New(log *zap.Logger, configSvc *configsvc.Service, mappingPath string, transportBus *blesvc.TransportBus, injector KeyInjector, opts ...Option) *Service {
	s := &Service{
		log:         log,
		configSvc:   configSvc,
		mappingPath: mappingPath,
		bus:         transportBus,
		injector:    injector,
		repeatDelay: dispatch.DefaultRepeatDelay,
		now:         time.Now,
		ready:       make(chan struct{}),
		state:       dispatch.NewState(),
		deferredCh:  make(chan string, 16),
		mappingCh:   make(chan dispatch.Mapping, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Start loads the key mapping and processes transport events until the
// context ends. The full release of held keys is mandatory cleanup: it
// runs on shutdown and on disconnect regardless of how the loop exits.
func (s *Service) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.configSvc.Ready():
	}
	cfg, err := configsvc.Register(s.configSvc, s.mappingPath, configsvc.DefaultKeyMapping(),
		func(c configsvc.KeyMappingConfig, err error) {
			if err != nil {
				s.log.Error("Mapping reload failed", zap.Error(err))
				return
			}
			m, err := c.Mapping()
			if err != nil {
				s.log.Error("Mapping reload rejected", zap.Error(err))
				return
			}
			select {
			case s.mappingCh <- m:
			case <-ctx.Done():
			}
		})
	if err != nil {
		return fmt.Errorf("failed to load key mapping: %w", err)
	}
	mapping, err := cfg.Mapping()
	if err != nil {
		return err
	}
	s.disp = dispatch.New(mapping, dispatch.WithRepeatDelay(s.repeatDelay))

	events := s.bus.Subscribe(ctx)
	close(s.ready)
	s.log.Info("Dispatch service started", zap.Int("mappedButtons", len(mapping)))

	for {
		select {
		case <-ctx.Done():
			s.releaseAll("shutdown")
			return nil

		case m := <-s.mappingCh:
			// Swapping bindings while keys are held would orphan the
			// old bindings, so everything is released first.
			s.releaseAll("mapping reload")
			s.disp = dispatch.New(m, dispatch.WithRepeatDelay(s.repeatDelay))
			s.log.Info("Key mapping reloaded", zap.Int("mappedButtons", len(m)))

		case key := <-s.deferredCh:
			// The press half of a repeat, due after its settle pause.
			// Skipped if the button was released in the meantime.
			if _, active := s.state.Active[key]; active {
				s.inject(dispatch.KeyAction{Kind: dispatch.Press, Key: key})
			}

		case msg, ok := <-events:
			if !ok {
				s.releaseAll("transport closed")
				return nil
			}
			s.handleEvent(ctx, msg.Message)
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, ev blesvc.Event) {
	switch ev.Type {
	case blesvc.EventConnected:
		s.log.Info("Controller connected, dispatching input")
	case blesvc.EventDisconnected:
		s.releaseAll("disconnect")
	case blesvc.EventResponse:
		s.log.Info("Controller response", zap.ByteString("response", ev.Payload))
	case blesvc.EventNotification:
		s.handleFrame(ctx, ev.Payload)
	}
}

func (s *Service) handleFrame(ctx context.Context, payload []byte) {
	frame, err := rideapi.DecodeFrame(payload)
	if err != nil {
		// Contained to this frame; the stream continues.
		s.log.Warn("Dropping frame",
			zap.Error(err),
			zap.String("payload", hex.EncodeToString(payload)),
		)
		return
	}
	switch frame.Type {
	case rideapi.FrameButtonStatus:
		if len(frame.Pressed) > 0 {
			s.log.Debug("Buttons pressed", zap.String("buttons", rideapi.ButtonNames(frame.Pressed)))
		}
		for _, a := range frame.Analog {
			s.log.Debug("Analog sample", zap.Int32("left", a.Left), zap.Int32("right", a.Right))
		}
		s.execute(ctx, s.disp.Update(s.state, frame.Pressed, s.now()))
	case rideapi.FrameIdle:
		s.execute(ctx, s.disp.ReleaseAll(s.state))
	case rideapi.FrameInitialStatus:
		s.log.Info("Initial status received")
	case rideapi.FrameStatusUpdate:
		// Routine status, nothing actionable.
	default:
		s.log.Debug("Unknown frame", zap.String("payload", hex.EncodeToString(frame.Raw)))
	}
}

// execute runs key actions in order. A press carrying a settle hint is
// deferred through the run loop instead of sleeping, so frame
// processing never stalls.
func (s *Service) execute(ctx context.Context, actions []dispatch.KeyAction) {
	for _, a := range actions {
		if a.Kind == dispatch.Press && a.Settle > 0 {
			key := a.Key
			time.AfterFunc(a.Settle, func() {
				select {
				case s.deferredCh <- key:
				case <-ctx.Done():
				}
			})
			continue
		}
		s.inject(a)
	}
}

func (s *Service) inject(a dispatch.KeyAction) {
	var err error
	switch a.Kind {
	case dispatch.Press:
		err = s.injector.Press(a.Key)
	case dispatch.Release:
		err = s.injector.Release(a.Key)
	}
	if err != nil {
		s.log.Error("Key injection failed",
			zap.String("action", a.Kind.String()),
			zap.String("key", a.Key),
			zap.Error(err),
		)
	}
}

// releaseAll force-releases every held key and clears dispatcher state.
func (s *Service) releaseAll(reason string) {
	actions := s.disp.ReleaseAll(s.state)
	if len(actions) == 0 {
		return
	}
	s.log.Info("Releasing all keys",
		zap.String("reason", reason),
		zap.Int("keys", len(actions)),
	)
	for _, a := range actions {
		s.inject(a)
	}
}
