package agent

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/GuiPerPT/zwift-ride-keytrigger/internal/blesvc"
	"github.com/GuiPerPT/zwift-ride-keytrigger/internal/configsvc"
	"github.com/GuiPerPT/zwift-ride-keytrigger/internal/dispatchsvc"
	"github.com/GuiPerPT/zwift-ride-keytrigger/internal/injectsvc"
	"github.com/GuiPerPT/zwift-ride-keytrigger/pkg/bus"
)

type Agent struct {
	config Config

	db          *badger.DB
	bus         *blesvc.TransportBus
	configSvc   *configsvc.Service
	bleSvc      *blesvc.Service
	injectSvc   *injectsvc.Service
	dispatchSvc *dispatchsvc.Service
}

func NewAgent(config Config) (*Agent, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
	dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}
	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	transportBus := bus.NewBus[string, blesvc.Event](logger.Named("bus"))
	configSvc := configsvc.New(logger.Named("config"))
	bleSvc := blesvc.New(logger.Named("ble"), db, transportBus, blesvc.Config{
		Adapter:     config.Adapter,
		Address:     config.Address,
		ScanTimeout: config.ScanTimeout,
	})
	injectSvc := injectsvc.New(logger.Named("inject"))

	var dispatchOpts []dispatchsvc.Option
	if config.RepeatDelay > 0 {
		dispatchOpts = append(dispatchOpts, dispatchsvc.WithRepeatDelay(config.RepeatDelay))
	}
	dispatchSvc := dispatchsvc.New(
		logger.Named("dispatch"),
		configSvc,
		config.MappingConfig,
		transportBus,
		injectSvc,
		dispatchOpts...,
	)

	return &Agent{
		config:      config,
		db:          db,
		bus:         transportBus,
		configSvc:   configSvc,
		bleSvc:      bleSvc,
		injectSvc:   injectSvc,
		dispatchSvc: dispatchSvc,
	}, nil
}

func (a *Agent) Close() error {
	return a.db.Close()
}

func (a *Agent) BLE() *blesvc.Service {
	return a.bleSvc
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Info(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}

// Run starts all services and blocks until the context is cancelled or
// a service fails. The transport starts only once the injector and
// dispatcher are ready, so no frame can arrive before keys can be
// synthesized.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.bus.Start(groupCtx)
	})
	group.Go(func() error {
		return a.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return a.injectSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return a.dispatchSvc.Start(groupCtx)
	})
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
			return nil
		case <-a.injectSvc.Ready():
		}
		select {
		case <-groupCtx.Done():
			return nil
		case <-a.dispatchSvc.Ready():
		}
		return a.bleSvc.Start(groupCtx)
	})

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	return nil
}
