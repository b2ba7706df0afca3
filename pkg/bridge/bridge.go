// Package bridge wires the USB and radio sides together into one runnable
// daemon.
package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/hidbridge/hidbridge/internal/configsvc"
	"github.com/hidbridge/hidbridge/internal/radiosvc"
	"github.com/hidbridge/hidbridge/internal/radiosvc/uhidtransport"
	"github.com/hidbridge/hidbridge/internal/ratematch"
	"github.com/hidbridge/hidbridge/internal/usbsvc"
	"github.com/hidbridge/hidbridge/internal/usbsvc/linux"
)

type Bridge struct {
	config       Config
	bridgeConfig BridgeConfig
	log          *zap.Logger

	db        *badger.DB
	configSvc *configsvc.Service
	radioSvc  *radiosvc.Service
	usbSvc    *usbsvc.Service
}

func New(config Config) (*Bridge, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	bridgeConfig, err := loadBridgeConfig(config.BridgeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load bridge config: %w", err)
	}

	dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
	dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}
	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	format := ratematch.ReportFormat{
		XYBits:      bridgeConfig.Report.XYBits,
		WheelBits:   bridgeConfig.Report.WheelBits,
		ButtonCount: bridgeConfig.Report.Buttons,
	}
	transport, err := uhidtransport.New(logger.Named("uhid"), format)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create radio transport: %w", err)
	}

	configSvc := configsvc.New(logger.Named("config"))
	radioSvc := radiosvc.New(logger.Named("radio"), transport,
		radiosvc.WithSendInterval(time.Duration(bridgeConfig.SendIntervalUs)*time.Microsecond),
		radiosvc.WithEngineOptions(
			ratematch.WithFormat(format),
			ratematch.WithCapacity(bridgeConfig.RingCapacity),
		),
	)
	linuxBackend := linux.NewBackend(logger.Named("usb.linux"),
		linux.WithGrab(bridgeConfig.Grab),
		linux.WithExclude(uhidtransport.VendorID, uhidtransport.ProductID),
	)
	usbSvc := usbsvc.New(db, logger.Named("usb"), radioSvc, time.Now,
		usbsvc.WithBackend("linux", linuxBackend),
	)

	return &Bridge{
		config:       config,
		bridgeConfig: bridgeConfig,
		log:          logger,
		db:           db,
		configSvc:    configSvc,
		radioSvc:     radioSvc,
		usbSvc:       usbSvc,
	}, nil
}

func (b *Bridge) Close() error {
	return b.db.Close()
}

// Run starts all services and blocks until the context is canceled or one
// of them fails.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return b.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return b.radioSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return b.usbSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return b.watchConfig(groupCtx)
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("bridge failed: %w", err)
	}
	return nil
}

// watchConfig registers bridge.yml with the config watcher. The radio link
// parameters are baked into the running services, so a change only logs a
// reminder to restart.
func (b *Bridge) watchConfig(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-b.configSvc.Ready():
	}
	_, err := configsvc.RegisterOrInit(b.configSvc, b.config.BridgeConfig, DefaultBridgeConfig(), func(cfg BridgeConfig, err error) {
		if err != nil {
			b.log.Error("failed to parse bridge config", zap.Error(err))
			return
		}
		if cfg != b.bridgeConfig {
			b.log.Warn("bridge config changed, restart to apply")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to watch bridge config: %w", err)
	}
	<-ctx.Done()
	return nil
}

func (b *Bridge) USB() *usbsvc.Service {
	return b.usbSvc
}

func (b *Bridge) Radio() *radiosvc.Service {
	return b.radioSvc
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
