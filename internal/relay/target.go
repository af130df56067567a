package relay

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"softkvm/internal/config"
	"softkvm/internal/conn"
	"softkvm/internal/discovery"
	"softkvm/internal/inject"
)

// ScanTimeout bounds one discovery listen on the target side. The
// controller announces every three seconds, so one full interval plus
// slack is enough to catch a beacon or conclude there is none.
const ScanTimeout = 3 * time.Second

// Target is the receiving side. It discovers a controller on the LAN,
// holds one TCP connection to it and injects everything that arrives.
type Target struct {
	settings *config.Settings
	notifier Notifier
	logger   *zap.Logger

	engine *inject.Engine
	dialer *conn.Dialer
}

func NewTarget(settings *config.Settings, notifier Notifier, logger *zap.Logger) *Target {
	t := &Target{
		settings: settings,
		notifier: notifier,
		logger:   logger,
	}
	t.engine = inject.NewEngine(inject.NewInjector(), logger.Named("inject"))
	t.dialer = conn.NewDialer(conn.Callbacks{
		OnEvent: t.engine.Apply,
		OnLost: func() {
			// The controller may have died mid-session with modifiers held.
			t.engine.ReleaseModifiers()
			t.notifier.peerLost()
		},
		OnState: t.notifier.connState,
	}, logger.Named("conn"))
	return t
}

// Scan listens for one controller beacon and returns its address.
func (t *Target) Scan() (string, error) {
	return discovery.Scan(t.settings.DiscoveryPort(), ScanTimeout, t.logger.Named("discovery"))
}

// Connect dials the controller's data port. There is no retry; a failed or
// lost connection is reported and the operator decides when to reconnect.
func (t *Target) Connect(addr string) error {
	if err := t.dialer.Connect(addr, t.settings.DataPort()); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	t.notifier.peer(addr)
	return nil
}

// ScanAndConnect is the one-shot flow: find a controller, then attach.
func (t *Target) ScanAndConnect() error {
	addr, err := t.Scan()
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	t.logger.Info("controller found", zap.String("addr", addr))
	return t.Connect(addr)
}

// Disconnect drops the controller connection but keeps the dialer usable,
// so the operator can scan and attach again without restarting.
func (t *Target) Disconnect() {
	t.dialer.Disconnect()
}

// ConnState reports the data connection state.
func (t *Target) ConnState() conn.State {
	return t.dialer.State()
}

// Stop disconnects and releases any modifiers the session may have left
// held down.
func (t *Target) Stop() {
	t.dialer.Stop()
	t.engine.ReleaseModifiers()
	t.logger.Info("target stopped")
}
