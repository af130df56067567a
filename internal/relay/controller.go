// Package relay assembles the two runnable roles. A controller captures
// local input and serves it to one target; a target finds a controller,
// connects and replays what it receives. Each role owns the lifecycle of its
// parts and tears them down in a fixed order.
package relay

import (
	"fmt"

	"go.uber.org/zap"

	"softkvm/internal/capture"
	"softkvm/internal/config"
	"softkvm/internal/conn"
	"softkvm/internal/control"
	"softkvm/internal/discovery"
	"softkvm/internal/inject"
	"softkvm/internal/network"
	"softkvm/internal/osutils"
	"softkvm/internal/protocol"
)

// Controller is the keyboard-and-mouse side. It listens for one target,
// announces itself over UDP broadcast and runs the capture pipeline.
type Controller struct {
	settings *config.Settings
	notifier Notifier
	logger   *zap.Logger

	machine     *control.Machine
	listener    *conn.Listener
	broadcaster *discovery.Broadcaster
	trap        *capture.Trap
	failsafe    *inject.Engine
}

func NewController(settings *config.Settings, notifier Notifier, logger *zap.Logger) *Controller {
	return &Controller{
		settings: settings,
		notifier: notifier,
		logger:   logger,
	}
}

// Start brings the controller up: TCP listener, discovery broadcaster, then
// the input tap. A tap that cannot install makes the whole role fail, since
// a controller that cannot suppress input would leak every forwarded
// keystroke into its own desktop.
func (c *Controller) Start() error {
	binding, err := control.ParseBinding(c.settings.Hotkey())
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	c.broadcaster = discovery.NewBroadcaster(c.settings.DiscoveryPort(), c.logger.Named("discovery"))

	c.listener = conn.NewListener(c.settings.DataPort(), conn.Callbacks{
		OnEvent: c.handleInbound,
		OnPeer: func(addr string) {
			c.broadcaster.SetScanExpected(false)
			c.notifier.peer(addr)
		},
		OnLost: func() {
			c.machine.ForceLocal()
			c.broadcaster.SetScanExpected(true)
			c.notifier.peerLost()
		},
		OnState: c.notifier.connState,
	}, c.logger.Named("conn"))

	cursor := capture.NewCursor()
	c.failsafe = inject.NewEngine(inject.NewInjector(), c.logger.Named("inject"))
	c.machine = control.NewMachine(binding, cursor, c.listener,
		c.failsafe.ReleaseModifiers, c.logger.Named("control"))
	c.machine.SetOnState(c.notifier.controlState)

	processor := capture.NewProcessor(c.machine, cursor, c.listener, c.logger.Named("capture"))
	c.trap = capture.NewTrap(processor, c.logger.Named("capture"))

	if err := c.listener.Start(); err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	if err := osutils.EnsureFirewallRule(c.settings.DataPort(), c.logger.Named("osutils")); err != nil {
		c.logger.Warn("firewall rule not applied, targets may be unable to connect", zap.Error(err))
	}
	if ips, err := network.LocalIPs(); err == nil {
		c.logger.Info("reachable on", zap.Strings("addrs", ips))
	}

	if err := c.broadcaster.Start(); err != nil {
		c.listener.Stop()
		return fmt.Errorf("controller: %w", err)
	}
	// Fast cadence until a target attaches; a freshly started target scans
	// with a short timeout.
	c.broadcaster.SetScanExpected(true)

	if err := c.trap.Start(); err != nil {
		c.broadcaster.Stop()
		c.listener.Stop()
		return fmt.Errorf("controller: %w", err)
	}

	c.logger.Info("controller running",
		zap.Int("data_port", c.settings.DataPort()),
		zap.Int("discovery_port", c.settings.DiscoveryPort()),
		zap.Stringer("hotkey", binding))
	return nil
}

// Stop tears the controller down. The tap comes down last so input is never
// suppressed by a hook with nothing behind it, and the machine is forced
// local first so held modifiers are released while injection still works.
func (c *Controller) Stop() {
	c.machine.ForceLocal()
	c.broadcaster.Stop()
	c.listener.Stop()
	c.trap.Stop()
	c.logger.Info("controller stopped")
}

// SetHotkey parses and applies a new toggle binding, keeping the stored
// settings in sync.
func (c *Controller) SetHotkey(hotkey string) error {
	binding, err := control.ParseBinding(hotkey)
	if err != nil {
		return err
	}
	c.machine.SetBinding(binding)
	c.settings.SetHotkey(hotkey)
	return nil
}

// ControlState reports whether input currently routes locally or remote.
func (c *Controller) ControlState() control.State {
	return c.machine.State()
}

// ConnState reports the data connection state.
func (c *Controller) ConnState() conn.State {
	return c.listener.State()
}

// The data channel to a controller is one-way in practice. Anything a
// target sends is logged and dropped.
func (c *Controller) handleInbound(ev protocol.Event) {
	c.logger.Debug("ignoring inbound event", zap.String("type", string(ev.Type)))
}
