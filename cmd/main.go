// SoftKVM relays keyboard and mouse input between two machines on a LAN.
// One machine runs the controller role and captures input, the other runs
// the target role and replays it.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"softkvm/internal/api"
	"softkvm/internal/autostart"
	"softkvm/internal/config"
	"softkvm/internal/conn"
	"softkvm/internal/control"
	"softkvm/internal/discovery"
	"softkvm/internal/relay"
	"softkvm/internal/tray"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "softkvm",
		Short:         "Share one keyboard and mouse across two machines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newControllerCmd(), newTargetCmd(), newAutostartCmd(), newVersionCmd())
	return root
}

func newAutostartCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:       "autostart [enable|disable|status]",
		Short:     "Manage starting the relay on login",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"enable", "disable", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "enable":
				if role != "controller" && role != "target" {
					return fmt.Errorf("invalid role %q, want controller or target", role)
				}
				if err := autostart.Enable(role); err != nil {
					return err
				}
				fmt.Printf("softkvm %s will start on login\n", role)
			case "disable":
				if err := autostart.Disable(); err != nil {
					return err
				}
				fmt.Println("autostart disabled")
			case "status":
				if autostart.IsEnabled() {
					fmt.Println("autostart is enabled")
				} else {
					fmt.Println("autostart is disabled")
				}
			default:
				return fmt.Errorf("unknown action %q", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "controller", "role to start on login")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("softkvm %s\n", version)
		},
	}
}

type commonOpts struct {
	dataPort      int
	discoveryPort int
	apiAddr       string
	noAPI         bool
	noTray        bool
	debug         bool
}

func addCommonFlags(cmd *cobra.Command, opts *commonOpts) {
	cmd.Flags().IntVar(&opts.dataPort, "data-port", config.DefaultDataPort, "TCP port for the event stream")
	cmd.Flags().IntVar(&opts.discoveryPort, "discovery-port", config.DefaultDiscoveryPort, "UDP port for discovery beacons")
	cmd.Flags().StringVar(&opts.apiAddr, "api", config.DefaultAPIAddr, "listen address for the control API")
	cmd.Flags().BoolVar(&opts.noAPI, "no-api", false, "disable the control API")
	cmd.Flags().BoolVar(&opts.noTray, "no-tray", false, "run without a tray icon")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
}

func newLogger(debug bool, tee *api.LogTee) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build(zap.Hooks(tee.Hook()))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: failed to build logger:", err)
		os.Exit(1)
	}
	return logger
}

func newSettings(opts commonOpts) (*config.Settings, error) {
	settings := config.New()
	if err := settings.SetPorts(opts.dataPort, opts.discoveryPort); err != nil {
		return nil, err
	}
	settings.SetAPIAddr(opts.apiAddr)
	return settings, nil
}

func waitForSignal(logger *zap.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", zap.String("signal", s.String()))
}

func newControllerCmd() *cobra.Command {
	var opts commonOpts
	var hotkey string

	cmd := &cobra.Command{
		Use:   "controller",
		Short: "Run the side that owns the keyboard and mouse",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runController(opts, hotkey)
		},
	}
	addCommonFlags(cmd, &opts)
	cmd.Flags().StringVar(&hotkey, "hotkey", config.DefaultHotkey, "toggle hotkey, e.g. ctrl+alt+z")
	return cmd
}

func runController(opts commonOpts, hotkey string) error {
	logTee := api.NewLogTee()
	logger := newLogger(opts.debug, logTee)
	defer logger.Sync()

	settings, err := newSettings(opts)
	if err != nil {
		return err
	}
	settings.SetHotkey(hotkey)

	var server *api.Server
	var ui *tray.Tray

	notifier := relay.Notifier{
		OnConnState: func(s conn.State) {
			if server != nil {
				server.Publish("conn_state", map[string]string{"state": s.String()})
			}
		},
		OnControlState: func(s control.State) {
			if ui != nil {
				ui.SetControlState("Input: " + s.String())
			}
			if server != nil {
				server.Publish("control_state", map[string]string{"state": s.String()})
			}
		},
		OnPeer: func(addr string) {
			if ui != nil {
				ui.SetConnState("Connected: " + addr)
			}
			if server != nil {
				server.Publish("peer", map[string]string{"addr": addr})
			}
		},
		OnPeerLost: func() {
			if ui != nil {
				ui.SetConnState("No peer")
			}
			if server != nil {
				server.Publish("peer_lost", map[string]string{})
			}
		},
	}

	ctrl := relay.NewController(settings, notifier, logger.Named("relay"))
	if err := ctrl.Start(); err != nil {
		return err
	}
	defer ctrl.Stop()

	if !opts.noAPI {
		server = api.NewServer(&controllerBackend{ctrl: ctrl, settings: settings}, logger.Named("api"))
		if err := server.Start(settings.APIAddr()); err != nil {
			logger.Warn("continuing without control api", zap.Error(err))
			server = nil
		} else {
			logTee.Attach(server)
			defer server.Stop()
		}
	}

	if opts.noTray {
		waitForSignal(logger)
		return nil
	}

	ui = tray.New("controller", settings.Hotkey(), nil)
	go func() {
		waitForSignal(logger)
		ui.Stop()
	}()
	ui.Run()
	return nil
}

func newTargetCmd() *cobra.Command {
	var opts commonOpts
	var connectAddr string

	cmd := &cobra.Command{
		Use:   "target",
		Short: "Run the side that receives input",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTarget(opts, connectAddr)
		},
	}
	addCommonFlags(cmd, &opts)
	cmd.Flags().StringVar(&connectAddr, "connect", "", "controller address, skips discovery")
	return cmd
}

func runTarget(opts commonOpts, connectAddr string) error {
	logTee := api.NewLogTee()
	logger := newLogger(opts.debug, logTee)
	defer logger.Sync()

	settings, err := newSettings(opts)
	if err != nil {
		return err
	}

	var server *api.Server
	var ui *tray.Tray

	notifier := relay.Notifier{
		OnConnState: func(s conn.State) {
			if server != nil {
				server.Publish("conn_state", map[string]string{"state": s.String()})
			}
		},
		OnPeer: func(addr string) {
			if ui != nil {
				ui.SetConnState("Connected: " + addr)
			}
			if server != nil {
				server.Publish("peer", map[string]string{"addr": addr})
			}
		},
		OnPeerLost: func() {
			logger.Warn("controller lost, scan again over the control api to reconnect")
			if ui != nil {
				ui.SetConnState("No peer")
			}
			if server != nil {
				server.Publish("peer_lost", map[string]string{})
			}
		},
	}

	tgt := relay.NewTarget(settings, notifier, logger.Named("relay"))
	defer tgt.Stop()

	if connectAddr != "" {
		if err := tgt.Connect(connectAddr); err != nil {
			return err
		}
	} else if err := scanUntilConnected(tgt, logger); err != nil {
		return err
	}

	if !opts.noAPI {
		server = api.NewServer(&targetBackend{tgt: tgt}, logger.Named("api"))
		if err := server.Start(settings.APIAddr()); err != nil {
			logger.Warn("continuing without control api", zap.Error(err))
			server = nil
		} else {
			logTee.Attach(server)
			defer server.Stop()
		}
	}

	if opts.noTray {
		waitForSignal(logger)
		return nil
	}

	ui = tray.New("target", "", nil)
	go func() {
		waitForSignal(logger)
		ui.Stop()
	}()
	ui.Run()
	return nil
}

// scanUntilConnected keeps listening for beacons until a controller shows
// up. Each round is bounded, so an interrupt between rounds exits promptly.
func scanUntilConnected(tgt *relay.Target, logger *zap.Logger) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	for {
		err := tgt.ScanAndConnect()
		if err == nil {
			return nil
		}
		if !errors.Is(err, discovery.ErrNoServerFound) {
			return err
		}
		logger.Info("no controller found, scanning again")

		select {
		case <-sig:
			return errors.New("interrupted before a controller was found")
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// controllerBackend adapts the controller role to the control API.
type controllerBackend struct {
	ctrl     *relay.Controller
	settings *config.Settings
}

func (b *controllerBackend) Status() api.Status {
	return api.Status{
		Role:         "controller",
		ConnState:    b.ctrl.ConnState().String(),
		ControlState: b.ctrl.ControlState().String(),
		Hotkey:       b.settings.Hotkey(),
	}
}

func (b *controllerBackend) SetHotkey(hotkey string) error {
	return b.ctrl.SetHotkey(hotkey)
}

func (b *controllerBackend) Scan() (string, error) {
	return "", errors.New("the controller announces itself, it does not scan")
}

func (b *controllerBackend) Connect(string) error {
	return errors.New("the controller accepts connections, it does not dial")
}

func (b *controllerBackend) Disconnect() error {
	return errors.New("the data connection is managed from the target")
}

// targetBackend adapts the target role. The hotkey lives on the controller,
// so changing it here is rejected.
type targetBackend struct {
	tgt *relay.Target
}

func (b *targetBackend) Status() api.Status {
	return api.Status{
		Role:      "target",
		ConnState: b.tgt.ConnState().String(),
	}
}

func (b *targetBackend) SetHotkey(string) error {
	return errors.New("the toggle hotkey is configured on the controller")
}

func (b *targetBackend) Scan() (string, error) {
	return b.tgt.Scan()
}

func (b *targetBackend) Connect(addr string) error {
	return b.tgt.Connect(addr)
}

func (b *targetBackend) Disconnect() error {
	b.tgt.Disconnect()
	return nil
}
