package slidekit

import (
	"context"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"slidekit/boards"
)

var ErrDeviceConfigMissing = errors.New("device configuration missing")

const registryEventQueue = 128

// DeviceConfig describes one I/O board: its stable name, capacity
// class, named pin maps, and exactly one transport slot filled in.
type DeviceConfig struct {
	Name     string
	Capacity uint8
	Inputs   map[string]uint16
	Outputs  map[string]uint16

	Gate *boards.GateLink
	Mcp  *boards.McpLink
	Gpio *boards.GpioLink
	Fake *boards.MockLink
}

func (dc *DeviceConfig) link() (boards.BoardLink, error) {
	switch {
	case dc.Gate != nil:
		return dc.Gate, nil
	case dc.Mcp != nil:
		return dc.Mcp, nil
	case dc.Gpio != nil:
		return dc.Gpio, nil
	case dc.Fake != nil:
		return dc.Fake, nil
	}
	return nil, errors.Errorf("board %s has no transport configured", dc.Name)
}

// DeviceRegistry is the named collection of board monitors. It routes
// pin operations either to a specific board or, when the board name is
// empty, to the first registered board carrying a pin of that name —
// the caller asserts the name is globally unique in that case.
type DeviceRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*DeviceConfig
	configOrder []string
	monitors    map[string]*boards.Monitor
	order       []string

	events chan boards.Event
	logger *log.Logger
}

func NewDeviceRegistry(configs []*DeviceConfig) (*DeviceRegistry, error) {
	dr := &DeviceRegistry{
		configs:  make(map[string]*DeviceConfig),
		monitors: make(map[string]*boards.Monitor),
		events:   make(chan boards.Event, registryEventQueue),
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "devices",
			Level:  log.GetLevel(),
		}),
	}

	for _, cfg := range configs {
		if len(cfg.Name) == 0 {
			return nil, errors.New("board with empty name in configuration")
		}
		_, duplicate := dr.configs[cfg.Name]
		if duplicate {
			return nil, errors.Errorf("duplicate board name in configuration: %s", cfg.Name)
		}
		dr.configs[cfg.Name] = cfg
		dr.configOrder = append(dr.configOrder, cfg.Name)
	}

	return dr, nil
}

// Events is the merged edge-event stream of every registered board.
func (dr *DeviceRegistry) Events() <-chan boards.Event {
	return dr.events
}

// GetOrCreate returns the monitor registered under deviceName,
// constructing it from configuration on first use. Idempotent.
func (dr *DeviceRegistry) GetOrCreate(deviceName string) (*boards.Monitor, error) {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	monitor, found := dr.monitors[deviceName]
	if found {
		return monitor, nil
	}

	cfg, found := dr.configs[deviceName]
	if !found {
		return nil, errors.Wrapf(ErrDeviceConfigMissing, "board %s", deviceName)
	}

	link, err := cfg.link()
	if err != nil {
		return nil, err
	}

	monitor, err = boards.NewMonitor(cfg.Name, boards.Capacity(cfg.Capacity), link, cfg.Inputs, cfg.Outputs, dr.events)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build monitor for board %s", deviceName)
	}

	dr.monitors[deviceName] = monitor
	dr.order = append(dr.order, deviceName)
	return monitor, nil
}

// CreateAll registers a monitor for every configured board, in
// configuration order. Registration order decides which board wins an
// unscoped pin lookup.
func (dr *DeviceRegistry) CreateAll() error {
	dr.mu.RLock()
	names := make([]string, len(dr.configOrder))
	copy(names, dr.configOrder)
	dr.mu.RUnlock()

	for _, name := range names {
		_, err := dr.GetOrCreate(name)
		if err != nil {
			return err
		}
	}
	return nil
}

func (dr *DeviceRegistry) ordered() []*boards.Monitor {
	dr.mu.RLock()
	defer dr.mu.RUnlock()

	monitors := make([]*boards.Monitor, 0, len(dr.order))
	for _, name := range dr.order {
		monitors = append(monitors, dr.monitors[name])
	}
	return monitors
}

// ConnectAll fans out to every registered monitor. Per-board failures
// are collected, a dead board does not stop the others from coming up.
func (dr *DeviceRegistry) ConnectAll(ctx context.Context) (err error) {
	for _, monitor := range dr.ordered() {
		connectErr := monitor.Connect(ctx)
		if connectErr != nil {
			dr.logger.Error("board connect failed", "board", monitor.Name(), "err", connectErr)
			if err == nil {
				err = connectErr
			} else {
				err = errors.Wrap(err, connectErr.Error())
			}
		}
	}
	return
}

func (dr *DeviceRegistry) DisconnectAll() (err error) {
	for _, monitor := range dr.ordered() {
		dcErr := monitor.Disconnect()
		if dcErr != nil {
			if err == nil {
				err = dcErr
			} else {
				err = errors.Wrap(err, dcErr.Error())
			}
		}
	}
	return
}

// AreAllConnected reports readiness. An empty registry is not ready:
// no boards means nothing has been set up, not that everything is.
func (dr *DeviceRegistry) AreAllConnected() bool {
	monitors := dr.ordered()
	if len(monitors) == 0 {
		return false
	}
	for _, monitor := range monitors {
		if !monitor.Connected() {
			return false
		}
	}
	return true
}

// SetOutput routes an output write. With an empty deviceName the
// registry scans boards in registration order and drives the first
// one carrying the pin.
func (dr *DeviceRegistry) SetOutput(deviceName string, pinName string, state bool) error {
	if len(deviceName) > 0 {
		monitor, err := dr.GetOrCreate(deviceName)
		if err != nil {
			return err
		}
		return monitor.SetOutput(pinName, state)
	}

	for _, monitor := range dr.ordered() {
		if monitor.HasOutput(pinName) {
			return monitor.SetOutput(pinName, state)
		}
	}
	return errors.Wrapf(boards.ErrPinNotFound, "output %s on any board", pinName)
}

// InputState reads the held state of an input pin, scoped or unscoped.
func (dr *DeviceRegistry) InputState(deviceName string, pinName string) (state bool, found bool) {
	if len(deviceName) > 0 {
		dr.mu.RLock()
		monitor, ok := dr.monitors[deviceName]
		dr.mu.RUnlock()
		if !ok {
			return false, false
		}
		return monitor.InputState(pinName)
	}

	for _, monitor := range dr.ordered() {
		state, found = monitor.InputState(pinName)
		if found {
			return
		}
	}
	return false, false
}

func (dr *DeviceRegistry) OutputState(deviceName string, pinName string) (state bool, found bool) {
	if len(deviceName) > 0 {
		dr.mu.RLock()
		monitor, ok := dr.monitors[deviceName]
		dr.mu.RUnlock()
		if !ok {
			return false, false
		}
		return monitor.OutputState(pinName)
	}

	for _, monitor := range dr.ordered() {
		state, found = monitor.OutputState(pinName)
		if found {
			return
		}
	}
	return false, false
}

// hasInput reports whether pinName resolves on the given board, or on
// any board when deviceName is empty.
func (dr *DeviceRegistry) hasInput(deviceName string, pinName string) bool {
	_, found := dr.InputState(deviceName, pinName)
	return found
}

func (dr *DeviceRegistry) hasOutput(deviceName string, pinName string) bool {
	_, found := dr.OutputState(deviceName, pinName)
	return found
}

// Close stops every sampling loop and releases every transport.
func (dr *DeviceRegistry) Close() (err error) {
	for _, monitor := range dr.ordered() {
		closeErr := monitor.Close()
		if closeErr != nil {
			if err == nil {
				err = closeErr
			} else {
				err = errors.Wrap(err, closeErr.Error())
			}
		}
	}

	dr.mu.Lock()
	dr.monitors = make(map[string]*boards.Monitor)
	dr.order = nil
	dr.mu.Unlock()
	return
}
