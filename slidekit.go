package slidekit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"slidekit/boards"
	"slidekit/metrics"
	"slidekit/mqtt"
)

const slideEventQueue = 64

// SlideKit is the configuration root and the aggregate of everything
// running: board monitors, slide controllers, and the optional MQTT /
// InfluxDB / HomeKit / HTTP status surfaces. A JSON config file
// unmarshals straight into it.
type SlideKit struct {
	Name string

	Boards []*DeviceConfig
	Slides []*Slide

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool

	MqttBroker string
	Influx     *metrics.InfluxRecorder
	Status     *StatusServer

	devices     *DeviceRegistry
	slides      *SlideRegistry
	slideEvents chan SlideEvent
	mqttClient  *mqtt.MqttClient
	logger      *log.Logger
}

// Load reads a JSON configuration file into a fresh SlideKit.
func Load(path string) (*SlideKit, error) {
	configFile, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open config file (%s)", path)
	}
	defer configFile.Close()

	sk := &SlideKit{}
	err = json.NewDecoder(configFile).Decode(sk)
	if err != nil {
		return nil, errors.Wrap(err, "failed unmarshalling json config")
	}
	return sk, nil
}

// InitDevices builds the device registry and a monitor for every
// configured board. Nothing is connected yet.
func (sk *SlideKit) InitDevices() error {
	sk.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "slidekit",
		Level:  log.GetLevel(),
	})
	sk.slideEvents = make(chan SlideEvent, slideEventQueue)

	devices, err := NewDeviceRegistry(sk.Boards)
	if err != nil {
		return errors.Wrap(err, "failed to build device registry")
	}
	err = devices.CreateAll()
	if err != nil {
		return errors.Wrap(err, "failed to register boards")
	}

	sk.devices = devices
	return nil
}

// ConnectAll brings every board up and starts its sampling loop.
func (sk *SlideKit) ConnectAll(ctx context.Context) error {
	return sk.devices.ConnectAll(ctx)
}

// InitSlides builds the slide registry and initializes every slide
// against the connected boards, deriving initial positions from the
// sensors as read right now.
func (sk *SlideKit) InitSlides() error {
	slides, err := NewSlideRegistry(sk.Slides)
	if err != nil {
		return errors.Wrap(err, "failed to build slide registry")
	}

	for _, slide := range slides.All() {
		err = slide.Init(sk.devices, sk.slideEvents)
		if err != nil {
			return errors.Wrapf(err, "failed to init slide")
		}
	}

	sk.slides = slides
	return nil
}

func (sk *SlideKit) Devices() *DeviceRegistry {
	return sk.devices
}

func (sk *SlideKit) SlideRegistry() *SlideRegistry {
	return sk.slides
}

// ServeEvents runs the event pump: board edges are routed to the
// slides they sense for, and every notification fans out to the
// configured sinks. Blocks until ctx is done. No slide or sink code
// ever runs on a sampling loop's goroutine.
func (sk *SlideKit) ServeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sk.devices.Events():
			sk.handleBoardEvent(ev)
		case ev := <-sk.slideEvents:
			sk.handleSlideEvent(ev)
		}
	}
}

func (sk *SlideKit) handleBoardEvent(ev boards.Event) {
	switch ev.Kind {
	case boards.EventInputChanged:
		for _, slide := range sk.slides.All() {
			slide.HandleBoardEvent(ev)
		}
		sk.publishMqtt(fmt.Sprintf("slidekit/boards/%s/inputs/%s", ev.Board, ev.Pin), statePayload(ev.State))
		if sk.Influx != nil {
			sk.Influx.RecordPin(ev.Board, ev.Pin, "input", ev.State)
		}
	case boards.EventOutputChanged:
		sk.publishMqtt(fmt.Sprintf("slidekit/boards/%s/outputs/%s", ev.Board, ev.Pin), statePayload(ev.State))
		if sk.Influx != nil {
			sk.Influx.RecordPin(ev.Board, ev.Pin, "output", ev.State)
		}
	case boards.EventConnection:
		sk.logger.Info("board connection changed", "board", ev.Board, "connected", ev.State)
		sk.publishMqtt(fmt.Sprintf("slidekit/boards/%s/connected", ev.Board), statePayload(ev.State))
	case boards.EventError:
		sk.logger.Error("board error", "board", ev.Board, "err", ev.Err)
		if sk.Influx != nil {
			sk.Influx.RecordError(ev.Board, ev.Err)
		}
	}
}

func (sk *SlideKit) handleSlideEvent(ev SlideEvent) {
	switch ev.Kind {
	case SlidePositionChanged:
		sk.publishMqtt(fmt.Sprintf("slidekit/slides/%s/position", ev.Slide), []byte(ev.Position.String()))
		if sk.Influx != nil {
			sk.Influx.RecordSlide(ev.Slide, ev.Position.String())
		}
		sk.updateHkPosition(ev.Slide, ev.Position)
	case SlideSensorsChanged:
		sk.publishMqtt(fmt.Sprintf("slidekit/slides/%s/sensors", ev.Slide),
			[]byte(fmt.Sprintf(`{"extended":%t,"retracted":%t}`, ev.Extended, ev.Retracted)))
	case SlideError:
		sk.logger.Error("slide error", "slide", ev.Slide, "err", ev.Err)
		if sk.Influx != nil {
			sk.Influx.RecordError(ev.Slide, ev.Err)
		}
	}
}

func statePayload(state bool) []byte {
	if state {
		return []byte("1")
	}
	return []byte("0")
}

func (sk *SlideKit) publishMqtt(topic string, payload []byte) {
	if sk.mqttClient == nil {
		return
	}
	err := sk.mqttClient.Publish(topic, payload)
	if err != nil {
		sk.logger.Warn("mqtt publish failed", "topic", topic, "err", err)
	}
}

// InitMqtt connects the broker and subscribes the slide command
// topics: a payload of "extend" or "retract" published on
// slidekit/slides/<name>/command starts the move.
func (sk *SlideKit) InitMqtt() (err error) {
	if len(sk.MqttBroker) == 0 {
		err = errors.New("mqtt broker not set")
		return
	}

	mc, err := mqtt.NewMqttClient(sk.MqttBroker, sk.Name)
	if err != nil {
		err = errors.Wrap(err, "failed to create mqtt client")
		return
	}

	sk.mqttClient = mc

	err = mc.Connect([]mqtt.MqttHandler{&slideCommandHandler{kit: sk}})
	if err != nil {
		err = errors.Wrap(err, "failed to connect to mqtt broker")
	}

	return
}

type slideCommandHandler struct {
	kit *SlideKit
}

func (sch *slideCommandHandler) MqttSubscribeTopic() string {
	return "slidekit/slides/+/command"
}

func (sch *slideCommandHandler) MqttHandle(pub *paho.Publish) {
	name := slideNameFromTopic(pub.Topic)
	slide, err := sch.kit.slides.Get(name)
	if err != nil {
		sch.kit.logger.Warn("mqtt command for unknown slide", "topic", pub.Topic, "err", err)
		return
	}

	command := string(pub.Payload)
	go func() {
		var moveErr error
		switch command {
		case "extend":
			moveErr = slide.Extend()
		case "retract":
			moveErr = slide.Retract()
		default:
			sch.kit.logger.Warn("unrecognized slide command", "slide", name, "command", command)
			return
		}
		if moveErr != nil {
			sch.kit.logger.Error("mqtt commanded move failed", "slide", name, "err", moveErr)
		}
	}()
}

func slideNameFromTopic(topic string) string {
	// slidekit/slides/<name>/command
	parts := strings.Split(topic, "/")
	if len(parts) != 4 {
		return ""
	}
	return parts[2]
}

// PrintIoStatus dumps every board's pin bank for a quick look at what
// the monitors currently hold.
func (sk *SlideKit) PrintIoStatus(writer io.Writer) {
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "=== registered boards ===")
	for _, monitor := range sk.devices.ordered() {
		fmt.Fprintln(writer, "________")
		fmt.Fprintf(writer, "| board: %s (connected: %v)\n", monitor.Name(), monitor.Connected())
		inputs, outputs := monitor.Pins()
		fmt.Fprintf(writer, "| in pins: ")
		for _, pin := range inputs {
			if len(pin.Name) > 0 {
				fmt.Fprintf(writer, "%d:%s=%v, ", pin.Number, pin.Name, pin.State)
			}
		}
		fmt.Fprintf(writer, "\n| out pins: ")
		for _, pin := range outputs {
			if len(pin.Name) > 0 {
				fmt.Fprintf(writer, "%d:%s=%v, ", pin.Number, pin.Name, pin.State)
			}
		}
		fmt.Fprintln(writer)
		fmt.Fprintln(writer, "--------")
	}
	fmt.Fprintln(writer, "=== slides ===")
	for _, slide := range sk.slides.All() {
		fmt.Fprintf(writer, "| %s: %s\n", slide.Name, slide.Position())
	}
	fmt.Fprintln(writer, "-----------------------------")
	fmt.Fprintln(writer)
}

// Close tears everything down: slides first (pending moves fail over),
// then the sampling loops and transports, then the sinks.
func (sk *SlideKit) Close() (err error) {
	if sk.slides != nil {
		sk.slides.Close()
	}
	if sk.devices != nil {
		err = sk.devices.Close()
	}
	if sk.Status != nil {
		sk.Status.Close()
	}
	if sk.mqttClient != nil {
		dcErr := sk.mqttClient.Disconnect(context.Background())
		if dcErr != nil && err == nil {
			err = dcErr
		}
	}
	if sk.Influx != nil {
		sk.Influx.Close()
	}
	return
}
