package metrics

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/pkg/errors"
)

const defaultMeasurement = "slidekit"

// InfluxRecorder writes pin transitions and slide move outcomes to an
// InfluxDB bucket through the non-blocking write API, so recording
// never holds up the event pump.
type InfluxRecorder struct {
	Host         string
	Organization string
	Bucket       string
	Token        string
	Measurement  string

	client   influxdb2.Client
	writeApi api.WriteAPI
	ready    bool
}

func (ir *InfluxRecorder) Setup() error {
	if len(ir.Host) == 0 {
		return errors.New("influx recorder: Host not set")
	}
	if len(ir.Measurement) == 0 {
		ir.Measurement = defaultMeasurement
	}

	ir.client = influxdb2.NewClient(ir.Host, ir.Token)
	ir.writeApi = ir.client.WriteAPI(ir.Organization, ir.Bucket)
	ir.ready = true
	return nil
}

func (ir *InfluxRecorder) IsReady() bool {
	return ir.ready
}

// RecordPin stores one pin edge: which board, which pin, which
// direction (input/output) and the new state.
func (ir *InfluxRecorder) RecordPin(board string, pin string, direction string, state bool) {
	if !ir.ready {
		return
	}

	point := influxdb2.NewPoint(ir.Measurement,
		map[string]string{
			"kind":      "pin",
			"board":     board,
			"pin":       pin,
			"direction": direction,
		},
		map[string]interface{}{
			"state": state,
		},
		time.Now())
	ir.writeApi.WritePoint(point)
}

// RecordSlide stores one slide position change.
func (ir *InfluxRecorder) RecordSlide(slide string, position string) {
	if !ir.ready {
		return
	}

	point := influxdb2.NewPoint(ir.Measurement,
		map[string]string{
			"kind":  "slide",
			"slide": slide,
		},
		map[string]interface{}{
			"position": position,
		},
		time.Now())
	ir.writeApi.WritePoint(point)
}

// RecordError stores one error notification from a board or slide.
func (ir *InfluxRecorder) RecordError(source string, err error) {
	if !ir.ready || err == nil {
		return
	}

	point := influxdb2.NewPoint(ir.Measurement,
		map[string]string{
			"kind":   "error",
			"source": source,
		},
		map[string]interface{}{
			"message": err.Error(),
		},
		time.Now())
	ir.writeApi.WritePoint(point)
}

func (ir *InfluxRecorder) Close() {
	if !ir.ready {
		return
	}
	ir.writeApi.Flush()
	ir.client.Close()
	ir.ready = false
}
