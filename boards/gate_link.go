package boards

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const gateLinkName = "gate"
const gateNetClientTimeout = 4500 * time.Millisecond

// GateLink drives one board behind an I/O gateway speaking JSON over
// HTTP. The gateway multiplexes several boards; BoardId picks ours.
type GateLink struct {
	GateAddress string
	BoardId     uint32

	readUrl   *url.URL
	writeUrl  *url.URL
	connected bool

	// one request at a time per gate, the gateway chokes on
	// concurrent commands for the same board
	gateLock sync.Mutex
}

func (gl *GateLink) boardIdString() string {
	return fmt.Sprintf("IOB_%08x", gl.BoardId)
}

func (gl *GateLink) Connect(ctx context.Context) error {
	gateUrl, err := url.Parse(gl.GateAddress)
	if err != nil {
		return errors.Wrap(err, "parsing gate url failed")
	}

	gl.readUrl, err = gateUrl.Parse("/io/read")
	if err != nil {
		return errors.Wrap(err, "parsing gate url failed")
	}
	gl.writeUrl, err = gateUrl.Parse("/io/write")
	if err != nil {
		return errors.Wrap(err, "parsing gate url failed")
	}

	// probe with a read so a dead gate fails Connect, not the first
	// sampling pass
	gl.connected = true
	_, _, err = gl.ReadInputs()
	if err != nil {
		gl.connected = false
		return errors.Wrap(err, "gate probe read failed")
	}

	return nil
}

func (gl *GateLink) Disconnect() error {
	gl.connected = false
	return nil
}

func (gl *GateLink) Connected() bool {
	return gl.connected
}

type gateReadRequest struct {
	Board string
}

type gateReadResponse struct {
	Board   string
	Inputs  uint32
	Faults  uint32
	Outputs uint32
	Status  uint32
}

type gateWriteRequest struct {
	Board string
	Set   uint32
	Clear uint32
}

func (gl *GateLink) postJson(target *url.URL, body interface{}, result interface{}) error {
	gl.gateLock.Lock()
	defer gl.gateLock.Unlock()

	var netClient = &http.Client{
		Timeout: gateNetClientTimeout,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encoding gate request failed")
	}

	req, err := http.NewRequest("POST", target.String(), bytes.NewReader(encoded))
	if err != nil {
		return errors.Wrap(err, "preparing gate request failed")
	}
	req.Header.Set("Content-Type", "application/json")

	response, err := netClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "sending gate request failed")
	}
	defer response.Body.Close()

	if response.StatusCode > 200 {
		respBody, _ := io.ReadAll(response.Body)
		return errors.Errorf("gate returned non success status code (%d), response:\n%s", response.StatusCode, respBody)
	}

	if result != nil {
		err = json.NewDecoder(response.Body).Decode(result)
		if err != nil {
			return errors.Wrap(err, "failed to decode gate json response")
		}
	}
	return nil
}

func (gl *GateLink) read() (*gateReadResponse, error) {
	if !gl.connected {
		return nil, ErrNotConnected
	}

	result := &gateReadResponse{}
	err := gl.postJson(gl.readUrl, gateReadRequest{Board: gl.boardIdString()}, result)
	if err != nil {
		return nil, err
	}
	if result.Board != gl.boardIdString() {
		return nil, errors.Errorf("gate answered for wrong board: want %s got %s", gl.boardIdString(), result.Board)
	}
	return result, nil
}

func (gl *GateLink) ReadInputs() (uint32, uint32, error) {
	result, err := gl.read()
	if err != nil {
		return 0, 0, err
	}
	return result.Inputs, result.Faults, nil
}

func (gl *GateLink) ReadOutputs() (uint32, uint32, error) {
	result, err := gl.read()
	if err != nil {
		return 0, 0, err
	}
	return result.Outputs, result.Status, nil
}

func (gl *GateLink) WriteOutputs(setMask uint32, clearMask uint32) error {
	if !gl.connected {
		return ErrNotConnected
	}

	return gl.postJson(gl.writeUrl, gateWriteRequest{
		Board: gl.boardIdString(),
		Set:   setMask,
		Clear: clearMask,
	}, nil)
}

func (gl *GateLink) String() string {
	return gateLinkName
}
