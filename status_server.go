package slidekit

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"slidekit/boards"
)

const statusHttpTimeoutsMs = 3000

// StatusServer exposes board and slide state over plain HTTP and
// accepts slide commands. Every route carries the shared token.
type StatusServer struct {
	Token    string
	HttpAddr string

	kit    *SlideKit
	server *http.Server
}

func (ss *StatusServer) router() http.Handler {
	handler := httprouter.New()
	handler.GET("/boards/token/:token", ss.handleBoards)
	handler.GET("/boards/:name/pins/token/:token", ss.handleBoardPins)
	handler.GET("/slides/token/:token", ss.handleSlides)
	handler.POST("/slides/:name/:command/token/:token", ss.handleSlideCommand)
	return handler
}

func (ss *StatusServer) Start(kit *SlideKit) error {
	ss.kit = kit

	httpTimeout := statusHttpTimeoutsMs * time.Millisecond

	ss.server = &http.Server{
		Addr:              ss.HttpAddr,
		Handler:           ss.router(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	go func() {
		err := ss.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			ss.kit.logger.Error("status server stopped", "err", err)
		}
	}()

	return nil
}

func (ss *StatusServer) Close() error {
	if ss.server == nil {
		return nil
	}
	return ss.server.Close()
}

func (ss *StatusServer) checkToken(w http.ResponseWriter, p httprouter.Params) bool {
	if !strings.EqualFold(p.ByName("token"), ss.Token) {
		http.Error(w, "token mismatch", http.StatusUnauthorized)
		return false
	}
	return true
}

func writeJson(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

type boardStatus struct {
	Name      string
	Capacity  uint8
	Connected bool
}

func (ss *StatusServer) handleBoards(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !ss.checkToken(w, p) {
		return
	}

	status := []boardStatus{}
	for _, monitor := range ss.kit.devices.ordered() {
		status = append(status, boardStatus{
			Name:      monitor.Name(),
			Capacity:  uint8(monitor.Capacity()),
			Connected: monitor.Connected(),
		})
	}
	writeJson(w, status)
}

type boardPins struct {
	Board   string
	Inputs  []boards.PinState
	Outputs []boards.PinState
}

func (ss *StatusServer) handleBoardPins(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !ss.checkToken(w, p) {
		return
	}

	monitor, err := ss.kit.devices.GetOrCreate(p.ByName("name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	inputs, outputs := monitor.Pins()
	writeJson(w, boardPins{Board: monitor.Name(), Inputs: inputs, Outputs: outputs})
}

type slideStatus struct {
	Name     string
	Position string
	Moving   bool
}

func (ss *StatusServer) handleSlides(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !ss.checkToken(w, p) {
		return
	}

	status := []slideStatus{}
	for _, slide := range ss.kit.slides.All() {
		status = append(status, slideStatus{
			Name:     slide.Name,
			Position: slide.Position().String(),
			Moving:   slide.Moving(),
		})
	}
	writeJson(w, status)
}

// handleSlideCommand starts a move and answers immediately; the
// outcome shows up in the slide status and on the event surfaces.
func (ss *StatusServer) handleSlideCommand(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !ss.checkToken(w, p) {
		return
	}

	slide, err := ss.kit.slides.Get(p.ByName("name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var move func() error
	switch p.ByName("command") {
	case "extend":
		move = slide.Extend
	case "retract":
		move = slide.Retract
	default:
		http.Error(w, "unrecognized slide command", http.StatusBadRequest)
		return
	}

	go func() {
		err := move()
		if err != nil {
			ss.kit.logger.Error("http commanded move failed", "slide", slide.Name, "err", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}
