package drivers

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hubertat/httpblinds/position"
	"github.com/julienschmidt/httprouter"
)

const mockDeviceDefaultStep = 10

// MockDevice is an in-memory blind moving towards its target one Step at a time.
type MockDevice struct {
	StepSize int
	Noise    int
	Battery  int

	// Failing makes every endpoint respond with 500.
	Failing bool

	lock     sync.Mutex
	position int
	target   int
	writeTo  io.Writer
	random   *rand.Rand
}

func NewMockDevice(start int) *MockDevice {
	return &MockDevice{
		StepSize: mockDeviceDefaultStep,
		Battery:  100,
		position: start,
		target:   start,
		random:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (md *MockDevice) Position() int {
	md.lock.Lock()
	defer md.lock.Unlock()

	return md.position
}

func (md *MockDevice) Target() int {
	md.lock.Lock()
	defer md.lock.Unlock()

	return md.target
}

func (md *MockDevice) SetTarget(target int) error {
	if !position.Valid(target) {
		return fmt.Errorf("mock target %d out of range", target)
	}

	md.lock.Lock()
	defer md.lock.Unlock()

	md.target = target
	return nil
}

func (md *MockDevice) SetBattery(level int) {
	md.lock.Lock()
	defer md.lock.Unlock()

	md.Battery = level
}

func (md *MockDevice) SetFailing(failing bool) {
	md.lock.Lock()
	defer md.lock.Unlock()

	md.Failing = failing
}

// Step moves the blind one step towards its target and reports whether it moved.
func (md *MockDevice) Step() bool {
	md.lock.Lock()
	defer md.lock.Unlock()

	step := md.StepSize
	if step <= 0 {
		step = mockDeviceDefaultStep
	}

	before := md.position
	switch {
	case md.target > md.position:
		md.position = min(md.position+step, md.target)
	case md.target < md.position:
		md.position = max(md.position-step, md.target)
	}

	if md.writeTo != nil && before != md.position {
		fmt.Fprintf(md.writeTo, "[mock blind] position changed to %s\n", position.Label(md.position))
	}
	return before != md.position
}

// Run steps the blind every interval until ctx is done.
func (md *MockDevice) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			md.Step()
		}
	}
}

func (md *MockDevice) MonitorStateChanges(writer io.Writer) {
	md.lock.Lock()
	defer md.lock.Unlock()

	md.writeTo = writer
}

// reported returns the position with noise applied, as a real sensor would read it.
func (md *MockDevice) reported() int {
	if md.Noise <= 0 {
		return md.position
	}
	if md.random == nil {
		md.random = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	noisy := md.position + md.random.Intn(2*md.Noise+1) - md.Noise
	return min(max(noisy, position.Closed), position.Open)
}

func (md *MockDevice) Handler() http.Handler {
	handler := httprouter.New()
	handler.GET("/position", md.handleGetPosition)
	handler.GET("/position/:position", md.handleSetPosition)
	handler.POST("/position/:position", md.handleSetPosition)
	handler.GET("/battery", md.handleGetBattery)

	return handler
}

func (md *MockDevice) failing(w http.ResponseWriter) bool {
	md.lock.Lock()
	failing := md.Failing
	md.lock.Unlock()

	if failing {
		http.Error(w, "mock device failure", http.StatusInternalServerError)
	}
	return failing
}

func (md *MockDevice) handleGetPosition(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if md.failing(w) {
		return
	}

	md.lock.Lock()
	reported := md.reported()
	md.lock.Unlock()

	fmt.Fprint(w, reported)
}

func (md *MockDevice) handleSetPosition(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if md.failing(w) {
		return
	}

	target, err := strconv.Atoi(ps.ByName("position"))
	if err != nil {
		http.Error(w, "position is not an integer", http.StatusBadRequest)
		return
	}

	err = md.SetTarget(target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fmt.Fprint(w, target)
}

func (md *MockDevice) handleGetBattery(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if md.failing(w) {
		return
	}

	md.lock.Lock()
	battery := md.Battery
	md.lock.Unlock()

	fmt.Fprint(w, battery)
}
