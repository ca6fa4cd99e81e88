package httpblinds

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubertat/httpblinds/api"
	"github.com/hubertat/httpblinds/position"
)

type staticDevice struct {
	lock     sync.Mutex
	position string
	sets     []string
}

func (sd *staticDevice) Get(context.Context, string, string) (string, error) {
	sd.lock.Lock()
	defer sd.lock.Unlock()

	return sd.position, nil
}

func (sd *staticDevice) Set(_ context.Context, url, _ string) error {
	sd.lock.Lock()
	defer sd.lock.Unlock()

	sd.sets = append(sd.sets, url)
	return nil
}

func (sd *staticDevice) setCalls() []string {
	sd.lock.Lock()
	defer sd.lock.Unlock()

	return append([]string{}, sd.sets...)
}

func discard() *log.Logger {
	return log.New(io.Discard)
}

func TestBlindControllerConfig(t *testing.T) {
	bl := &Blind{
		Name:                            "Kitchen",
		GetCurrentPositionUrl:           "http://blind/position",
		SetTargetPositionUrl:            "http://blind/position/%position%",
		GetCurrentPositionPollingMillis: 1500,
		CurrentPositionTolerance:        4,
	}

	cfg := bl.ControllerConfig()
	assert.Equal(t, "Kitchen", cfg.Name)
	assert.Equal(t, 1500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 4, cfg.Tolerance)
	assert.Nil(t, cfg.Battery)

	bl.GetBatteryLevelUrl = "http://blind/battery"
	require.NotNil(t, bl.ControllerConfig().Battery)
	assert.Equal(t, "http://blind/battery", bl.ControllerConfig().Battery.URL)
}

func TestBlindUniqueId(t *testing.T) {
	kitchen := &Blind{Name: "Kitchen"}
	bedroom := &Blind{Name: "Bedroom"}

	assert.Equal(t, kitchen.GetUniqueId(), (&Blind{Name: "Kitchen"}).GetUniqueId())
	assert.NotEqual(t, kitchen.GetUniqueId(), bedroom.GetUniqueId())
}

func TestBlindInitRequiresName(t *testing.T) {
	bl := &Blind{}
	assert.Error(t, bl.Init(&staticDevice{}, discard()))
	assert.Nil(t, bl.GetHk())
	assert.NoError(t, bl.Close())
}

func TestBlindInitWiresAccessory(t *testing.T) {
	bl := &Blind{
		Name:                  "Kitchen",
		GetCurrentPositionUrl: "http://blind/position",
		SetTargetPositionUrl:  "http://blind/position/%position%",
		GetBatteryLevelUrl:    "http://blind/battery",
		Api:                   &api.Config{Host: "127.0.0.1"},
	}
	device := &staticDevice{position: "40"}
	require.NoError(t, bl.Init(device, discard()))
	defer bl.Close()

	require.NotNil(t, bl.GetHk())
	require.NotNil(t, bl.hk.Battery)
	require.NotNil(t, bl.apiServer)

	require.NoError(t, bl.Controller().Reconcile(40))
	assert.Equal(t, 40, bl.hk.WindowCovering.CurrentPosition.Value())

	require.NoError(t, bl.Controller().RequestPosition(context.Background(), 90))
	assert.Equal(t, 90, bl.hk.WindowCovering.TargetPosition.Value())
	assert.Equal(t, 90, bl.hk.WindowCovering.CurrentPosition.Value())
	assert.Equal(t, characteristic.PositionStateStopped, bl.hk.WindowCovering.PositionState.Value())
	assert.Equal(t, []string{"http://blind/position/90"}, device.setCalls())
}

func TestWindowCoveringPositionState(t *testing.T) {
	wc := NewWindowCoveringAccessory(accessory.Info{Name: "Test"}, false, discard())
	assert.Nil(t, wc.Battery)

	wc.CurrentPositionChanged(20)
	assert.Equal(t, characteristic.PositionStateStopped, wc.WindowCovering.PositionState.Value())

	wc.TargetPositionChanged(80)
	assert.Equal(t, characteristic.PositionStateIncreasing, wc.WindowCovering.PositionState.Value())

	wc.TargetPositionChanged(0)
	assert.Equal(t, characteristic.PositionStateDecreasing, wc.WindowCovering.PositionState.Value())

	wc.CurrentPositionChanged(0)
	assert.Equal(t, characteristic.PositionStateStopped, wc.WindowCovering.PositionState.Value())

	// no battery service, must not panic
	wc.BatteryChanged(10, position.BatteryLow)
}

func TestWindowCoveringBatteryAndLastUpdate(t *testing.T) {
	wc := NewWindowCoveringAccessory(accessory.Info{Name: "Test"}, true, discard())
	now := time.Date(2024, 5, 1, 18, 30, 0, 0, time.Local)
	wc.now = func() time.Time { return now }

	assert.Equal(t, "n/a", wc.LastUpdate.Value())
	assert.Equal(t, service.TypeBatteryService, wc.Battery.Type)
	assert.Contains(t, wc.Ss, wc.Battery.S)
	assert.Equal(t, characteristic.ChargingStateNotCharging, wc.Battery.ChargingState.Value())

	wc.BatteryChanged(15, position.BatteryLow)
	assert.Equal(t, 15, wc.Battery.BatteryLevel.Value())
	assert.Equal(t, characteristic.StatusLowBatteryBatteryLevelLow, wc.Battery.StatusLowBattery.Value())

	wc.BatteryChanged(60, position.BatteryNormal)
	assert.Equal(t, characteristic.StatusLowBatteryBatteryLevelNormal, wc.Battery.StatusLowBattery.Value())

	wc.LastUpdateChanged(position.LastUpdate{Time: now.Add(-2 * time.Minute), Status: position.UpdateFailed})
	assert.Equal(t, "18:28 - 2 minutes ago", wc.LastUpdate.Value())
	assert.Equal(t, "Failed", wc.UpdateStatus.Value())
}

type requestRecorder struct {
	requested chan int
}

func (rr *requestRecorder) RequestPosition(_ context.Context, p int) error {
	rr.requested <- p
	return nil
}

func TestWindowCoveringRemoteUpdate(t *testing.T) {
	wc := NewWindowCoveringAccessory(accessory.Info{Name: "Test"}, false, discard())

	// before a requester is set the update is dropped
	wc.remoteTargetUpdate(10)

	recorder := &requestRecorder{requested: make(chan int, 1)}
	wc.SetRequester(recorder)
	wc.remoteTargetUpdate(65)

	select {
	case p := <-recorder.requested:
		assert.Equal(t, 65, p)
	case <-time.After(2 * time.Second):
		t.Fatal("HomeKit update did not reach the controller")
	}
}
