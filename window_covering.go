package httpblinds

import (
	"context"
	"sync"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/charmbracelet/log"

	"github.com/hubertat/httpblinds/position"
)

const (
	TypeLastUpdate   = "3C475AB4-9D90-11E8-98D0-529269FB1459"
	TypeUpdateStatus = "3C475F0A-9D90-11E8-98D0-529269FB1459"
)

// newBatteryService reports a battery that is never charging.
func newBatteryService() *service.BatteryService {
	bs := service.NewBatteryService()
	bs.ChargingState.SetValue(characteristic.ChargingStateNotCharging)
	bs.StatusLowBattery.SetValue(characteristic.StatusLowBatteryBatteryLevelNormal)
	return bs
}

func newReadOnlyString(typ, description string) *characteristic.String {
	c := characteristic.NewString(typ)
	c.Description = description
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionEvents}
	c.SetValue("n/a")
	return c
}

type PositionRequester interface {
	RequestPosition(ctx context.Context, p int) error
}

// WindowCoveringAccessory exposes a blind over HomeKit and mirrors every state
// change pushed by its controller.
type WindowCoveringAccessory struct {
	*accessory.A
	WindowCovering *service.WindowCovering
	LastUpdate     *characteristic.String
	UpdateStatus   *characteristic.String
	Battery        *service.BatteryService

	lock                  sync.Mutex
	current, target       int
	hasCurrent, hasTarget bool
	requester             PositionRequester
	logger                *log.Logger
	now                   func() time.Time
}

func NewWindowCoveringAccessory(info accessory.Info, withBattery bool, logger *log.Logger) *WindowCoveringAccessory {
	if logger == nil {
		logger = log.Default()
	}

	wc := WindowCoveringAccessory{
		logger: logger,
		now:    time.Now,
	}
	wc.A = accessory.New(info, accessory.TypeWindowCovering)
	wc.WindowCovering = service.NewWindowCovering()
	wc.WindowCovering.PositionState.SetValue(characteristic.PositionStateStopped)

	wc.LastUpdate = newReadOnlyString(TypeLastUpdate, "Last update")
	wc.UpdateStatus = newReadOnlyString(TypeUpdateStatus, "Update status")
	wc.WindowCovering.AddC(wc.LastUpdate.C)
	wc.WindowCovering.AddC(wc.UpdateStatus.C)

	wc.AddS(wc.WindowCovering.S)

	if withBattery {
		wc.Battery = newBatteryService()
		wc.AddS(wc.Battery.S)
	}

	wc.WindowCovering.TargetPosition.OnValueRemoteUpdate(wc.remoteTargetUpdate)

	return &wc
}

// SetRequester connects HomeKit target position writes to the controller.
func (wc *WindowCoveringAccessory) SetRequester(requester PositionRequester) {
	wc.lock.Lock()
	defer wc.lock.Unlock()

	wc.requester = requester
}

func (wc *WindowCoveringAccessory) remoteTargetUpdate(target int) {
	wc.lock.Lock()
	requester := wc.requester
	wc.lock.Unlock()

	if requester == nil {
		wc.logger.Warn("target position received before blind was initialised", "target", target)
		return
	}

	// HomeKit expects a quick answer, the move itself may take up to the request timeout
	go func() {
		err := requester.RequestPosition(context.Background(), target)
		if err != nil {
			wc.logger.Warn("HomeKit position request failed", "target", target, "err", err)
		}
	}()
}

func (wc *WindowCoveringAccessory) positionState() int {
	if !wc.hasCurrent || !wc.hasTarget || wc.current == wc.target {
		return characteristic.PositionStateStopped
	}
	if wc.target > wc.current {
		return characteristic.PositionStateIncreasing
	}
	return characteristic.PositionStateDecreasing
}

func (wc *WindowCoveringAccessory) updatePositionState() {
	wc.WindowCovering.PositionState.SetValue(wc.positionState())
}

func (wc *WindowCoveringAccessory) CurrentPositionChanged(p int) {
	wc.lock.Lock()
	defer wc.lock.Unlock()

	wc.current, wc.hasCurrent = p, true
	wc.WindowCovering.CurrentPosition.SetValue(p)
	wc.updatePositionState()
}

func (wc *WindowCoveringAccessory) TargetPositionChanged(p int) {
	wc.lock.Lock()
	defer wc.lock.Unlock()

	wc.target, wc.hasTarget = p, true
	wc.WindowCovering.TargetPosition.SetValue(p)
	wc.updatePositionState()
}

func (wc *WindowCoveringAccessory) BatteryChanged(level int, status position.BatteryStatus) {
	if wc.Battery == nil {
		return
	}

	wc.Battery.BatteryLevel.SetValue(level)
	if status == position.BatteryLow {
		wc.Battery.StatusLowBattery.SetValue(characteristic.StatusLowBatteryBatteryLevelLow)
	} else {
		wc.Battery.StatusLowBattery.SetValue(characteristic.StatusLowBatteryBatteryLevelNormal)
	}
}

func (wc *WindowCoveringAccessory) LastUpdateChanged(update position.LastUpdate) {
	wc.LastUpdate.SetValue(update.Describe(wc.now()))
	wc.UpdateStatus.SetValue(update.Status.String())
}
