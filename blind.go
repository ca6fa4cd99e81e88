package httpblinds

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/httpblinds/api"
	"github.com/hubertat/httpblinds/position"
)

// Blind is a single window covering as configured by the user.
type Blind struct {
	Name string `json:"name" yaml:"name"`

	GetCurrentPositionUrl           string `json:"get_current_position_url" yaml:"get_current_position_url"`
	SetTargetPositionUrl            string `json:"set_target_position_url" yaml:"set_target_position_url"`
	GetCurrentPositionMethod        string `json:"get_current_position_method" yaml:"get_current_position_method"`
	SetTargetPositionMethod         string `json:"set_target_position_method" yaml:"set_target_position_method"`
	GetCurrentPositionPollingMillis int    `json:"get_current_position_polling_millis" yaml:"get_current_position_polling_millis"`
	CurrentPositionTolerance        int    `json:"current_position_tolerance" yaml:"current_position_tolerance"`
	GetBatteryLevelUrl              string `json:"get_battery_level_url" yaml:"get_battery_level_url"`

	Api *api.Config `json:"api" yaml:"api"`

	controller  *position.Controller
	hk          *WindowCoveringAccessory
	broadcaster *api.Broadcaster
	apiServer   *api.Server
	logger      *log.Logger
}

func (bl *Blind) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("Blind_" + bl.Name))
	return hash.Sum64()
}

// ControllerConfig maps the user facing keys on the controller configuration.
func (bl *Blind) ControllerConfig() position.Config {
	cfg := position.Config{
		Name:              bl.Name,
		GetPositionURL:    bl.GetCurrentPositionUrl,
		GetPositionMethod: bl.GetCurrentPositionMethod,
		SetPositionURL:    bl.SetTargetPositionUrl,
		SetPositionMethod: bl.SetTargetPositionMethod,
		PollInterval:      time.Duration(bl.GetCurrentPositionPollingMillis) * time.Millisecond,
		Tolerance:         bl.CurrentPositionTolerance,
	}
	if len(bl.GetBatteryLevelUrl) > 0 {
		cfg.Battery = &position.BatteryConfig{URL: bl.GetBatteryLevelUrl}
	}

	return cfg
}

// Init builds the HomeKit accessory and the controller. The accessory, the
// status stream (when api is set) and every extra notifier receive the
// controller notifications.
func (bl *Blind) Init(device position.DeviceClient, logger *log.Logger, extra ...position.Notifier) error {
	if len(bl.Name) == 0 {
		return errors.New("blind name is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	bl.logger = logger.WithPrefix(bl.Name)

	cfg := bl.ControllerConfig()

	info := accessory.Info{
		Name:         bl.Name,
		SerialNumber: fmt.Sprintf("blind:%016x", bl.GetUniqueId()),
		Manufacturer: homeKitBridgeAuthor,
		Model:        homeKitBlindModel,
	}
	bl.hk = NewWindowCoveringAccessory(info, cfg.Battery != nil, bl.logger)

	notifiers := position.Notifiers{bl.hk}
	if bl.Api != nil {
		bl.broadcaster = api.NewBroadcaster()
		notifiers = append(notifiers, bl.broadcaster)
	}
	notifiers = append(notifiers, extra...)

	bl.controller = position.NewController(cfg, device, notifiers, bl.logger)
	bl.hk.SetRequester(bl.controller)

	if bl.Api != nil {
		bl.broadcaster.SetSource(bl.controller)
		bl.apiServer = api.NewServer(*bl.Api, bl.controller, bl.broadcaster, bl.logger.WithPrefix(bl.Name+" api"))
	}

	return nil
}

func (bl *Blind) Controller() *position.Controller {
	return bl.controller
}

func (bl *Blind) GetHk() *accessory.A {
	if bl.hk == nil {
		return nil
	}
	return bl.hk.A
}

func (bl *Blind) Close() error {
	if bl.controller == nil {
		return nil
	}
	return bl.controller.Close()
}
