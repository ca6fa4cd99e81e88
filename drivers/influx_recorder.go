package drivers

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"

	"github.com/hubertat/httpblinds/position"
)

const influxRecorderDefaultMeasurement = "blinds"

type InfluxConfig struct {
	Host         string `json:"host" yaml:"host"`
	Token        string `json:"token" yaml:"token"`
	Organization string `json:"organization" yaml:"organization"`
	Bucket       string `json:"bucket" yaml:"bucket"`
	Measurement  string `json:"measurement" yaml:"measurement"`
}

func (ic *InfluxConfig) Validate() error {
	if len(ic.Host) == 0 {
		return errors.New("influx host missing")
	}
	if len(ic.Bucket) == 0 {
		return errors.New("influx bucket missing")
	}
	if len(ic.Measurement) == 0 {
		ic.Measurement = influxRecorderDefaultMeasurement
	}
	return nil
}

// InfluxRecorder writes every state change of a blind as a point in InfluxDB.
// Update statuses are written only when they change, not on every poll.
type InfluxRecorder struct {
	Blind string

	config   InfluxConfig
	client   influxdb2.Client
	writeApi api.WriteAPI
	logger   *log.Logger
	now      func() time.Time

	lock       sync.Mutex
	lastStatus position.UpdateStatus
}

func NewInfluxRecorder(config InfluxConfig, client influxdb2.Client, logger *log.Logger) (*InfluxRecorder, error) {
	err := config.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid influx config")
	}
	if client == nil {
		client = influxdb2.NewClient(config.Host, config.Token)
	}
	if logger == nil {
		logger = log.Default()
	}

	writeApi := client.WriteAPI(config.Organization, config.Bucket)
	// errors channel has to exist before the first write
	go watchErrors(writeApi.Errors(), logger)

	ir := &InfluxRecorder{
		config:   config,
		client:   client,
		writeApi: writeApi,
		logger:   logger,
		now:      time.Now,
	}

	return ir, nil
}

// ForBlind returns a recorder sharing the same client and write api, tagging points with name.
func (ir *InfluxRecorder) ForBlind(name string) *InfluxRecorder {
	return &InfluxRecorder{
		Blind:    name,
		config:   ir.config,
		client:   ir.client,
		writeApi: ir.writeApi,
		logger:   ir.logger,
		now:      ir.now,
	}
}

// watchErrors returns once the client closes the write api.
func watchErrors(errs <-chan error, logger *log.Logger) {
	for err := range errs {
		logger.Error("influx write failed", "err", err)
	}
}

func (ir *InfluxRecorder) point(fields map[string]interface{}) *write.Point {
	return influxdb2.NewPoint(
		ir.config.Measurement,
		map[string]string{"blind": ir.Blind},
		fields,
		ir.now(),
	)
}

func (ir *InfluxRecorder) write(fields map[string]interface{}) {
	ir.writeApi.WritePoint(ir.point(fields))
}

func (ir *InfluxRecorder) CurrentPositionChanged(p int) {
	ir.write(map[string]interface{}{"current_position": p})
}

func (ir *InfluxRecorder) TargetPositionChanged(p int) {
	ir.write(map[string]interface{}{"target_position": p})
}

func (ir *InfluxRecorder) BatteryChanged(level int, status position.BatteryStatus) {
	ir.write(map[string]interface{}{
		"battery_level": level,
		"low_battery":   status == position.BatteryLow,
	})
}

func (ir *InfluxRecorder) LastUpdateChanged(update position.LastUpdate) {
	ir.lock.Lock()
	changed := update.Status != ir.lastStatus
	ir.lastStatus = update.Status
	ir.lock.Unlock()

	if changed {
		ir.write(map[string]interface{}{"update_status": update.Status.String()})
	}
}

// Close flushes pending points and closes the client. Recorders returned by
// ForBlind share the client, close only the original.
func (ir *InfluxRecorder) Close() error {
	ir.client.Close()
	return nil
}
