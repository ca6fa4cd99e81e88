package position

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultGetMethod    = "GET"
	DefaultSetMethod    = "POST"

	// RequestTimeout bounds every call made to the device.
	RequestTimeout = 15 * time.Second
)

// DeviceClient performs the plain text HTTP calls understood by the blinds device.
type DeviceClient interface {
	Get(ctx context.Context, url, method string) (string, error)
	Set(ctx context.Context, url, method string) error
}

type BatteryConfig struct {
	URL    string
	Method string
}

type Config struct {
	Name string

	GetPositionURL    string
	GetPositionMethod string

	// SetPositionURL contains the %position% placeholder.
	SetPositionURL    string
	SetPositionMethod string

	PollInterval time.Duration
	Tolerance    int

	Battery *BatteryConfig
}

func (cfg *Config) setDefaults() {
	if len(cfg.GetPositionMethod) == 0 {
		cfg.GetPositionMethod = DefaultGetMethod
	}
	if len(cfg.SetPositionMethod) == 0 {
		cfg.SetPositionMethod = DefaultSetMethod
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = 0
	}
	if cfg.Battery != nil && len(cfg.Battery.Method) == 0 {
		cfg.Battery.Method = DefaultGetMethod
	}
}

// Controller keeps the last known state of one blind. It polls the device,
// snaps readings that are within tolerance of the target and suspends polling
// while a move requested by the user is being sent.
type Controller struct {
	cfg      Config
	device   DeviceClient
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	lock sync.Mutex

	current, target       int
	hasCurrent, hasTarget bool
	battery               int
	hasBattery            bool
	lastUpdate            LastUpdate

	// pending outboxes are delivered in the order they were queued,
	// by one flusher at a time holding notifyLock
	pending    []outbox
	notifyLock sync.Mutex

	pollTimer *time.Timer
	timerSeq  uint64
	moving    int
	moveSeq   uint64
	started   bool
	closed    bool
}

func NewController(cfg Config, device DeviceClient, notifier Notifier, logger *log.Logger) *Controller {
	cfg.setDefaults()
	if logger == nil {
		logger = log.Default()
	}

	return &Controller{
		cfg:      cfg,
		device:   device,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func (c *Controller) Name() string {
	return c.cfg.Name
}

func (c *Controller) Config() Config {
	return c.cfg
}

func (c *Controller) HasBattery() bool {
	return c.cfg.Battery != nil
}

// Start runs the initial sync poll in the background. Subsequent polls are
// scheduled every PollInterval until Close is called.
func (c *Controller) Start(ctx context.Context) {
	c.lock.Lock()
	if c.started || c.closed {
		c.lock.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.lock.Unlock()

	c.logger.Infof("Polling blind state every %dms", c.cfg.PollInterval.Milliseconds())

	go c.poll(true, 0)
}

// Close stops polling and waits for background battery refreshes to return.
func (c *Controller) Close() error {
	c.lock.Lock()
	c.closed = true
	c.stopTimer()
	if c.cancel != nil {
		c.cancel()
	}
	c.lock.Unlock()

	c.bg.Wait()
	return nil
}

func (c *Controller) CurrentPosition() (int, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.current, c.hasCurrent
}

func (c *Controller) TargetPosition() (int, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.target, c.hasTarget
}

func (c *Controller) BatteryLevel() (int, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.battery, c.hasBattery
}

func (c *Controller) LowBatteryStatus() BatteryStatus {
	c.lock.Lock()
	defer c.lock.Unlock()

	return LowBattery(c.battery, c.hasBattery)
}

func (c *Controller) LastUpdate() LastUpdate {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.lastUpdate
}

// RequestPosition moves the blind to p. Polling is suspended until the device
// call returns and the requested value has been applied as the current
// position. The returned error only reports a failed device call; the
// sequence completes either way. Notifiers must not call it synchronously.
func (c *Controller) RequestPosition(ctx context.Context, p int) error {
	if err := validate(p); err != nil {
		c.logger.Errorf("Rejected new position: %v", err)
		return err
	}

	var requested outbox
	requested.target(p)

	c.lock.Lock()
	c.target = p
	c.hasTarget = true
	c.moving++
	c.moveSeq++
	c.stopTimer()
	c.enqueue(requested)
	c.lock.Unlock()

	c.logger.Infof("Requested new position: %s", Label(p))
	// a slow notifier must not hold back the device call
	go c.flush()

	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	err := c.device.Set(reqCtx, FormatURL(c.cfg.SetPositionURL, p), c.cfg.SetPositionMethod)
	cancel()
	if err != nil {
		err = transportError(err, "set position")
		c.logger.Errorf("Error setting the new position: %s", StripNewlines(err.Error()))
	}

	c.lock.Lock()
	c.moving--
	out, _ := c.reconcile(p)
	c.enqueue(out)
	if c.moving == 0 && c.started && !c.closed {
		c.startTimer()
	}
	c.lock.Unlock()

	c.flush()

	return err
}

// Reconcile applies an observed device position to the current position.
func (c *Controller) Reconcile(observed int) error {
	c.lock.Lock()
	out, err := c.reconcile(observed)
	c.enqueue(out)
	c.lock.Unlock()

	c.flush()
	return err
}

func (c *Controller) reconcile(observed int) (out outbox, err error) {
	if err = validate(observed); err != nil {
		c.logger.Errorf("Error setting current position: %v", err)
		return
	}

	effective := observed
	if c.hasTarget && abs(c.target-observed) <= c.cfg.Tolerance {
		effective = c.target
	}

	if !c.hasCurrent || effective != c.current {
		if !c.hasCurrent {
			c.logger.Infof("Setting initial position: %s", Label(effective))
		} else {
			c.logger.Infof("Blind has moved, new position: %s", Label(effective))
		}
		out.current(effective)
	}

	c.current = effective
	c.hasCurrent = true
	return
}

func (c *Controller) poll(initial bool, seq uint64) {
	c.lock.Lock()
	if c.closed || c.moving > 0 || (!initial && seq != c.timerSeq) {
		c.lock.Unlock()
		return
	}
	c.pollTimer = nil
	moves := c.moveSeq
	ctx := c.ctx
	c.lock.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	body, err := c.device.Get(reqCtx, c.cfg.GetPositionURL, c.cfg.GetPositionMethod)
	cancel()

	var observed int
	if err == nil {
		observed, err = ParseBody(body)
	}

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return
	}
	if c.moving > 0 || c.moveSeq != moves {
		c.logger.Debug("discarding poll result, position was requested meanwhile")
		c.lock.Unlock()
		return
	}

	var out outbox
	c.lastUpdate.Time = c.now()
	if err != nil {
		c.lastUpdate.Status = UpdateFailed
		c.logger.Errorf("Error in getting current position: %s", StripNewlines(err.Error()))
	} else {
		c.lastUpdate.Status = UpdateSuccess
		c.logger.Debugf("Current position fetched: %d", observed)
		out, _ = c.reconcile(observed)
		if (initial || !c.hasTarget) && c.hasCurrent {
			c.target = c.current
			c.hasTarget = true
			out.target(c.current)
		}
		if c.cfg.Battery != nil {
			c.bg.Add(1)
			go c.refreshBattery(ctx)
		}
	}
	out.lastUpdate(c.lastUpdate)
	c.enqueue(out)
	c.startTimer()
	c.lock.Unlock()

	c.flush()
}

func (c *Controller) refreshBattery(ctx context.Context) {
	defer c.bg.Done()

	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	body, err := c.device.Get(reqCtx, c.cfg.Battery.URL, c.cfg.Battery.Method)
	cancel()

	var level int
	if err == nil {
		level, err = ParseBody(body)
	}
	if err != nil {
		c.logger.Errorf("Error in getting battery level: %s", StripNewlines(err.Error()))
		return
	}
	c.logger.Debugf("Battery level fetched: %d", level)

	var out outbox
	out.battery(level, LowBattery(level, true))

	c.lock.Lock()
	c.battery = level
	c.hasBattery = true
	c.enqueue(out)
	c.lock.Unlock()

	c.flush()
}

func (c *Controller) startTimer() {
	c.stopTimer()

	c.timerSeq++
	seq := c.timerSeq
	c.pollTimer = time.AfterFunc(c.cfg.PollInterval, func() {
		c.poll(false, seq)
	})
}

func (c *Controller) stopTimer() {
	if c.pollTimer != nil {
		c.pollTimer.Stop()
		c.pollTimer = nil
	}
	c.timerSeq++
}

func (c *Controller) timerPending() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.pollTimer != nil
}

// enqueue must be called with lock held.
func (c *Controller) enqueue(out outbox) {
	if len(out) > 0 {
		c.pending = append(c.pending, out)
	}
}

// flush delivers queued outboxes outside lock. Whoever holds notifyLock drains
// everything queued meanwhile, so a value never overtakes an older one.
func (c *Controller) flush() {
	c.notifyLock.Lock()
	defer c.notifyLock.Unlock()

	for {
		c.lock.Lock()
		if len(c.pending) == 0 {
			c.lock.Unlock()
			return
		}
		out := c.pending[0]
		c.pending = c.pending[1:]
		c.lock.Unlock()

		out.deliver(c.notifier)
	}
}

// transportError keeps err in the ErrTransport chain when the device client
// did not already put it there.
func transportError(err error, op string) error {
	if errors.Is(err, ErrTransport) {
		return errors.Wrap(err, op)
	}
	return errors.Wrapf(ErrTransport, "%s: %v", op, err)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
