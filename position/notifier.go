package position

// LowBatteryThreshold is the highest battery level still reported as low.
const LowBatteryThreshold = 20

type BatteryStatus int

const (
	BatteryNormal BatteryStatus = iota
	BatteryLow
)

func (bs BatteryStatus) String() string {
	if bs == BatteryLow {
		return "low"
	}
	return "normal"
}

func LowBattery(level int, known bool) BatteryStatus {
	if known && level <= LowBatteryThreshold {
		return BatteryLow
	}
	return BatteryNormal
}

// Notifier receives state changes pushed by a Controller. Calls are made
// without the controller lock held, so implementations may query it back.
type Notifier interface {
	CurrentPositionChanged(p int)
	TargetPositionChanged(p int)
	BatteryChanged(level int, status BatteryStatus)
	LastUpdateChanged(update LastUpdate)
}

// Notifiers fans every notification out to all of its members in order.
type Notifiers []Notifier

func (ns Notifiers) CurrentPositionChanged(p int) {
	for _, n := range ns {
		n.CurrentPositionChanged(p)
	}
}

func (ns Notifiers) TargetPositionChanged(p int) {
	for _, n := range ns {
		n.TargetPositionChanged(p)
	}
}

func (ns Notifiers) BatteryChanged(level int, status BatteryStatus) {
	for _, n := range ns {
		n.BatteryChanged(level, status)
	}
}

func (ns Notifiers) LastUpdateChanged(update LastUpdate) {
	for _, n := range ns {
		n.LastUpdateChanged(update)
	}
}

// outbox collects notifications while the controller lock is held so they
// can be delivered after it is released.
type outbox []func(Notifier)

func (o *outbox) current(p int) {
	*o = append(*o, func(n Notifier) { n.CurrentPositionChanged(p) })
}

func (o *outbox) target(p int) {
	*o = append(*o, func(n Notifier) { n.TargetPositionChanged(p) })
}

func (o *outbox) battery(level int, status BatteryStatus) {
	*o = append(*o, func(n Notifier) { n.BatteryChanged(level, status) })
}

func (o *outbox) lastUpdate(update LastUpdate) {
	*o = append(*o, func(n Notifier) { n.LastUpdateChanged(update) })
}

func (o outbox) deliver(n Notifier) {
	if n == nil {
		return
	}
	for _, send := range o {
		send(n)
	}
}
