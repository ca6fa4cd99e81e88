package position

import "time"

type DescribedPosition struct {
	Value       *int   `json:"value"`
	Description string `json:"description"`
}

type LastUpdateStatus struct {
	Value       *time.Time `json:"value"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
}

type CurrentPositionStatus struct {
	DescribedPosition
	LastUpdate LastUpdateStatus `json:"lastUpdate"`
}

// Status is a point in time snapshot of everything a Controller knows.
type Status struct {
	Battery         *int                  `json:"battery"`
	TargetPosition  DescribedPosition     `json:"targetPosition"`
	CurrentPosition CurrentPositionStatus `json:"currentPosition"`
}

func describe(p int, known bool) DescribedPosition {
	dp := DescribedPosition{Description: LabelOf(p, known)}
	if known {
		dp.Value = &p
	}
	return dp
}

func (c *Controller) Status() Status {
	c.lock.Lock()
	defer c.lock.Unlock()

	now := c.now()
	st := Status{
		TargetPosition: describe(c.target, c.hasTarget),
		CurrentPosition: CurrentPositionStatus{
			DescribedPosition: describe(c.current, c.hasCurrent),
			LastUpdate: LastUpdateStatus{
				Description: c.lastUpdate.Describe(now),
				Status:      c.lastUpdate.Status.String(),
			},
		},
	}

	if c.hasBattery {
		level := c.battery
		st.Battery = &level
	}
	if c.lastUpdate.Known() {
		ts := c.lastUpdate.Time
		st.CurrentPosition.LastUpdate.Value = &ts
	}

	return st
}
