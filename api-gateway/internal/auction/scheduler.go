package auction

import "time"

// scheduler keeps exactly one expiration timer armed for an actor's end
// time. It is owned by the actor goroutine and needs no locking.
type scheduler struct {
	clock  Clock
	timer  Timer
	onFire func(at time.Time)
}

func newScheduler(clock Clock, onFire func(at time.Time)) *scheduler {
	return &scheduler{clock: clock, onFire: onFire}
}

// Arm cancels any pending timer and schedules a fire at the given instant.
func (s *scheduler) Arm(at time.Time) {
	s.Stop()
	d := at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.timer = s.clock.AfterFunc(d, func() { s.onFire(at) })
}

// Stop cancels the pending timer, if any.
func (s *scheduler) Stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
