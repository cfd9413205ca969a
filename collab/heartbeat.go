package collab

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

// heartbeatMonitor verifies transport liveness on a short recurring tick.
// On each tick it sends a heartbeat control message if the transport is
// open and no heartbeat has been recorded within the threshold, then
// re-arms exactly once regardless of branch. The send itself never
// raises. A failed send surfaces through the transport's own error path.
type heartbeatMonitor struct {
	mutex sync.Mutex

	tick      time.Duration
	threshold time.Duration

	isOpen func() bool
	send   func()

	timer      *time.Timer
	lastSentAt time.Time
	running    bool
}

func newHeartbeatMonitor(tick time.Duration, threshold time.Duration, isOpen func() bool, send func()) *heartbeatMonitor {
	return &heartbeatMonitor{
		tick:      tick,
		threshold: threshold,
		isOpen:    isOpen,
		send:      send,
	}
}

// start clears any pending tick and begins a fresh heartbeat cycle.
func (self *heartbeatMonitor) start() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.timer != nil {
		self.timer.Stop()
	}
	self.running = true
	self.lastSentAt = time.Time{}
	self.timer = time.AfterFunc(self.tick, self.onTick)
}

func (self *heartbeatMonitor) stop() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.running = false
	if self.timer != nil {
		self.timer.Stop()
		self.timer = nil
	}
}

func (self *heartbeatMonitor) lastSent() time.Time {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.lastSentAt
}

func (self *heartbeatMonitor) onTick() {
	self.mutex.Lock()
	if !self.running {
		self.mutex.Unlock()
		return
	}
	due := self.isOpen() && (self.lastSentAt.IsZero() || self.threshold <= time.Since(self.lastSentAt))
	if due {
		self.lastSentAt = time.Now()
	}
	// re-arm exactly once per tick, whichever branch was taken
	self.timer = time.AfterFunc(self.tick, self.onTick)
	self.mutex.Unlock()

	if due {
		glog.V(2).Infof("[hb]send\n")
		self.send()
	}
}
