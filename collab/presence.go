package collab

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

// presenceTracker owns the mutable roster of collaborators. The roster is
// insertion-ordered and unique by participant Id.
//
// Dedup precedence is deliberately asymmetric and must stay that way:
// addMembers keeps the first-seen entry per Id, while normalizeMembers
// re-applies dedup at read time scanning newest to oldest, so the most
// recently added entry per Id wins in the read-out.
type presenceTracker struct {
	mutex sync.Mutex

	roster []*Participant

	// coalesces bursts of near-simultaneous joins into fewer emissions.
	// A debounce, not a single-delivery guarantee: each addMembers call
	// may schedule its own emission.
	changeDelay time.Duration

	colorFor func(uuid string) (string, bool)
	emit     func(members []*Participant)
}

func newPresenceTracker(
	changeDelay time.Duration,
	colorFor func(uuid string) (string, bool),
	emit func(members []*Participant),
) *presenceTracker {
	return &presenceTracker{
		changeDelay: changeDelay,
		colorFor:    colorFor,
		emit:        emit,
	}
}

// addMembers appends each incoming participant unless an existing roster
// entry already carries its Id. Later duplicates are discarded, not merged.
func (self *presenceTracker) addMembers(participants []*Participant) {
	self.mutex.Lock()
	for _, participant := range participants {
		present := false
		for _, existing := range self.roster {
			if existing.Id == participant.Id {
				present = true
				break
			}
		}
		if !present {
			self.roster = append(self.roster, participant)
		}
	}
	self.mutex.Unlock()

	glog.V(2).Infof("[p]add %d\n", len(participants))
	time.AfterFunc(self.changeDelay, func() {
		self.emit(self.normalizeMembers())
	})
}

// removeMember drops all roster entries with the participant's uuid and
// emits the change synchronously, no debounce.
func (self *presenceTracker) removeMember(participant *Participant) {
	self.mutex.Lock()
	kept := make([]*Participant, 0, len(self.roster))
	for _, existing := range self.roster {
		if existing.Uuid != participant.Uuid {
			kept = append(kept, existing)
		}
	}
	self.roster = kept
	self.mutex.Unlock()

	glog.V(2).Infof("[p]remove %s\n", participant.Uuid)
	self.emit(self.normalizeMembers())
}

// normalizeMembers produces a de-duplicated, color-annotated snapshot for
// external consumption. Colors are looked up from the engine per uuid at
// read time, never stored on the tracked records.
func (self *presenceTracker) normalizeMembers() []*Participant {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	seen := map[int]bool{}
	kept := make([]*Participant, 0, len(self.roster))
	for i := len(self.roster) - 1; 0 <= i; i -= 1 {
		participant := self.roster[i]
		if seen[participant.Id] {
			continue
		}
		seen[participant.Id] = true
		kept = append(kept, participant)
	}

	normalized := make([]*Participant, len(kept))
	for i, participant := range kept {
		out := *participant
		if color, ok := self.colorFor(out.Uuid); ok {
			out.Color = color
		}
		// restore insertion order
		normalized[len(kept)-1-i] = &out
	}
	return normalized
}
