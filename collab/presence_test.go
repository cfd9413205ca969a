package collab

import (
	"flag"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/google/uuid"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

type emitRecorder struct {
	mutex sync.Mutex
	emits [][]*Participant
}

func (self *emitRecorder) emit(members []*Participant) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.emits = append(self.emits, members)
}

func (self *emitRecorder) count() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.emits)
}

func (self *emitRecorder) last() []*Participant {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if len(self.emits) == 0 {
		return nil
	}
	return self.emits[len(self.emits)-1]
}

func noColor(uuid string) (string, bool) {
	return "", false
}

func testParticipant(id int) *Participant {
	return &Participant{
		Id:   id,
		Uuid: uuid.NewString(),
		Name: "user",
	}
}

func TestAddMembersDedupById(t *testing.T) {
	recorder := &emitRecorder{}
	tracker := newPresenceTracker(1*time.Millisecond, noColor, recorder.emit)

	a := testParticipant(1)
	aPrime := testParticipant(1)
	aPrime.Name = "other"
	b := testParticipant(2)

	tracker.addMembers([]*Participant{a, aPrime, b})
	tracker.addMembers([]*Participant{testParticipant(1), testParticipant(2)})

	assert.Equal(t, len(tracker.roster), 2)
	// first-seen entry wins at insertion time
	assert.Equal(t, tracker.roster[0].Uuid, a.Uuid)
	assert.Equal(t, tracker.roster[0].Name, "user")
	assert.Equal(t, tracker.roster[1].Uuid, b.Uuid)
}

func TestNormalizeMembersReadTimePrecedence(t *testing.T) {
	recorder := &emitRecorder{}
	tracker := newPresenceTracker(1*time.Millisecond, noColor, recorder.emit)

	// a duplicate id in the internal roster is only reachable by direct
	// mutation, since addMembers prevents it
	x := testParticipant(7)
	x.Name = "first"
	y := testParticipant(7)
	y.Name = "second"
	tracker.roster = []*Participant{x, y}

	normalized := tracker.normalizeMembers()
	assert.Equal(t, len(normalized), 1)
	// read-time dedup keeps the most recently added entry, the reverse
	// of insertion-time precedence
	assert.Equal(t, normalized[0].Uuid, y.Uuid)
	assert.Equal(t, normalized[0].Name, "second")
}

func TestRemoveMemberByUuid(t *testing.T) {
	recorder := &emitRecorder{}
	tracker := newPresenceTracker(1*time.Millisecond, noColor, recorder.emit)

	a := testParticipant(1)
	b := testParticipant(2)
	tracker.addMembers([]*Participant{a, b})

	tracker.removeMember(a)

	// removal emits synchronously
	assert.Equal(t, 1 <= recorder.count(), true)
	for _, member := range tracker.normalizeMembers() {
		assert.Equal(t, member.Uuid == a.Uuid, false)
	}
	assert.Equal(t, len(tracker.normalizeMembers()), 1)
	assert.Equal(t, tracker.normalizeMembers()[0].Uuid, b.Uuid)
}

func TestAddMembersDebounce(t *testing.T) {
	recorder := &emitRecorder{}
	tracker := newPresenceTracker(20*time.Millisecond, noColor, recorder.emit)

	tracker.addMembers([]*Participant{testParticipant(1)})
	assert.Equal(t, recorder.count(), 0)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1 <= recorder.count(), true)
	assert.Equal(t, len(recorder.last()), 1)
}

func TestNormalizeMembersColorAnnotation(t *testing.T) {
	colorFor := func(uuid string) (string, bool) {
		return "#123456", true
	}
	recorder := &emitRecorder{}
	tracker := newPresenceTracker(1*time.Millisecond, colorFor, recorder.emit)

	a := testParticipant(1)
	tracker.addMembers([]*Participant{a})

	normalized := tracker.normalizeMembers()
	assert.Equal(t, normalized[0].Color, "#123456")
	// color is annotated on the snapshot, never stored on the roster entry
	assert.Equal(t, tracker.roster[0].Color, "")
}

func TestRosterNeverHoldsDuplicateIds(t *testing.T) {
	recorder := &emitRecorder{}
	tracker := newPresenceTracker(1*time.Millisecond, noColor, recorder.emit)

	for i := 0; i < 64; i += 1 {
		tracker.addMembers([]*Participant{
			testParticipant(i % 8),
			testParticipant((i + 1) % 8),
		})
	}

	seen := map[int]bool{}
	for _, member := range tracker.roster {
		assert.Equal(t, seen[member.Id], false)
		seen[member.Id] = true
	}
}
