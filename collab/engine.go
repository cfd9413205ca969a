package collab

import (
	"context"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// SyncDocument is the engine's handle for the shared document. Opaque to
// this package.
type SyncDocument any

// SyncEngine is the boundary to the external synchronization engine that
// owns document convergence. The client hands it the live transport and
// mirrors membership into it; it produces the merged document and the
// member color assignments.
type SyncEngine interface {
	// binds the engine to the already open transport
	Attach(transport Transport)

	// requests the shared document by collection name and document id.
	// A failed subscribe aborts the bootstrap without raising a client
	// error. Recoverable by reconnect.
	Subscribe(ctx context.Context, collection string, docId string) (SyncDocument, error)

	// initializes the engine with the fetched document. The seed is used
	// only if the server has no prior document state.
	Init(doc SyncDocument, seed string) error

	// presence sink
	SetMembers(participants []*Participant)
	AddMember(participant *Participant)
	RemoveMember(participant *Participant)
	SetCurrentMember(participant *Participant)

	// per-session color assignment, keyed by participant uuid
	MemberColor(uuid string) (string, bool)
}

// EditorSurface is the boundary to the embedding text-editing surface.
type EditorSurface interface {
	Focus()
}

// HostLifecycle is the boundary to process-wide host lifecycle signals.
// Registration returns an unbind for the exact registered closure.
type HostLifecycle interface {
	OnTerminate(callback func()) (unbind func())
	OnVisibilityHidden(callback func()) (unbind func())
}

type noopSurface struct{}

func (self *noopSurface) Focus() {}

type noopLifecycle struct{}

func (self *noopLifecycle) OnTerminate(callback func()) func() {
	return func() {}
}

func (self *noopLifecycle) OnVisibilityHidden(callback func()) func() {
	return func() {}
}

var defaultPalette = []string{
	"#f94144", "#f3722c", "#f8961e", "#f9c74f",
	"#90be6d", "#43aa8b", "#4d908e", "#577590",
}

// NoopSyncEngine is a stand-in engine for tests and for collabctl. It keeps
// the presence sink in memory and assigns palette colors per uuid in order
// of first sight. No document convergence.
type NoopSyncEngine struct {
	mutex sync.Mutex

	transport Transport
	current   *Participant
	members   map[string]*Participant
	colors    map[string]string
	palette   []string
}

func NewNoopSyncEngine() *NoopSyncEngine {
	return &NoopSyncEngine{
		members: map[string]*Participant{},
		colors:  map[string]string{},
		palette: defaultPalette,
	}
}

func (self *NoopSyncEngine) Attach(transport Transport) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.transport = transport
}

func (self *NoopSyncEngine) Subscribe(ctx context.Context, collection string, docId string) (SyncDocument, error) {
	return struct{}{}, nil
}

func (self *NoopSyncEngine) Init(doc SyncDocument, seed string) error {
	return nil
}

func (self *NoopSyncEngine) SetMembers(participants []*Participant) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	for _, participant := range participants {
		self.addMember(participant)
	}
}

func (self *NoopSyncEngine) AddMember(participant *Participant) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.addMember(participant)
}

func (self *NoopSyncEngine) addMember(participant *Participant) {
	self.members[participant.Uuid] = participant
	if _, ok := self.colors[participant.Uuid]; !ok {
		self.colors[participant.Uuid] = self.palette[len(self.colors)%len(self.palette)]
	}
}

func (self *NoopSyncEngine) RemoveMember(participant *Participant) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.members, participant.Uuid)
}

func (self *NoopSyncEngine) SetCurrentMember(participant *Participant) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.current = participant
	self.addMember(participant)
}

func (self *NoopSyncEngine) MemberColor(uuid string) (string, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	color, ok := self.colors[uuid]
	return color, ok
}

// MemberUuids returns the uuids currently in the presence sink, sorted.
func (self *NoopSyncEngine) MemberUuids() []string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	uuids := maps.Keys(self.members)
	slices.Sort(uuids)
	return uuids
}
