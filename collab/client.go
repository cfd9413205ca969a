package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
)

type ClientSettings struct {
	// base url of the collaboration endpoint. The connection target is
	// computed as <url>&id=<doc_id>&token=<resolved-token>
	Url        string
	DocId      string
	Collection string
	// used only if the server has no prior document state
	Seed string

	TokenFunc TokenFunc

	HeartbeatTick      time.Duration
	HeartbeatThreshold time.Duration
	MembersChangeDelay time.Duration

	TransportSettings *TransportSettings
	// alternate transport construction, for tests and embedders
	TransportFactory func(ctx context.Context, instanceId Id, target TargetFunc, events *TransportEvents) Transport
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		TokenFunc:          EmptyTokenFunc,
		HeartbeatTick:      1 * time.Second,
		HeartbeatThreshold: 30 * time.Second,
		MembersChangeDelay: 1 * time.Second,
		TransportSettings:  DefaultTransportSettings(),
	}
}

// CollabClient is the session/connection state machine. One client per
// document session; the session's lifetime is the client's lifetime.
//
// The session aggregate (status, current participant, transport) and the
// roster are mutated under a single mutex, preserving the single-writer
// shape the protocol assumes.
type CollabClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	instanceId Id
	engine     SyncEngine
	surface    EditorSurface
	lifecycle  HostLifecycle
	settings   *ClientSettings

	stateMutex         sync.Mutex
	status             Status
	currentParticipant *Participant
	transport          Transport
	epoch              int
	bootstrapped       bool
	unbinds            []func()

	heartbeat *heartbeatMonitor
	presence  *presenceTracker

	statusChangeCallbacks  *CallbackList[StatusChangeFunction]
	errorCallbacks         *CallbackList[ErrorFunction]
	membersChangeCallbacks *CallbackList[MembersChangeFunction]
	messageCallbacks       *CallbackList[MessageFunction]
	readyCallbacks         *CallbackList[ReadyFunction]
	inactiveCallbacks      *CallbackList[InactiveFunction]
}

func NewCollabClientWithDefaults(ctx context.Context, engine SyncEngine) *CollabClient {
	return NewCollabClient(ctx, engine, nil, nil, DefaultClientSettings())
}

func NewCollabClient(
	ctx context.Context,
	engine SyncEngine,
	surface EditorSurface,
	lifecycle HostLifecycle,
	settings *ClientSettings,
) *CollabClient {
	cancelCtx, cancel := context.WithCancel(ctx)
	if surface == nil {
		surface = &noopSurface{}
	}
	if lifecycle == nil {
		lifecycle = &noopLifecycle{}
	}
	client := &CollabClient{
		ctx:                    cancelCtx,
		cancel:                 cancel,
		instanceId:             NewId(),
		engine:                 engine,
		surface:                surface,
		lifecycle:              lifecycle,
		settings:               settings,
		status:                 StatusInit,
		statusChangeCallbacks:  NewCallbackList[StatusChangeFunction](),
		errorCallbacks:         NewCallbackList[ErrorFunction](),
		membersChangeCallbacks: NewCallbackList[MembersChangeFunction](),
		messageCallbacks:       NewCallbackList[MessageFunction](),
		readyCallbacks:         NewCallbackList[ReadyFunction](),
		inactiveCallbacks:      NewCallbackList[InactiveFunction](),
	}
	client.heartbeat = newHeartbeatMonitor(
		settings.HeartbeatTick,
		settings.HeartbeatThreshold,
		client.transportOpen,
		client.sendHeartbeat,
	)
	client.presence = newPresenceTracker(
		settings.MembersChangeDelay,
		engine.MemberColor,
		client.emitMembersChange,
	)
	return client
}

// Connect opens a fresh transport, closing and discarding any prior one.
// A sticky error status is cleared by a fresh connect. Network failures
// are never returned synchronously; they surface as error events.
func (self *CollabClient) Connect() {
	self.stateMutex.Lock()
	self.epoch += 1
	epoch := self.epoch
	prior := self.transport
	self.transport = nil
	self.bootstrapped = false
	self.currentParticipant = nil
	self.stateMutex.Unlock()

	if prior != nil {
		prior.Close(ForceDisconnectCode, ForceDisconnectReason)
	}
	self.heartbeat.stop()

	self.transmit(StatusInit)
	self.bindLifecycle()

	events := &TransportEvents{
		Open:    func() { self.handleOpen(epoch) },
		Message: func(message []byte) { self.handleMessage(epoch, message) },
		Close:   func() { self.handleClose(epoch) },
		Error:   func(err error) { self.handleError(epoch, err) },
	}

	var transport Transport
	if self.settings.TransportFactory != nil {
		transport = self.settings.TransportFactory(self.ctx, self.instanceId, self.target, events)
	} else {
		transport = NewWebsocketTransport(self.ctx, self.instanceId, self.target, events, self.settings.TransportSettings)
	}

	self.stateMutex.Lock()
	stale := epoch != self.epoch
	if !stale {
		self.transport = transport
	}
	self.stateMutex.Unlock()
	if stale {
		// a newer connect or exit won while constructing
		transport.Close(ForceDisconnectCode, ForceDisconnectReason)
	}
}

// Exit tears the session down deliberately. Idempotent: a second call
// performs no transition and no teardown.
func (self *CollabClient) Exit() {
	self.stateMutex.Lock()
	if self.status == StatusExit {
		self.stateMutex.Unlock()
		return
	}
	from := self.status
	self.status = StatusExit
	self.epoch += 1
	transport := self.transport
	self.transport = nil
	unbinds := self.unbinds
	self.unbinds = nil
	self.stateMutex.Unlock()

	self.emitStatusChange(from, StatusExit)
	self.heartbeat.stop()
	if transport != nil {
		transport.Close(ForceDisconnectCode, ForceDisconnectReason)
	}
	for _, unbind := range unbinds {
		unbind()
	}
	self.cancel()
}

// Broadcast relays a free-form application message to the other
// participants. Fire and forget; no delivery confirmation.
func (self *CollabClient) Broadcast(messageType string, body any) error {
	return self.sendMessage(ActionBroadcast, map[string]any{
		"type": messageType,
		"body": body,
	})
}

func (self *CollabClient) Status() Status {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.status
}

func (self *CollabClient) CurrentParticipant() *Participant {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.currentParticipant
}

// Members returns the normalized, color-annotated roster snapshot.
func (self *CollabClient) Members() []*Participant {
	return self.presence.normalizeMembers()
}

func (self *CollabClient) target(ctx context.Context) (string, error) {
	token, err := self.settings.TokenFunc(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"%s&id=%s&token=%s",
		self.settings.Url,
		url.QueryEscape(self.settings.DocId),
		url.QueryEscape(token),
	), nil
}

func (self *CollabClient) bindLifecycle() {
	self.stateMutex.Lock()
	bound := self.unbinds != nil
	self.stateMutex.Unlock()
	if bound {
		return
	}

	// store the exact registered closures so exit unbinds them
	unbindTerminate := self.lifecycle.OnTerminate(func() {
		self.Exit()
	})
	unbindHidden := self.lifecycle.OnVisibilityHidden(func() {
		self.emitInactive()
	})

	self.stateMutex.Lock()
	self.unbinds = []func(){unbindTerminate, unbindHidden}
	self.stateMutex.Unlock()
}

func (self *CollabClient) currentEpoch(epoch int) bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return epoch == self.epoch
}

func (self *CollabClient) transportOpen() bool {
	self.stateMutex.Lock()
	transport := self.transport
	self.stateMutex.Unlock()
	return transport != nil && transport.IsOpen()
}

func (self *CollabClient) handleOpen(epoch int) {
	if !self.currentEpoch(epoch) {
		return
	}
	glog.V(2).Infof("[c]open %s\n", self.instanceId)
	self.heartbeat.start()
}

func (self *CollabClient) handleClose(epoch int) {
	if !self.currentEpoch(epoch) {
		return
	}
	// the close code is not trustworthy here. Voluntariness is decided
	// by the current session status.
	if self.Status() != StatusExit {
		self.raiseError(NewClientError(
			ErrorCodeDisconnected,
			ErrorLevelFatal,
			"collaboration connection closed",
			nil,
		))
	}
}

func (self *CollabClient) handleError(epoch int, err error) {
	if !self.currentEpoch(epoch) {
		return
	}
	self.raiseError(NewClientError(
		ErrorCodeConnectionError,
		ErrorLevelFatal,
		"collaboration connection error",
		err,
	))
}

// handleMessage is the control-message router: a pure dispatch on the
// envelope action. Unknown actions are ignored for forward compatibility.
func (self *CollabClient) handleMessage(epoch int, message []byte) {
	if !self.currentEpoch(epoch) {
		return
	}

	var envelope ControlEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		glog.Infof("[r]bad envelope = %s\n", err)
		return
	}

	switch envelope.Action {
	case ActionMembers:
		// bulk add. Entries absent from the snapshot are not removed.
		var participants []*Participant
		if err := json.Unmarshal(envelope.Data, &participants); err != nil {
			glog.Infof("[r]bad members payload = %s\n", err)
			return
		}
		self.presence.addMembers(participants)
		self.engine.SetMembers(participants)
	case ActionJoin:
		participant := &Participant{}
		if err := json.Unmarshal(envelope.Data, participant); err != nil {
			glog.Infof("[r]bad join payload = %s\n", err)
			return
		}
		self.presence.addMembers([]*Participant{participant})
		self.engine.AddMember(participant)
	case ActionLeave:
		participant := &Participant{}
		if err := json.Unmarshal(envelope.Data, participant); err != nil {
			glog.Infof("[r]bad leave payload = %s\n", err)
			return
		}
		self.engine.RemoveMember(participant)
		self.presence.removeMember(participant)
	case ActionReady:
		participant := &Participant{}
		if err := json.Unmarshal(envelope.Data, participant); err != nil {
			glog.Infof("[r]bad ready payload = %s\n", err)
			return
		}
		self.stateMutex.Lock()
		self.currentParticipant = participant
		self.stateMutex.Unlock()
		self.engine.SetCurrentMember(participant)
		self.bootstrap(participant)
	case ActionBroadcast:
		payload := &BroadcastPayload{}
		if err := json.Unmarshal(envelope.Data, payload); err != nil {
			glog.Infof("[r]bad broadcast payload = %s\n", err)
			return
		}
		current := self.CurrentParticipant()
		if current != nil && payload.Uuid == current.Uuid {
			// echo of a locally authored broadcast
			glog.V(2).Infof("[r]drop echo %s\n", payload.Uuid)
			return
		}
		self.emitMessage(&Message{
			Type: payload.Type,
			Body: payload.Body,
		})
	case ActionHeartbeat:
		// server echo, nothing to consume
	default:
		glog.V(2).Infof("[r]ignore action %q\n", envelope.Action)
	}
}

// bootstrap hands the live transport to the synchronization engine and
// promotes the session to active. Runs at most once per connection.
func (self *CollabClient) bootstrap(participant *Participant) {
	self.stateMutex.Lock()
	if self.bootstrapped {
		self.stateMutex.Unlock()
		return
	}
	self.bootstrapped = true
	transport := self.transport
	self.stateMutex.Unlock()

	if transport != nil {
		self.engine.Attach(transport)
	}

	doc, err := self.engine.Subscribe(self.ctx, self.settings.Collection, self.settings.DocId)
	if err != nil {
		// logged only, recoverable by reconnect
		glog.Infof("[c]subscribe error %s = %s\n", self.instanceId, err)
		return
	}
	if err := self.engine.Init(doc, self.settings.Seed); err != nil {
		glog.Infof("[c]engine init error %s = %s\n", self.instanceId, err)
		return
	}

	self.surface.Focus()
	self.emitReady(participant)
	self.emitMembersChange(self.presence.normalizeMembers())
	if self.Status() == StatusExit {
		// a ready callback tore the session down
		return
	}
	self.transmit(StatusActive)
}

// sendMessage wraps data in a control envelope and sends it over the
// transport, auto-stamping doc_id and the current participant's uuid on
// every outbound message regardless of action.
func (self *CollabClient) sendMessage(action string, data map[string]any) error {
	self.stateMutex.Lock()
	transport := self.transport
	uuid := ""
	if self.currentParticipant != nil {
		uuid = self.currentParticipant.Uuid
	}
	self.stateMutex.Unlock()

	if transport == nil {
		return NewClientError(ErrorCodeDisconnected, ErrorLevelNotice, "no transport", nil)
	}

	if data == nil {
		data = map[string]any{}
	}
	data["doc_id"] = self.settings.DocId
	data["uuid"] = uuid

	messageBytes, err := json.Marshal(&outboundEnvelope{
		Action: action,
		Data:   data,
	})
	if err != nil {
		return err
	}
	return transport.Send(messageBytes)
}

func (self *CollabClient) sendHeartbeat() {
	// never raises. A failed send surfaces via the transport error path.
	self.sendMessage(ActionHeartbeat, nil)
}

// transmit moves the session to the new status and always fires a status
// change event, even when the status is unchanged.
func (self *CollabClient) transmit(to Status) {
	self.stateMutex.Lock()
	from := self.status
	self.status = to
	self.stateMutex.Unlock()
	self.emitStatusChange(from, to)
}

// raiseError transitions to error status and emits a single error event.
// It does not close the transport; error and disconnection are reported
// independently so the application can decide whether to retry.
func (self *CollabClient) raiseError(clientError *ClientError) {
	glog.Infof("[c]error %s = %s\n", self.instanceId, clientError)
	self.transmit(StatusError)
	self.emitError(clientError)
}

func (self *CollabClient) AddStatusChangeCallback(callback StatusChangeFunction) func() {
	callbackId := self.statusChangeCallbacks.add(callback)
	return func() {
		self.statusChangeCallbacks.remove(callbackId)
	}
}

func (self *CollabClient) AddErrorCallback(callback ErrorFunction) func() {
	callbackId := self.errorCallbacks.add(callback)
	return func() {
		self.errorCallbacks.remove(callbackId)
	}
}

func (self *CollabClient) AddMembersChangeCallback(callback MembersChangeFunction) func() {
	callbackId := self.membersChangeCallbacks.add(callback)
	return func() {
		self.membersChangeCallbacks.remove(callbackId)
	}
}

func (self *CollabClient) AddMessageCallback(callback MessageFunction) func() {
	callbackId := self.messageCallbacks.add(callback)
	return func() {
		self.messageCallbacks.remove(callbackId)
	}
}

func (self *CollabClient) AddReadyCallback(callback ReadyFunction) func() {
	callbackId := self.readyCallbacks.add(callback)
	return func() {
		self.readyCallbacks.remove(callbackId)
	}
}

func (self *CollabClient) AddInactiveCallback(callback InactiveFunction) func() {
	callbackId := self.inactiveCallbacks.add(callback)
	return func() {
		self.inactiveCallbacks.remove(callbackId)
	}
}

func (self *CollabClient) emitStatusChange(from Status, to Status) {
	for _, callback := range self.statusChangeCallbacks.get() {
		callback := callback
		HandleError(func() {
			callback(from, to)
		})
	}
}

func (self *CollabClient) emitError(clientError *ClientError) {
	for _, callback := range self.errorCallbacks.get() {
		callback := callback
		HandleError(func() {
			callback(clientError)
		})
	}
}

func (self *CollabClient) emitMembersChange(members []*Participant) {
	for _, callback := range self.membersChangeCallbacks.get() {
		callback := callback
		HandleError(func() {
			callback(members)
		})
	}
}

func (self *CollabClient) emitMessage(message *Message) {
	for _, callback := range self.messageCallbacks.get() {
		callback := callback
		HandleError(func() {
			callback(message)
		})
	}
}

func (self *CollabClient) emitReady(participant *Participant) {
	for _, callback := range self.readyCallbacks.get() {
		callback := callback
		HandleError(func() {
			callback(participant)
		})
	}
}

func (self *CollabClient) emitInactive() {
	for _, callback := range self.inactiveCallbacks.get() {
		callback := callback
		HandleError(func() {
			callback()
		})
	}
}
