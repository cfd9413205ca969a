package collab

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/gorilla/websocket"
)

// Transport is a duplex, message-oriented socket as seen by the client:
// fire-and-forget sends, ordered delivery per physical connection, no
// ordering across a reconnect boundary.
type Transport interface {
	Send(message []byte) error
	IsOpen() bool
	Close(code int, reason string)
}

// TargetFunc computes the connection target lazily on each attempt. The
// target embeds a freshly resolved auth token, so reconnection needs an
// asynchronous resolver, not a static url.
type TargetFunc func(ctx context.Context) (string, error)

type TransportEvents struct {
	Open    func()
	Message func(message []byte)
	Close   func()
	Error   func(err error)
}

type TransportSettings struct {
	WsHandshakeTimeout time.Duration
	WriteTimeout       time.Duration
	// no read deadline when zero. Liveness is the heartbeat monitor's
	// job; server pushes can be arbitrarily far apart.
	ReadTimeout time.Duration

	MinReconnectDelay    time.Duration
	MaxReconnectDelay    time.Duration
	ReconnectGrowth      float64
	MaxReconnectAttempts int
}

func DefaultTransportSettings() *TransportSettings {
	return &TransportSettings{
		WsHandshakeTimeout:   2 * time.Second,
		WriteTimeout:         5 * time.Second,
		MinReconnectDelay:    1 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		ReconnectGrowth:      2,
		MaxReconnectAttempts: 15,
	}
}

// ReconnectDelay is the bounded exponential backoff before retry
// `attempt` (zero-based).
func (self *TransportSettings) ReconnectDelay(attempt int) time.Duration {
	delay := float64(self.MinReconnectDelay) * math.Pow(self.ReconnectGrowth, float64(attempt))
	return time.Duration(math.Min(delay, float64(self.MaxReconnectDelay)))
}

// WebsocketTransport maintains one logical connection with automatic
// reconnection underneath. Open fires on every (re)established physical
// connection, Close on every drop. Error fires when the retry budget is
// exhausted or the target resolver fails terminally.
type WebsocketTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	instanceId Id
	target     TargetFunc
	events     *TransportEvents
	settings   *TransportSettings

	stateMutex sync.Mutex
	ws         *websocket.Conn
	open       bool
	closed     bool
}

func NewWebsocketTransportWithDefaults(
	ctx context.Context,
	instanceId Id,
	target TargetFunc,
	events *TransportEvents,
) *WebsocketTransport {
	return NewWebsocketTransport(ctx, instanceId, target, events, DefaultTransportSettings())
}

func NewWebsocketTransport(
	ctx context.Context,
	instanceId Id,
	target TargetFunc,
	events *TransportEvents,
	settings *TransportSettings,
) *WebsocketTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &WebsocketTransport{
		ctx:        cancelCtx,
		cancel:     cancel,
		instanceId: instanceId,
		target:     target,
		events:     events,
		settings:   settings,
	}
	go transport.run()
	return transport
}

func (self *WebsocketTransport) run() {
	defer self.cancel()

	attempt := 0
	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		ws, err := self.connect()
		if err != nil {
			if self.isClosed() {
				return
			}
			attempt += 1
			if self.settings.MaxReconnectAttempts <= attempt {
				glog.Infof("[t]give up %s = %s\n", self.instanceId, err)
				self.emitError(err)
				return
			}
			delay := self.settings.ReconnectDelay(attempt - 1)
			glog.Infof("[t]connect error %s = %s (retry in %s)\n", self.instanceId, err, delay)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}
		attempt = 0

		if !self.setConn(ws) {
			// closed while dialing
			ws.Close()
			return
		}
		self.emitOpen()

		self.readLoop(ws)

		voluntary := self.clearConn(ws)
		self.emitClose()
		if voluntary {
			return
		}

		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.ReconnectDelay(0)):
		}
	}
}

func (self *WebsocketTransport) connect() (*websocket.Conn, error) {
	url, err := self.target(self.ctx)
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(self.ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func (self *WebsocketTransport) readLoop(ws *websocket.Conn) {
	// unblock the reader when the transport is torn down
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-self.ctx.Done():
			ws.Close()
		case <-readDone:
		}
	}()

	for {
		if 0 < self.settings.ReadTimeout {
			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		}
		_, message, err := ws.ReadMessage()
		if err != nil {
			if !self.isClosed() {
				glog.Infof("[t]%s<- error = %s\n", self.instanceId, err)
			}
			return
		}
		glog.V(2).Infof("[t]%s<-\n", self.instanceId)
		self.emitMessage(message)
	}
}

func (self *WebsocketTransport) setConn(ws *websocket.Conn) bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	if self.closed {
		return false
	}
	self.ws = ws
	self.open = true
	return true
}

// returns whether the drop was voluntary
func (self *WebsocketTransport) clearConn(ws *websocket.Conn) bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	if self.ws == ws {
		self.ws = nil
		self.open = false
	}
	ws.Close()
	return self.closed
}

func (self *WebsocketTransport) isClosed() bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.closed
}

func (self *WebsocketTransport) IsOpen() bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.open
}

func (self *WebsocketTransport) Send(message []byte) error {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	if self.ws == nil {
		return NewClientError(ErrorCodeDisconnected, ErrorLevelNotice, "transport not open", nil)
	}
	self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	if err := self.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		// a deadline timeout cannot be recovered on a websocket
		glog.Infof("[t]%s-> error = %s\n", self.instanceId, err)
		return err
	}
	glog.V(2).Infof("[t]%s->\n", self.instanceId)
	return nil
}

// Close tears the transport down deliberately with the given close
// code/reason pair. Idempotent.
func (self *WebsocketTransport) Close(code int, reason string) {
	self.stateMutex.Lock()
	if self.closed {
		self.stateMutex.Unlock()
		return
	}
	self.closed = true
	ws := self.ws
	self.stateMutex.Unlock()

	if ws != nil {
		ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		ws.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
		)
		ws.Close()
	}
	self.cancel()
}

func (self *WebsocketTransport) emitOpen() {
	if self.events.Open != nil {
		HandleError(self.events.Open)
	}
}

func (self *WebsocketTransport) emitMessage(message []byte) {
	if self.events.Message != nil {
		HandleError(func() {
			self.events.Message(message)
		})
	}
}

func (self *WebsocketTransport) emitClose() {
	if self.events.Close != nil {
		HandleError(self.events.Close)
	}
}

func (self *WebsocketTransport) emitError(err error) {
	if self.events.Error != nil {
		HandleError(func() {
			self.events.Error(err)
		})
	}
}
