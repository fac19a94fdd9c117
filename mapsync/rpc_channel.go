package mapsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// called exactly once with the raw ack payload, or with an error when no ack arrives
type AckFunction func(ack []byte, err error)

type EventFunction func(data []byte)

type ConnectionFunction func(connected bool)

// a named-event message channel with acknowledgments
type EventChannel interface {
	Emit(event string, data any) error
	// `ack` receives `ErrAckTimeout`, `ErrNotConnected`, or `ErrChannelClosed` when no ack arrives
	EmitWithAck(event string, data any, ack AckFunction)
	On(event string, handler EventFunction) (unsubscribe func())
	AddConnectionCallback(callback ConnectionFunction) (remove func())
	Connected() bool
	Close()
}

const (
	envelopeTypeEvent = "event"
	envelopeTypeAck   = "ack"
)

type eventEnvelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	AckId *Id             `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeEvent(event string, ackId *Id, data any) ([]byte, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&eventEnvelope{
		Type:  envelopeTypeEvent,
		Event: event,
		AckId: ackId,
		Data:  dataBytes,
	})
}

type pendingAck struct {
	event    string
	sendTime time.Time
	ack      AckFunction
	timer    *time.Timer
}

// an `EventChannel` over a reconnecting websocket with JSON text envelopes.
// Pending acks fail with `ErrNotConnected` when the connection drops.
type WsEventChannel struct {
	transport  *wsTransport
	ackTimeout time.Duration

	stateLock   sync.Mutex
	pendingAcks map[Id]*pendingAck
	handlers    map[string]*CallbackList[EventFunction]

	connectionCallbacks *CallbackList[ConnectionFunction]
}

func NewWsEventChannelWithDefaults(ctx context.Context, url string, auth *ClientAuth) *WsEventChannel {
	settings := DefaultWsSettings()
	return NewWsEventChannel(ctx, url, auth, &settings, DefaultRpcStrategySettings().AckTimeout)
}

func NewWsEventChannel(
	ctx context.Context,
	url string,
	auth *ClientAuth,
	settings *WsSettings,
	ackTimeout time.Duration,
) *WsEventChannel {
	channel := &WsEventChannel{
		ackTimeout:          ackTimeout,
		pendingAcks:         map[Id]*pendingAck{},
		handlers:            map[string]*CallbackList[EventFunction]{},
		connectionCallbacks: NewCallbackList[ConnectionFunction](),
	}
	channel.transport = newWsTransport(
		ctx,
		"rpc",
		url,
		auth,
		websocket.TextMessage,
		settings,
		wsHandlers{
			connected: func() {
				channel.notifyConnection(true)
			},
			message: channel.receive,
			disconnected: func(err error) {
				channel.failPending(ErrNotConnected)
				channel.notifyConnection(false)
			},
			terminated: func(code int) {
				channel.failPending(ErrChannelClosed)
				channel.notifyConnection(false)
			},
		},
	)
	channel.transport.start()
	go func() {
		<-channel.transport.Done()
		channel.failPending(ErrChannelClosed)
	}()
	return channel
}

func (self *WsEventChannel) Emit(event string, data any) error {
	message, err := encodeEvent(event, nil, data)
	if err != nil {
		return err
	}
	return self.transport.Send(message)
}

func (self *WsEventChannel) EmitWithAck(event string, data any, ack AckFunction) {
	safeAck := func(ackBytes []byte, err error) {
		if ack != nil {
			HandleError(func() {
				ack(ackBytes, err)
			})
		}
	}

	ackId := NewId()
	message, err := encodeEvent(event, &ackId, data)
	if err != nil {
		safeAck(nil, err)
		return
	}

	pending := &pendingAck{
		event:    event,
		sendTime: time.Now(),
		ack:      safeAck,
	}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.pendingAcks[ackId] = pending
		pending.timer = time.AfterFunc(self.ackTimeout, func() {
			if self.takePending(ackId) != nil {
				glog.Infof("[rpc]%s ack timeout after %s\n", event, self.ackTimeout)
				ackTotal.WithLabelValues(event, "timeout").Inc()
				safeAck(nil, ErrAckTimeout)
			}
		})
	}()

	if err := self.transport.Send(message); err != nil {
		if self.takePending(ackId) != nil {
			safeAck(nil, err)
		}
	}
}

func (self *WsEventChannel) takePending(ackId Id) *pendingAck {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	pending, ok := self.pendingAcks[ackId]
	if !ok {
		return nil
	}
	delete(self.pendingAcks, ackId)
	if pending.timer != nil {
		pending.timer.Stop()
	}
	return pending
}

func (self *WsEventChannel) failPending(err error) {
	pendings := func() []*pendingAck {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		pendings := make([]*pendingAck, 0, len(self.pendingAcks))
		for ackId, pending := range self.pendingAcks {
			if pending.timer != nil {
				pending.timer.Stop()
			}
			pendings = append(pendings, pending)
			delete(self.pendingAcks, ackId)
		}
		return pendings
	}()
	for _, pending := range pendings {
		pending.ack(nil, err)
	}
}

func (self *WsEventChannel) receive(message []byte) {
	var envelope eventEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		glog.Infof("[rpc]drop bad envelope = %s\n", err)
		return
	}
	switch envelope.Type {
	case envelopeTypeAck:
		if envelope.AckId == nil {
			glog.Infof("[rpc]drop ack without id\n")
			return
		}
		pending := self.takePending(*envelope.AckId)
		if pending == nil {
			// timed out or failed already
			glog.V(2).Infof("[rpc]late ack %s\n", envelope.AckId)
			return
		}
		ackDuration.WithLabelValues(pending.event).Observe(time.Since(pending.sendTime).Seconds())
		pending.ack(envelope.Data, nil)
	case envelopeTypeEvent:
		handlers := func() *CallbackList[EventFunction] {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			return self.handlers[envelope.Event]
		}()
		if handlers == nil {
			glog.V(2).Infof("[rpc]no handler for %s\n", envelope.Event)
			return
		}
		for _, handler := range handlers.Get() {
			HandleError(func() {
				handler(envelope.Data)
			})
		}
	default:
		glog.Infof("[rpc]drop envelope type %s\n", envelope.Type)
	}
}

func (self *WsEventChannel) On(event string, handler EventFunction) func() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	handlers, ok := self.handlers[event]
	if !ok {
		handlers = NewCallbackList[EventFunction]()
		self.handlers[event] = handlers
	}
	return handlers.Add(handler)
}

func (self *WsEventChannel) AddConnectionCallback(callback ConnectionFunction) func() {
	return self.connectionCallbacks.Add(callback)
}

func (self *WsEventChannel) notifyConnection(connected bool) {
	glog.V(1).Infof("[rpc]connected=%t\n", connected)
	for _, callback := range self.connectionCallbacks.Get() {
		HandleError(func() {
			callback(connected)
		})
	}
}

func (self *WsEventChannel) Connected() bool {
	return self.transport.Connected()
}

func (self *WsEventChannel) Close() {
	self.transport.Close()
	self.failPending(ErrChannelClosed)
}

func (self *WsEventChannel) String() string {
	return fmt.Sprintf("WsEventChannel(%s)", self.transport.url)
}
