package mapsync

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type ByteFunction func(message []byte)

type CloseFunction func(code int)

// a bidirectional binary message channel keyed by map id
type ByteChannel interface {
	// starts delivery. Callbacks added before `Open` see every message.
	Open()
	Send(message []byte) error
	AddReceiveCallback(callback ByteFunction) (remove func())
	AddConnectionCallback(callback ConnectionFunction) (remove func())
	// the server ended the channel with a terminal code. No reconnect follows.
	AddCloseCallback(callback CloseFunction) (remove func())
	Connected() bool
	Close()
}

// creates the channel of one map
type ByteChannelFactory func(ctx context.Context, mapId string) (ByteChannel, error)

// the map's channel url is the base url with the map id as the last path segment
func MapChannelUrl(baseUrl string, mapId string) (string, error) {
	u, err := url.Parse(baseUrl)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("Unsupported channel scheme: %s", u.Scheme)
	}
	return strings.TrimSuffix(baseUrl, "/") + "/" + url.PathEscape(mapId), nil
}

func NewWsByteChannelFactory(baseUrl string, auth *ClientAuth, settings *WsSettings) ByteChannelFactory {
	return func(ctx context.Context, mapId string) (ByteChannel, error) {
		channelUrl, err := MapChannelUrl(baseUrl, mapId)
		if err != nil {
			return nil, err
		}
		return NewWsByteChannel(ctx, channelUrl, auth, settings), nil
	}
}

// a `ByteChannel` over a reconnecting websocket with binary messages
type WsByteChannel struct {
	transport *wsTransport
	openOnce  sync.Once

	receiveCallbacks    *CallbackList[ByteFunction]
	connectionCallbacks *CallbackList[ConnectionFunction]
	closeCallbacks      *CallbackList[CloseFunction]
}

func NewWsByteChannel(ctx context.Context, channelUrl string, auth *ClientAuth, settings *WsSettings) *WsByteChannel {
	channel := &WsByteChannel{
		receiveCallbacks:    NewCallbackList[ByteFunction](),
		connectionCallbacks: NewCallbackList[ConnectionFunction](),
		closeCallbacks:      NewCallbackList[CloseFunction](),
	}
	channel.transport = newWsTransport(
		ctx,
		"crdt",
		channelUrl,
		auth,
		websocket.BinaryMessage,
		settings,
		wsHandlers{
			connected: func() {
				channel.notifyConnection(true)
			},
			message: func(message []byte) {
				for _, callback := range channel.receiveCallbacks.Get() {
					HandleError(func() {
						callback(message)
					})
				}
			},
			disconnected: func(err error) {
				channel.notifyConnection(false)
			},
			terminated: func(code int) {
				channel.notifyConnection(false)
				for _, callback := range channel.closeCallbacks.Get() {
					HandleError(func() {
						callback(code)
					})
				}
			},
		},
	)
	return channel
}

func (self *WsByteChannel) Open() {
	self.openOnce.Do(self.transport.start)
}

func (self *WsByteChannel) notifyConnection(connected bool) {
	glog.V(1).Infof("[crdt]connected=%t\n", connected)
	for _, callback := range self.connectionCallbacks.Get() {
		HandleError(func() {
			callback(connected)
		})
	}
}

func (self *WsByteChannel) Send(message []byte) error {
	return self.transport.Send(message)
}

func (self *WsByteChannel) AddReceiveCallback(callback ByteFunction) func() {
	return self.receiveCallbacks.Add(callback)
}

func (self *WsByteChannel) AddConnectionCallback(callback ConnectionFunction) func() {
	return self.connectionCallbacks.Add(callback)
}

func (self *WsByteChannel) AddCloseCallback(callback CloseFunction) func() {
	return self.closeCallbacks.Add(callback)
}

func (self *WsByteChannel) Connected() bool {
	return self.transport.Connected()
}

func (self *WsByteChannel) Close() {
	self.transport.Close()
}
