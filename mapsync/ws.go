package mapsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// the server closes a map's channels with this code when the map is deleted
const CloseCodeMapDeleted = 4000

var ErrSendTimeout = errors.New("Send timeout.")

// transport events of one websocket session. Each callback runs on the transport goroutine.
type wsHandlers struct {
	// a new connection is ready. Sends made from here are written first.
	connected func()
	message   func(message []byte)
	// the connection dropped. The transport will reconnect.
	disconnected func(err error)
	// the server closed with a terminal code. The transport will not reconnect.
	terminated func(code int)
}

// a reconnecting websocket that writes one message type.
// Empty messages are pings in both directions and are never delivered.
type wsTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	name        string
	url         string
	auth        *ClientAuth
	messageType int
	settings    *WsSettings
	handlers    wsHandlers

	stateLock sync.Mutex
	// nil while disconnected
	send chan []byte
}

func newWsTransport(
	ctx context.Context,
	name string,
	url string,
	auth *ClientAuth,
	messageType int,
	settings *WsSettings,
	handlers wsHandlers,
) *wsTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &wsTransport{
		ctx:         cancelCtx,
		cancel:      cancel,
		name:        name,
		url:         url,
		auth:        auth,
		messageType: messageType,
		settings:    settings,
		handlers:    handlers,
	}
}

func (self *wsTransport) start() {
	go self.run()
}

// messages are dropped when not connected. Sessions re-sync on connect.
func (self *wsTransport) Send(message []byte) error {
	self.stateLock.Lock()
	send := self.send
	self.stateLock.Unlock()

	if send == nil {
		select {
		case <-self.ctx.Done():
			return ErrChannelClosed
		default:
			return ErrNotConnected
		}
	}
	select {
	case <-self.ctx.Done():
		return ErrChannelClosed
	case send <- message:
		return nil
	case <-time.After(self.settings.WriteTimeout):
		return ErrSendTimeout
	}
}

func (self *wsTransport) Connected() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.send != nil
}

func (self *wsTransport) setSend(send chan []byte) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.send = send
}

func (self *wsTransport) Close() {
	self.cancel()
}

func (self *wsTransport) Done() <-chan struct{} {
	return self.ctx.Done()
}

func (self *wsTransport) run() {
	defer self.cancel()

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.HandshakeTimeout,
	}

	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)
		reconnectTotal.WithLabelValues(self.name).Inc()

		connect := func() (*websocket.Conn, error) {
			ws, _, err := dialer.DialContext(self.ctx, self.url, self.auth.Header())
			return ws, err
		}

		var ws *websocket.Conn
		var err error
		if glog.V(2) {
			ws, err = TraceWithReturnError(fmt.Sprintf("[ws]connect %s %s", self.name, self.url), connect)
		} else {
			ws, err = connect()
		}
		if err != nil {
			glog.Infof("[ws]%s connect error %s = %s\n", self.name, self.url, err)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		var closeCode int
		var readErr error
		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			send := make(chan []byte, self.settings.SendBufferSize)
			self.setSend(send)
			defer self.setSend(nil)

			if self.handlers.connected != nil {
				HandleError(self.handlers.connected)
			}

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case message := <-send:
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(self.messageType, message); err != nil {
							// note that for websocket a dealine timeout cannot be recovered
							glog.Infof("[ws]%s-> error = %s\n", self.name, err)
							return
						}
						glog.V(2).Infof("[ws]%s-> %d\n", self.name, len(message))
					case <-time.After(self.settings.PingTimeout):
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(self.messageType, make([]byte, 0)); err != nil {
							return
						}
					}
				}
			}()

			readDone := make(chan struct{})
			go func() {
				defer func() {
					handleCancel()
					close(readDone)
				}()

				for {
					select {
					case <-handleCtx.Done():
						return
					default:
					}

					ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
					messageType, message, err := ws.ReadMessage()
					if err != nil {
						var closeErr *websocket.CloseError
						if errors.As(err, &closeErr) {
							closeCode = closeErr.Code
						}
						readErr = err
						glog.Infof("[ws]%s<- error = %s\n", self.name, err)
						return
					}

					switch messageType {
					case websocket.TextMessage, websocket.BinaryMessage:
						if 0 == len(message) {
							glog.V(2).Infof("[ws]ping %s<-\n", self.name)
							continue
						}
						glog.V(2).Infof("[ws]%s<- %d\n", self.name, len(message))
						if self.handlers.message != nil {
							HandleError(func() {
								self.handlers.message(message)
							})
						}
					default:
						glog.V(2).Infof("[ws]other=%d %s<-\n", messageType, self.name)
					}
				}
			}()

			select {
			case <-handleCtx.Done():
			}
			// unblock the reader
			ws.Close()
			<-readDone
		}
		reconnect = NewReconnect(self.settings.ReconnectTimeout)
		if glog.V(2) {
			Trace(fmt.Sprintf("[ws]connect run %s", self.name), c)
		} else {
			c()
		}

		if closeCode == CloseCodeMapDeleted {
			glog.V(1).Infof("[ws]%s terminated with code %d\n", self.name, closeCode)
			if self.handlers.terminated != nil {
				HandleError(func() {
					self.handlers.terminated(closeCode)
				})
			}
			return
		}
		if self.handlers.disconnected != nil {
			HandleError(func() {
				self.handlers.disconnected(readErr)
			})
		}

		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}
