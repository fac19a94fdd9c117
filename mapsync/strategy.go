package mapsync

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotConnected  = errors.New("Not connected.")
	ErrNoMap         = errors.New("No map attached.")
	ErrAckTimeout    = errors.New("Ack timeout.")
	ErrChannelClosed = errors.New("Channel closed.")
	ErrMapDeleted    = errors.New("Map deleted.")
	ErrNotWritable   = errors.New("Not writable.")
)

// the uniform lifecycle of a synchronization strategy.
// Exactly one strategy is active per map session.
type SyncStrategy interface {
	// one time transport setup. Does not touch the document.
	Connect() error
	// attaches to the map's channel and starts applying remote changes.
	// Again for the same attached map only re-registers local listeners.
	// For a different map the previous attachment is torn down first.
	InitMap(mapId string) error
	// stops listening but keeps the transport connected
	Detach()
	// full teardown. Safe to call more than once.
	Destroy()
	Undo()
	Redo()
	// propagates map level options to peers. nil sends the current options.
	UpdateMapOptions(options *MapOptions)
	DeleteMap(adminId string) error
	// records edit permission. Enforcement is the document's concern.
	SetWritable(writable bool)
}

type ConnectionStatus string

const (
	// never connected
	ConnectionStatusNone         ConnectionStatus = ""
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

type ConnectionStatusFunction func(status ConnectionStatus)
type HistoryStateFunction func(canUndo bool, canRedo bool)
type WritableFunction func(writable bool)
type MapOptionsFunction func(options *MapOptions)
type MapDeletedFunction func()

// per map session state shared by the coordinator and the active strategy.
// Owned by the coordinator and injected into whichever strategy is active,
// so sessions never share presence or status.
type MapSession struct {
	clientId string
	presence *PresenceTracker

	stateLock        sync.Mutex
	connectionStatus ConnectionStatus
	writable         bool
	canUndo          bool
	canRedo          bool
	options          *MapOptions

	connectionStatusCallbacks *CallbackList[ConnectionStatusFunction]
	historyStateCallbacks     *CallbackList[HistoryStateFunction]
	writableCallbacks         *CallbackList[WritableFunction]
	mapOptionsCallbacks       *CallbackList[MapOptionsFunction]
	mapDeletedCallbacks       *CallbackList[MapDeletedFunction]
}

func NewMapSession(clientId string) *MapSession {
	return &MapSession{
		clientId:                  clientId,
		presence:                  NewPresenceTracker(),
		connectionStatus:          ConnectionStatusNone,
		writable:                  true,
		options:                   DefaultMapOptions(),
		connectionStatusCallbacks: NewCallbackList[ConnectionStatusFunction](),
		historyStateCallbacks:     NewCallbackList[HistoryStateFunction](),
		writableCallbacks:         NewCallbackList[WritableFunction](),
		mapOptionsCallbacks:       NewCallbackList[MapOptionsFunction](),
		mapDeletedCallbacks:       NewCallbackList[MapDeletedFunction](),
	}
}

func (self *MapSession) ClientId() string {
	return self.clientId
}

func (self *MapSession) Presence() *PresenceTracker {
	return self.presence
}

func (self *MapSession) ConnectionStatus() ConnectionStatus {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.connectionStatus
}

func (self *MapSession) AddConnectionStatusCallback(callback ConnectionStatusFunction) func() {
	return self.connectionStatusCallbacks.Add(callback)
}

func (self *MapSession) setConnectionStatus(status ConnectionStatus) {
	changed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.connectionStatus == status {
			return false
		}
		self.connectionStatus = status
		return true
	}()
	if changed {
		for _, callback := range self.connectionStatusCallbacks.Get() {
			HandleError(func() {
				callback(status)
			})
		}
	}
}

func (self *MapSession) Writable() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.writable
}

func (self *MapSession) AddWritableCallback(callback WritableFunction) func() {
	return self.writableCallbacks.Add(callback)
}

func (self *MapSession) setWritable(writable bool) {
	changed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.writable == writable {
			return false
		}
		self.writable = writable
		return true
	}()
	if changed {
		for _, callback := range self.writableCallbacks.Get() {
			HandleError(func() {
				callback(writable)
			})
		}
	}
}

func (self *MapSession) HistoryState() (canUndo bool, canRedo bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.canUndo, self.canRedo
}

func (self *MapSession) AddHistoryStateCallback(callback HistoryStateFunction) func() {
	return self.historyStateCallbacks.Add(callback)
}

func (self *MapSession) setHistoryState(canUndo bool, canRedo bool) {
	changed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.canUndo == canUndo && self.canRedo == canRedo {
			return false
		}
		self.canUndo = canUndo
		self.canRedo = canRedo
		return true
	}()
	if changed {
		for _, callback := range self.historyStateCallbacks.Get() {
			HandleError(func() {
				callback(canUndo, canRedo)
			})
		}
	}
}

func (self *MapSession) MapOptions() *MapOptions {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	options := *self.options
	return &options
}

func (self *MapSession) AddMapOptionsCallback(callback MapOptionsFunction) func() {
	return self.mapOptionsCallbacks.Add(callback)
}

func (self *MapSession) setMapOptions(options *MapOptions) {
	if options == nil {
		return
	}
	changed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if *self.options == *options {
			return false
		}
		nextOptions := *options
		self.options = &nextOptions
		return true
	}()
	if changed {
		for _, callback := range self.mapOptionsCallbacks.Get() {
			HandleError(func() {
				nextOptions := *options
				callback(&nextOptions)
			})
		}
	}
}

func (self *MapSession) AddMapDeletedCallback(callback MapDeletedFunction) func() {
	return self.mapDeletedCallbacks.Add(callback)
}

func (self *MapSession) notifyMapDeleted() {
	for _, callback := range self.mapDeletedCallbacks.Get() {
		HandleError(callback)
	}
}

// calls collected while a strategy holds its state lock and run after the lock is released,
// so that user callbacks may re-enter the strategy
type effects struct {
	calls []func()
}

func (self *effects) add(call func()) {
	self.calls = append(self.calls, call)
}

func (self *effects) run() {
	for _, call := range self.calls {
		HandleError(call)
	}
}

// an ack that reported failure
type AckError struct {
	Operation string
	Result    *AckResult
}

func (self *AckError) Error() string {
	return fmt.Sprintf("%s failed (%s %s): %s", self.Operation, self.Result.Kind, self.Result.Code, self.Result.Message)
}
