package mapsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
)

var ErrNotSupported = errors.New("Not supported by the active strategy.")

// implemented by strategies that can verify a modification secret
type ModificationSecretChecker interface {
	CheckModificationSecret(secret string) (bool, error)
}

// implemented by strategies that can replace the whole map in one step
type MapImporter interface {
	ImportMap(snapshot Snapshot, options *MapOptions) error
}

// implemented by strategies that keep map options history apart from node history
type MapOptionsHistory interface {
	UndoMapOptions()
	RedoMapOptions()
}

var (
	_ SyncStrategy              = (*RpcStrategy)(nil)
	_ SyncStrategy              = (*CrdtStrategy)(nil)
	_ ModificationSecretChecker = (*RpcStrategy)(nil)
	_ MapImporter               = (*CrdtStrategy)(nil)
	_ MapOptionsHistory         = (*CrdtStrategy)(nil)
	_ EventChannel              = (*WsEventChannel)(nil)
	_ ByteChannel               = (*WsByteChannel)(nil)
	_ DocumentAdapter           = (*MemoryDocument)(nil)
	_ MapDeleter                = (*MapApi)(nil)
)

// the coordinator of one map session. Holds exactly one strategy, chosen by settings,
// and forwards the lifecycle to it.
type MapSyncService struct {
	ctx    context.Context
	cancel context.CancelFunc

	session  *MapSession
	strategy SyncStrategy
}

func NewMapSyncService(
	ctx context.Context,
	settings *MapSyncSettings,
	document DocumentAdapter,
	notifier Notifier,
	auth *ClientAuth,
) (*MapSyncService, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	cancelCtx, cancel := context.WithCancel(ctx)
	session := NewMapSession(auth.ClientId().String())

	var strategy SyncStrategy
	switch settings.Strategy {
	case StrategyRpc:
		channel := NewWsEventChannel(cancelCtx, settings.RpcUrl, auth, &settings.Ws, settings.Rpc.AckTimeout)
		strategy = NewRpcStrategy(
			cancelCtx,
			channel,
			document,
			session,
			notifier,
			auth,
			settings.Color,
			&settings.Rpc,
			settings.NotificationInterval,
		)
	case StrategyCrdt:
		var deleter MapDeleter
		if settings.ApiUrl != "" {
			deleter = NewMapApi(settings.ApiUrl, auth)
		}
		strategy = NewCrdtStrategy(
			cancelCtx,
			NewWsByteChannelFactory(settings.CrdtUrl, auth, &settings.Ws),
			deleter,
			document,
			session,
			settings.Color,
			&settings.Crdt,
		)
	default:
		cancel()
		return nil, fmt.Errorf("Unknown strategy: %s", settings.Strategy)
	}
	glog.V(1).Infof("[service]%s strategy for client %s\n", settings.Strategy, session.ClientId())

	return &MapSyncService{
		ctx:      cancelCtx,
		cancel:   cancel,
		session:  session,
		strategy: strategy,
	}, nil
}

// a service over an existing strategy and its session
func NewMapSyncServiceWithStrategy(ctx context.Context, session *MapSession, strategy SyncStrategy) *MapSyncService {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &MapSyncService{
		ctx:      cancelCtx,
		cancel:   cancel,
		session:  session,
		strategy: strategy,
	}
}

func (self *MapSyncService) Session() *MapSession {
	return self.session
}

func (self *MapSyncService) Strategy() SyncStrategy {
	return self.strategy
}

func (self *MapSyncService) Connect() error {
	return self.strategy.Connect()
}

// connects when needed, then attaches to the map
func (self *MapSyncService) InitMap(mapId string) error {
	if err := self.strategy.Connect(); err != nil {
		return err
	}
	glog.V(1).Infof("[service]init map %s\n", mapId)
	return self.strategy.InitMap(mapId)
}

func (self *MapSyncService) Detach() {
	self.strategy.Detach()
}

func (self *MapSyncService) Destroy() {
	self.strategy.Destroy()
	self.cancel()
}

func (self *MapSyncService) Undo() {
	self.strategy.Undo()
}

func (self *MapSyncService) Redo() {
	self.strategy.Redo()
}

func (self *MapSyncService) UpdateMapOptions(options *MapOptions) {
	self.strategy.UpdateMapOptions(options)
}

func (self *MapSyncService) DeleteMap(adminId string) error {
	return self.strategy.DeleteMap(adminId)
}

func (self *MapSyncService) SetWritable(writable bool) {
	self.strategy.SetWritable(writable)
}

func (self *MapSyncService) CheckModificationSecret(secret string) (bool, error) {
	checker, ok := self.strategy.(ModificationSecretChecker)
	if !ok {
		return false, ErrNotSupported
	}
	return checker.CheckModificationSecret(secret)
}

func (self *MapSyncService) ImportMap(snapshot Snapshot, options *MapOptions) error {
	importer, ok := self.strategy.(MapImporter)
	if !ok {
		return ErrNotSupported
	}
	return importer.ImportMap(snapshot, options)
}

func (self *MapSyncService) UndoMapOptions() error {
	history, ok := self.strategy.(MapOptionsHistory)
	if !ok {
		return ErrNotSupported
	}
	history.UndoMapOptions()
	return nil
}

func (self *MapSyncService) RedoMapOptions() error {
	history, ok := self.strategy.(MapOptionsHistory)
	if !ok {
		return ErrNotSupported
	}
	history.RedoMapOptions()
	return nil
}
