package mapsync

// client -> server events of the server-authoritative wire surface.
// Every mutating request carries the map's modification secret.
const (
	RpcJoin                    = "join"
	RpcAddNodes                = "addNodes"
	RpcUpdateNode              = "updateNode"
	RpcRemoveNode              = "removeNode"
	RpcApplyMapChangesByDiff   = "applyMapChangesByDiff"
	RpcUpdateMapOptions        = "updateMapOptions"
	RpcUpdateNodeSelection     = "updateNodeSelection"
	RpcDeleteMap               = "deleteMap"
	RpcCheckModificationSecret = "checkModificationSecret"
)

// server -> client pushes
const (
	RpcNodesAdded         = "nodesAdded"
	RpcNodeUpdated        = "nodeUpdated"
	RpcNodeRemoved        = "nodeRemoved"
	RpcMapUpdated         = "mapUpdated"
	RpcMapChangesUndoRedo = "mapChangesUndoRedo"
	RpcMapOptionsUpdated  = "mapOptionsUpdated"
	RpcSelectionUpdated   = "selectionUpdated"
	RpcClientListUpdated  = "clientListUpdated"
	RpcClientDisconnect   = "clientDisconnect"
	RpcClientNotification = "clientNotification"
	RpcMapDeleted         = "mapDeleted"
)

type JoinRequest struct {
	MapId string `json:"mapId"`
	Color string `json:"color"`
}

type AddNodesRequest struct {
	MapId  string        `json:"mapId"`
	Nodes  []*NodeRecord `json:"nodes"`
	Secret string        `json:"secret"`
}

type UpdateNodeRequest struct {
	MapId           string       `json:"mapId"`
	Node            *NodeRecord  `json:"node"`
	UpdatedProperty NodeProperty `json:"updatedProperty"`
	Secret          string       `json:"secret"`
}

type RemoveNodeRequest struct {
	MapId  string      `json:"mapId"`
	Node   *NodeRecord `json:"node"`
	Secret string      `json:"secret"`
}

type ApplyMapChangesByDiffRequest struct {
	MapId       string        `json:"mapId"`
	Diff        *SnapshotDiff `json:"diff"`
	OperationId Id            `json:"operationId"`
	Secret      string        `json:"secret"`
}

type UpdateMapOptionsRequest struct {
	MapId   string      `json:"mapId"`
	Options *MapOptions `json:"options"`
	Secret  string      `json:"secret"`
}

type UpdateNodeSelectionRequest struct {
	MapId    string `json:"mapId"`
	NodeId   string `json:"nodeId"`
	Selected bool   `json:"selected"`
}

type DeleteMapRequest struct {
	MapId   string `json:"mapId"`
	AdminId string `json:"adminId"`
}

type CheckModificationSecretRequest struct {
	MapId  string `json:"mapId"`
	Secret string `json:"secret"`
}

// pushes carry the originating client so a client can drop its own echoes

type NodesAddedPush struct {
	ClientId string        `json:"clientId"`
	Nodes    []*NodeRecord `json:"nodes"`
}

type NodeUpdatedPush struct {
	ClientId string       `json:"clientId"`
	Node     *NodeRecord  `json:"node"`
	Property NodeProperty `json:"property"`
}

type NodeRemovedPush struct {
	ClientId string `json:"clientId"`
	NodeId   string `json:"nodeId"`
}

type MapUpdatedPush struct {
	ClientId string     `json:"clientId"`
	Map      *ServerMap `json:"map"`
}

type MapChangesUndoRedoPush struct {
	ClientId    string        `json:"clientId"`
	Diff        *SnapshotDiff `json:"diff"`
	OperationId Id            `json:"operationId"`
}

type MapOptionsUpdatedPush struct {
	ClientId string      `json:"clientId"`
	Options  *MapOptions `json:"options"`
}

type SelectionUpdatedPush struct {
	ClientId string `json:"clientId"`
	NodeId   string `json:"nodeId"`
	Selected bool   `json:"selected"`
}

type ClientListUpdatedPush struct {
	// client id -> color
	Clients map[string]string `json:"clients"`
}

type ClientDisconnectPush struct {
	ClientId string `json:"clientId"`
}

type ClientNotificationPush struct {
	ClientId string `json:"clientId"`
	// info, warning, or error
	Type    string `json:"type"`
	Message string `json:"message"`
}

type MapDeletedPush struct {
	ClientId string `json:"clientId"`
	MapId    string `json:"mapId"`
}
