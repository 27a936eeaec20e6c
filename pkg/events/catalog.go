package events

import "fmt"

// Kind enumerates every event the client can fire.
type Kind uint8

const (
	KindConnectionState Kind = iota
	KindDisconnected
	KindKicked
	KindVersionMismatch
	KindScriptVersionMismatch
	KindImportRequested
	KindLoginSuccess
	KindLoginFailed
	KindCreateAccountResult
	KindLoginGameplay
	KindLoginGameplayFailed
	KindCreatedProxies
	KindReloginGameplay
	KindReloginGameplaySuccess
	KindReloginGameplayFailed
	KindStreamDataStarted
	KindStreamDataRecv
	KindStreamDataCompleted
	KindEnterWorld
	KindLeaveWorld
	KindSetPosition
	KindSetDirection
	KindUpdatePosition
	KindSetSpaceData
	KindDelSpaceData
	KindAddSpaceGeometryMapping

	kindCount
)

var kindNames = [kindCount]string{
	KindConnectionState:         "ConnectionState",
	KindDisconnected:            "Disconnected",
	KindKicked:                  "Kicked",
	KindVersionMismatch:         "VersionMismatch",
	KindScriptVersionMismatch:   "ScriptVersionMismatch",
	KindImportRequested:         "ImportRequested",
	KindLoginSuccess:            "LoginSuccess",
	KindLoginFailed:             "LoginFailed",
	KindCreateAccountResult:     "CreateAccountResult",
	KindLoginGameplay:           "LoginGameplay",
	KindLoginGameplayFailed:     "LoginGameplayFailed",
	KindCreatedProxies:          "CreatedProxies",
	KindReloginGameplay:         "ReloginGameplay",
	KindReloginGameplaySuccess:  "ReloginGameplaySuccess",
	KindReloginGameplayFailed:   "ReloginGameplayFailed",
	KindStreamDataStarted:       "StreamDataStarted",
	KindStreamDataRecv:          "StreamDataRecv",
	KindStreamDataCompleted:     "StreamDataCompleted",
	KindEnterWorld:              "EnterWorld",
	KindLeaveWorld:              "LeaveWorld",
	KindSetPosition:             "SetPosition",
	KindSetDirection:            "SetDirection",
	KindUpdatePosition:          "UpdatePosition",
	KindSetSpaceData:            "SetSpaceData",
	KindDelSpaceData:            "DelSpaceData",
	KindAddSpaceGeometryMapping: "AddSpaceGeometryMapping",
}

func (k Kind) Valid() bool {
	return k < kindCount
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Event is implemented by every payload in the catalog. Kind must not depend
// on the receiver's field values.
type Event interface {
	Kind() Kind
}

type Vector3 struct {
	X, Y, Z float32
}

// Server identifies which tier of the cluster a connection belongs to.
type Server string

const (
	ServerLogin    Server = "loginapp"
	ServerGameplay Server = "baseapp"
)

//
// Connection lifecycle

// ConnectionState reports the outcome of opening a transport.
type ConnectionState struct {
	Server  Server
	Address string
	Success bool
	Err     error
}

// Disconnected fires when a live connection is lost.
type Disconnected struct {
	Server Server
	Err    error
}

type Kicked struct {
	Code uint16
	Name string
}

type VersionMismatch struct {
	ClientVersion string
	ServerVersion string
}

type ScriptVersionMismatch struct {
	ClientVersion string
	ServerVersion string
}

// ImportRequested fires when the message table for Server has to be fetched
// before the handshake can continue.
type ImportRequested struct {
	Server Server
}

//
// Login

type LoginSuccess struct {
	Account string
	Host    string
	TCPPort uint16
	UDPPort uint16
	Datas   []byte
}

type LoginFailed struct {
	Code  uint16
	Name  string
	Datas []byte
}

// CreateAccountResult answers CreateAccount. A zero Code means the account
// was created.
type CreateAccountResult struct {
	Code  uint16
	Name  string
	Datas []byte
}

// LoginGameplay fires when the client starts logging in to the gameplay tier.
type LoginGameplay struct {
	Address string
}

type LoginGameplayFailed struct {
	Code uint16
	Name string
}

// CreatedProxies fires once the gameplay tier has created the account's
// proxy entity. The login sequence is complete at this point.
type CreatedProxies struct {
	EntityUUID uint64
	EntityID   int32
	EntityType string
}

type ReloginGameplay struct {
	Address string
}

type ReloginGameplaySuccess struct {
	EntityUUID uint64
}

type ReloginGameplayFailed struct {
	Code uint16
	Name string
}

//
// Streamed downloads

type StreamDataStarted struct {
	ID          int16
	Size        uint32
	Description string
}

type StreamDataRecv struct {
	ID   int16
	Data []byte
}

type StreamDataCompleted struct {
	ID int16
}

//
// World

type EnterWorld struct {
	EntityID   int32
	EntityType uint16
	IsOnGround bool
}

type LeaveWorld struct {
	EntityID int32
}

type SetPosition struct {
	EntityID int32
	Position Vector3
}

// SetDirection carries roll, pitch and yaw in radians as X, Y and Z.
type SetDirection struct {
	EntityID  int32
	Direction Vector3
}

// UpdatePosition is a volatile position update. Axes absent from the update
// keep the values of the last update.
type UpdatePosition struct {
	EntityID int32
	Position Vector3
	HasY     bool
}

type SetSpaceData struct {
	SpaceID uint32
	Key     string
	Value   string
}

type DelSpaceData struct {
	SpaceID uint32
	Key     string
}

type AddSpaceGeometryMapping struct {
	SpaceID uint32
	ResPath string
}

func (ConnectionState) Kind() Kind         { return KindConnectionState }
func (Disconnected) Kind() Kind            { return KindDisconnected }
func (Kicked) Kind() Kind                  { return KindKicked }
func (VersionMismatch) Kind() Kind         { return KindVersionMismatch }
func (ScriptVersionMismatch) Kind() Kind   { return KindScriptVersionMismatch }
func (ImportRequested) Kind() Kind         { return KindImportRequested }
func (LoginSuccess) Kind() Kind            { return KindLoginSuccess }
func (LoginFailed) Kind() Kind             { return KindLoginFailed }
func (CreateAccountResult) Kind() Kind     { return KindCreateAccountResult }
func (LoginGameplay) Kind() Kind           { return KindLoginGameplay }
func (LoginGameplayFailed) Kind() Kind     { return KindLoginGameplayFailed }
func (CreatedProxies) Kind() Kind          { return KindCreatedProxies }
func (ReloginGameplay) Kind() Kind         { return KindReloginGameplay }
func (ReloginGameplaySuccess) Kind() Kind  { return KindReloginGameplaySuccess }
func (ReloginGameplayFailed) Kind() Kind   { return KindReloginGameplayFailed }
func (StreamDataStarted) Kind() Kind       { return KindStreamDataStarted }
func (StreamDataRecv) Kind() Kind          { return KindStreamDataRecv }
func (StreamDataCompleted) Kind() Kind     { return KindStreamDataCompleted }
func (EnterWorld) Kind() Kind              { return KindEnterWorld }
func (LeaveWorld) Kind() Kind              { return KindLeaveWorld }
func (SetPosition) Kind() Kind             { return KindSetPosition }
func (SetDirection) Kind() Kind            { return KindSetDirection }
func (UpdatePosition) Kind() Kind          { return KindUpdatePosition }
func (SetSpaceData) Kind() Kind            { return KindSetSpaceData }
func (DelSpaceData) Kind() Kind            { return KindDelSpaceData }
func (AddSpaceGeometryMapping) Kind() Kind { return KindAddSpaceGeometryMapping }
