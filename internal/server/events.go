package server

import "time"

// Event kinds reported to the event hook.
const (
	EventJoin    = "join"
	EventLeave   = "leave"
	EventCreate  = "create"
	EventUpdate  = "update"
	EventDestroy = "destroy"
	EventFloor   = "floor"
	EventSkybox  = "skybox"
	EventLevel   = "level"
)

// Event describes an accepted change, for monitors.
type Event struct {
	Kind   string    `json:"kind"`
	Player uint64    `json:"player"`
	Name   string    `json:"name,omitempty"`
	UID    string    `json:"uid,omitempty"`
	Value  int32     `json:"value,omitempty"`
	Tier   string    `json:"tier,omitempty"`
	Time   time.Time `json:"time"`
}
