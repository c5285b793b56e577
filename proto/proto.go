// Package proto holds the control plane messages exchanged as JSON-RPC over
// the multiplexed admin connection.
package proto

import "time"

// admin service

type SetLevelRequest struct {
	Player uint64
	Tier   string
}

type SetLevelResponse struct {
}

type RenamePlayerRequest struct {
	Player uint64
	Name   string
}

type RenamePlayerResponse struct {
}

type ListPlayersRequest struct {
	Pattern string
}

type PlayerInfo struct {
	Player uint64
	Name   string
	Tier   string
	Online bool
	Blocks int
}

type ListPlayersResponse struct {
	Players []PlayerInfo
}

type SaveRequest struct {
}

type SaveResponse struct {
	Path string
}

type StatusRequest struct {
}

type StatusResponse struct {
	Players     int
	Connections int
	Blocks      int
	Selections  int
	Floor       int32
	Skybox      int32
}

// WatchRequest subscribes the calling connection, identified by the id the
// server sent on connect, to Monitor.Event calls.
type WatchRequest struct {
	Id int32
}

type WatchResponse struct {
}

// monitor service, called by the server on watching clients

type Event struct {
	Kind   string
	Player uint64
	Name   string
	UID    string
	Value  int32
	Tier   string
	Time   time.Time
}

type EventResponse struct {
}
