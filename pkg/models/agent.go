package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the set of stages a worker may claim. The role→stage mapping lives
// in pkg/taskqueue.
type Role string

// Agent roles.
const (
	RoleChief     Role = "chief"
	RoleScout     Role = "scout"
	RoleReporter  Role = "reporter"
	RoleEditor    Role = "editor"
	RolePublisher Role = "publisher"
)

// AgentStatus is the liveness state reported via heartbeats.
type AgentStatus string

// Agent statuses.
const (
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	AgentOffline AgentStatus = "offline"
)

// Agent is a worker registration row.
type Agent struct {
	ID            uuid.UUID
	Role          Role
	Status        AgentStatus
	LastHeartbeat time.Time
}
