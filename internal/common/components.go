package common

const (
	ComponentRealtimeSync = "realtime-sync"
	ComponentEventStore   = "event-store"
	ComponentRPCClient    = "rpc-client"
	ComponentTaskQueue    = "task-queue"
	ComponentMaintenance  = "maintenance"
)

var AllComponents = map[string]struct{}{
	ComponentRealtimeSync: {},
	ComponentEventStore:   {},
	ComponentRPCClient:    {},
	ComponentTaskQueue:    {},
	ComponentMaintenance:  {},
}
