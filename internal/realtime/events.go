package realtime

// Event is the tagged union of everything the Service can emit. Consumers
// type-switch on the concrete value.
type Event interface {
	isEvent()
}

// RealtimeCheckpoint fires whenever a new head block is accepted, whether
// or not it carried any matched logs.
type RealtimeCheckpoint struct {
	Timestamp uint64
}

// FinalityCheckpoint fires whenever the finalized block number advances.
type FinalityCheckpoint struct {
	Timestamp uint64
}

// ShallowReorg fires when a reorg's common ancestor is found above the
// finalized block.
type ShallowReorg struct {
	CommonAncestorTimestamp uint64
}

// DeepReorg fires when the ancestor walk reaches the finalized block
// without finding a common ancestor. The local chain is left untouched;
// recovery is delegated to a higher layer.
type DeepReorg struct {
	DetectedAtBlockNumber uint64
	MinimumDepth          uint64
}

// ErrorEvent fires for any RPC or store error surfaced through the queue's
// error hook.
type ErrorEvent struct {
	Err error
}

func (RealtimeCheckpoint) isEvent() {}
func (FinalityCheckpoint) isEvent() {}
func (ShallowReorg) isEvent()       {}
func (DeepReorg) isEvent()          {}
func (ErrorEvent) isEvent()         {}
