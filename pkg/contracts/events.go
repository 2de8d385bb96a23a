package contracts

// EventType labels entries in the custody event chain.
type EventType string

const (
	EventHeartbeat        EventType = "HEARTBEAT"
	EventProposalCreated  EventType = "PROPOSAL_CREATED"
	EventConfirmed        EventType = "CONFIRMED"
	EventRevoked          EventType = "REVOKED"
	EventExecuted         EventType = "EXECUTED"
	EventExecutionFailed  EventType = "EXECUTION_FAILED"
	EventAssetRegistered  EventType = "ASSET_REGISTERED"
	EventAssetRemoved     EventType = "ASSET_REMOVED"
	EventAssetReleased    EventType = "ASSET_RELEASED"
	EventReleaseFailed    EventType = "RELEASE_FAILED"
	EventReleaseCompleted EventType = "RELEASE_COMPLETED"
	EventPrincipalAdded   EventType = "PRINCIPAL_ADDED"
	EventPrincipalRemoved EventType = "PRINCIPAL_REMOVED"
	EventPrincipalSwapped EventType = "PRINCIPAL_REPLACED"
	EventQuorumChanged    EventType = "QUORUM_CHANGED"
)
