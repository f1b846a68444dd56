package sync

// Status is the orchestrator state.
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusActions Status = "ACTIONS"
	StatusCache   Status = "CACHE"
	StatusSynched Status = "SYNCHED"
	StatusErrored Status = "ERRORED"
)

// Ready reports whether views may read from the local cache.
func (s Status) Ready() bool {
	return s == StatusSynched
}
