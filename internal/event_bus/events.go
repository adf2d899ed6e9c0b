package event_bus

const (
	TopicDocumentCreated  EventType = "document.created"
	TopicDocumentModified EventType = "document.modified"
	TopicDocumentRenamed  EventType = "document.renamed"
	TopicRefreshRequested EventType = "sync.refresh.requested"
)

// Document paths are relative to the vault root and slash separated.

type DocumentCreated struct {
	Path string
}

type DocumentModified struct {
	Path string
}

type DocumentRenamed struct {
	OldPath string
	Path    string
}

// RefreshRequested asks for a full reconciliation pass. Reason ends up in the logs only.
type RefreshRequested struct {
	Reason string
}
