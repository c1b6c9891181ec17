package websocket

// TopicAll subscribes a client to every job and batch update.
const TopicAll = "all"

// Message types carried in types.ProgressMessage.Type
const (
	MessageProgress  = "progress"
	MessageComplete  = "complete"
	MessageError     = "error"
	MessageCancelled = "cancelled"
	MessageBatch     = "batch"
)
