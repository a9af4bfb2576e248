package contextkey

type contextKey string

const (
	ContextKeyRequestID    contextKey = "request_id"
	ContextKeyUserID       contextKey = "user_id"
	ContextKeyConnectionID contextKey = "connection_id"
)
