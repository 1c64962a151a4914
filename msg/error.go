package msg

// ErrorReply answers a correlated request that cannot be served: malformed
// payload, or a live-worker request whose worker disconnected before
// replying.
type ErrorReply struct {
	Message string `json:"message"`
}
