package domain

// ErrorKind classifies why an agent invocation failed.
type ErrorKind string

const (
	// ErrorKindTimeout means the agent exceeded its wall-clock ceiling.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindMalformedOutput means the agent exited cleanly but its output did not parse.
	ErrorKindMalformedOutput ErrorKind = "malformed_output"
	// ErrorKindAuth means the agent could not authenticate.
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindSessionConflict means the agent refused to run inside another active agent session.
	ErrorKindSessionConflict ErrorKind = "session_conflict"
	// ErrorKindProcess is any other non-zero exit.
	ErrorKindProcess ErrorKind = "process"
	// ErrorKindTransport means the host bridge could not be reached.
	ErrorKindTransport ErrorKind = "transport"
	// ErrorKindCanceled means the caller gave up before the agent started.
	ErrorKindCanceled ErrorKind = "canceled"
)

// AgentResult is the normalized outcome of one agent invocation.
// It is produced once and never mutated afterwards.
type AgentResult struct {
	ResponseText   string    `json:"response"`
	AgentSessionID string    `json:"session_id"`
	Cost           float64   `json:"cost"`
	TurnCount      int       `json:"turns"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
}

// Failed builds an unsuccessful result that keeps the caller's session id.
func Failed(kind ErrorKind, sessionID, message string) AgentResult {
	return AgentResult{
		AgentSessionID: sessionID,
		Success:        false,
		Error:          message,
		ErrorKind:      kind,
	}
}
