package agent

import "context"

// Runner executes the agent CLI with the given arguments.
// It returns an error only when the process could not be run to completion;
// a non-zero exit is reported through RunOutput.ExitCode.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (RunOutput, error)
}

// HistorySource lists resumable agent sessions for a project.
type HistorySource interface {
	ListSessions(ctx context.Context, project string) (HistoryListing, error)
}

// Ensure both runners satisfy the interfaces they are wired through.
var (
	_ Runner        = (*LocalRunner)(nil)
	_ Runner        = (*BridgeRunner)(nil)
	_ HistorySource = (*BridgeRunner)(nil)
	_ HistorySource = (*FileHistory)(nil)
	_ HistorySource = (*CachedHistory)(nil)
)
