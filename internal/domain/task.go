package domain

// TaskState is the polled state of an asynchronous agent task.
// NotFound is derived from a missing artifact, it is never stored.
type TaskState string

const (
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskNotFound   TaskState = "not_found"
)

// TaskStatus is what a poll returns. Result is set only when State is TaskCompleted.
type TaskStatus struct {
	State  TaskState
	Result *AgentResult
}
