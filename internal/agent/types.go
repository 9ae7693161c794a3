// Package agent runs the external agent CLI and normalizes what it prints.
package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/agent-relay/internal/domain"
)

var errNotObject = errors.New("output is not a JSON object")

// Request is one agent turn.
type Request struct {
	Message        string
	AgentSessionID string        // empty starts a new agent session
	WorkDir        string        // empty = invoker default
	Timeout        time.Duration // zero = invoker default
}

// Invocation is a fully built process invocation handed to a Runner.
type Invocation struct {
	Args    []string
	Dir     string
	Timeout time.Duration
}

// RunOutput is what the process left behind. A non-zero ExitCode is not a Run error.
type RunOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"returncode"`
}

// Output is the JSON envelope the agent CLI prints with --output-format json.
// Task artifacts use the same envelope.
type Output struct {
	Type      string           `json:"type,omitempty"`
	Subtype   string           `json:"subtype,omitempty"`
	IsError   bool             `json:"is_error"`
	Result    string           `json:"result"`
	SessionID string           `json:"session_id"`
	CostUSD   float64          `json:"total_cost_usd"`
	NumTurns  int              `json:"num_turns"`
	ErrorKind domain.ErrorKind `json:"error_kind,omitempty"`
}

// ParseOutput decodes a complete envelope. Empty, truncated or non-object input is an error.
func ParseOutput(data []byte) (Output, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Output{}, errNotObject
	}
	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		return Output{}, err
	}
	return out, nil
}

// AsResult converts an envelope into a result.
func (o Output) AsResult() domain.AgentResult {
	if o.IsError {
		kind := o.ErrorKind
		if kind == "" {
			kind = domain.ErrorKindProcess
		}
		return domain.Failed(kind, o.SessionID, o.Result)
	}
	return domain.AgentResult{
		ResponseText:   o.Result,
		AgentSessionID: o.SessionID,
		Cost:           o.CostUSD,
		TurnCount:      o.NumTurns,
		Success:        true,
	}
}

// EncodeResult renders a result in envelope form.
func EncodeResult(r domain.AgentResult) ([]byte, error) {
	out := Output{
		Type:      "result",
		IsError:   !r.Success,
		Result:    r.ResponseText,
		SessionID: r.AgentSessionID,
		CostUSD:   r.Cost,
		NumTurns:  r.TurnCount,
	}
	if !r.Success {
		out.Result = r.Error
		out.ErrorKind = r.ErrorKind
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return data, nil
}

// DecodeResult parses an envelope straight into a result.
func DecodeResult(data []byte) (domain.AgentResult, error) {
	out, err := ParseOutput(data)
	if err != nil {
		return domain.AgentResult{}, err
	}
	return out.AsResult(), nil
}

// BuildArgs returns the CLI arguments for one turn.
func BuildArgs(message, agentSessionID string) []string {
	args := []string{"-p", message, "--output-format", "json"}
	if agentSessionID != "" {
		args = append(args, "--resume", agentSessionID)
	}
	return args
}
