package remote

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// RecordedCommand is one command captured by DryRunTransport.
type RecordedCommand struct {
	Host    string
	Request CommandRequest
}

// DryRunTransport records commands instead of sending them. Every command succeeds with empty output.
// When an output writer is set, each command is echoed as a "[host] command" line.
type DryRunTransport struct {
	mutex    sync.Mutex
	output   io.Writer
	recorded []RecordedCommand
}

// NewDryRunTransport constructs an empty DryRunTransport echoing to output, which may be nil.
func NewDryRunTransport(output io.Writer) *DryRunTransport {
	return &DryRunTransport{output: output}
}

// Execute records the request.
func (transport *DryRunTransport) Execute(executionContext context.Context, endpoint Endpoint, request CommandRequest) (CommandResult, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return CommandResult{}, contextError
	}
	transport.mutex.Lock()
	defer transport.mutex.Unlock()
	transport.recorded = append(transport.recorded, RecordedCommand{Host: endpoint.Label, Request: request})
	if transport.output != nil {
		if _, writeError := fmt.Fprintf(transport.output, hostLinePrefixTemplateConstant, endpoint.Label, request.Script); writeError != nil {
			return CommandResult{}, writeError
		}
	}
	return CommandResult{}, nil
}

// Close is a no-op.
func (transport *DryRunTransport) Close() error {
	return nil
}

// Recorded returns a copy of the commands seen so far, in arrival order.
func (transport *DryRunTransport) Recorded() []RecordedCommand {
	transport.mutex.Lock()
	defer transport.mutex.Unlock()
	return append([]RecordedCommand(nil), transport.recorded...)
}
