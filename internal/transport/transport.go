// Package transport delivers commands to cluster members and gathers their
// responses according to a response mode and a validity filter.
package transport

import (
	"context"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/model"
)

// ResponseMode selects when Send returns
type ResponseMode int

const (
	// ResponseModeWaitForValid returns on the first response accepted by the
	// filter, or once every target answered
	ResponseModeWaitForValid ResponseMode = iota
	// ResponseModeWaitForAll returns once every target answered
	ResponseModeWaitForAll
)

// ResponseStatus classifies a response
type ResponseStatus int

const (
	// StatusSuccess carries an entry (present or absent)
	StatusSuccess ResponseStatus = iota
	// StatusUnsuccessful means the target had nothing to return
	StatusUnsuccessful
	// StatusException means delivery or processing failed
	StatusException
)

func (s ResponseStatus) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusUnsuccessful:
		return "UNSUCCESSFUL"
	default:
		return "EXCEPTION"
	}
}

// Response is a target's answer to a command
type Response struct {
	Sender string
	Status ResponseStatus
	Entry  *model.VersionedEntry
	// Version is the provisional version returned by a prepare
	Version *model.Version
	// Outcome names what a transaction command achieved
	Outcome string
	Err     error
}

// Command is a message sent to cluster members
type Command interface {
	CommandName() string
}

// ClusteredGetCommand asks an owner for a key at a transaction's snapshot
type ClusteredGetCommand struct {
	Key    string
	Origin string
	// TxID is empty for single-key reads
	TxID model.GlobalTransactionID
	// Version is the requester's transaction version, or its current
	// committed version for single-key reads
	Version *model.Version
	// ReadFrom marks the members the transaction already read from,
	// indexed by the snapshot of Version's view
	ReadFrom model.NodeMask
}

// CommandName implements Command
func (c *ClusteredGetCommand) CommandName() string {
	return "clustered_get"
}

// PrepareCommand carries a remote transaction's writes to a participant
type PrepareCommand struct {
	TxID   model.GlobalTransactionID
	Origin string
	ViewID int64
	Writes []model.WriteOperation
}

// CommandName implements Command
func (c *PrepareCommand) CommandName() string {
	return "prepare"
}

// CommitCommand carries the final version decided by the coordinator
type CommitCommand struct {
	TxID    model.GlobalTransactionID
	ViewID  int64
	Version *model.Version
}

// CommandName implements Command
func (c *CommitCommand) CommandName() string {
	return "commit"
}

// RollbackCommand discards a remote transaction
type RollbackCommand struct {
	TxID   model.GlobalTransactionID
	ViewID int64
}

// CommandName implements Command
func (c *RollbackCommand) CommandName() string {
	return "rollback"
}

// Handler processes commands delivered to a node
type Handler interface {
	Handle(ctx context.Context, cmd Command) Response
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, cmd Command) Response

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, cmd Command) Response {
	return f(ctx, cmd)
}

// ResponseFilter decides which responses satisfy a ResponseModeWaitForValid
// call. A filter belongs to a single Send and is not safe for concurrent use.
type ResponseFilter interface {
	IsAcceptable(resp Response) bool
	NeedMoreResponses() bool
}

// Options tune a Send
type Options struct {
	Mode    ResponseMode
	Filter  ResponseFilter
	Timeout time.Duration
}

// Transport sends a command to a set of members
type Transport interface {
	Send(ctx context.Context, targets []string, cmd Command, opts Options) (map[string]Response, error)
}
