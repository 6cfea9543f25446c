package service

import (
	"context"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"github.com/devrev/pairdb/gmu-node/internal/transport"
	"go.uber.org/zap"
)

// CommandHandler is the single transport entry point of a node. Clustered
// gets go to the remote get handler, transaction commands to the driver.
type CommandHandler struct {
	gets   *RemoteGetHandler
	driver *TransactionDriver
	logger *zap.Logger
}

// NewCommandHandler creates a node command handler
func NewCommandHandler(gets *RemoteGetHandler, driver *TransactionDriver, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{gets: gets, driver: driver, logger: logger}
}

// Handle implements transport.Handler
func (h *CommandHandler) Handle(ctx context.Context, cmd transport.Command) transport.Response {
	switch c := cmd.(type) {
	case *transport.ClusteredGetCommand:
		return h.gets.Handle(ctx, c)

	case *transport.PrepareCommand:
		result, err := h.driver.HandlePrepare(ctx, c.TxID, c.ViewID, c.Writes)
		if err != nil {
			return h.failed(c, err)
		}
		return transport.Response{
			Status:  transport.StatusSuccess,
			Version: result.Version,
			Outcome: result.Outcome.String(),
		}

	case *transport.CommitCommand:
		outcome, err := h.driver.HandleCommit(ctx, c.TxID, c.ViewID, c.Version)
		if err != nil {
			return h.failed(c, err)
		}
		return transport.Response{Status: transport.StatusSuccess, Outcome: outcome.String()}

	case *transport.RollbackCommand:
		outcome, err := h.driver.HandleRollback(ctx, c.TxID, c.ViewID)
		if err != nil {
			return h.failed(c, err)
		}
		return transport.Response{Status: transport.StatusSuccess, Outcome: outcome.String()}

	default:
		return transport.Response{
			Status: transport.StatusException,
			Err:    errors.InvalidArgument("unsupported command "+cmd.CommandName(), nil),
		}
	}
}

func (h *CommandHandler) failed(cmd transport.Command, err error) transport.Response {
	h.logger.Warn("Transaction command failed",
		zap.String("command", cmd.CommandName()),
		zap.Error(err))
	return transport.Response{Status: transport.StatusException, Err: err}
}
