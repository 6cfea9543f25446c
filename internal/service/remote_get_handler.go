package service

import (
	"context"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"github.com/devrev/pairdb/gmu-node/internal/transport"
	"go.uber.org/zap"
)

// RemoteGetHandler serves clustered gets sent by other nodes
type RemoteGetHandler struct {
	factory   *SnapshotEntryFactory
	generator *VersionGenerator
	logger    *zap.Logger
}

// NewRemoteGetHandler creates the handler registered with the transport
func NewRemoteGetHandler(factory *SnapshotEntryFactory, generator *VersionGenerator, logger *zap.Logger) *RemoteGetHandler {
	return &RemoteGetHandler{
		factory:   factory,
		generator: generator,
		logger:    logger,
	}
}

// Handle implements transport.Handler
func (h *RemoteGetHandler) Handle(ctx context.Context, cmd transport.Command) transport.Response {
	get, ok := cmd.(*transport.ClusteredGetCommand)
	if !ok {
		return transport.Response{
			Status: transport.StatusException,
			Err:    errors.InvalidArgument("unsupported command "+cmd.CommandName(), nil),
		}
	}

	// ownership moved away; the requester must look elsewhere
	if !h.factory.IsLocalOwner(get.Key) {
		return transport.Response{Status: transport.StatusUnsuccessful}
	}

	var readFrom []string
	servedHere := false
	if get.Version != nil && !get.ReadFrom.Empty() {
		snapshot, err := h.generator.ClusterSnapshot(get.Version.ViewID())
		if err != nil {
			return transport.Response{Status: transport.StatusException, Err: err}
		}
		readFrom = snapshot.MembersOf(get.ReadFrom)
		servedHere = get.ReadFrom.IsSet(snapshot.IndexOf(h.generator.NodeID()))
	}

	rc := NewRemoteGetContext(get.TxID, get.Version, readFrom, servedHere)
	defer rc.Release()
	entry, err := h.factory.Read(ctx, rc, get.Key)
	if err != nil {
		h.logger.Warn("Failed to serve remote get",
			zap.String("key", get.Key),
			zap.String("origin", get.Origin),
			zap.Error(err))
		return transport.Response{Status: transport.StatusException, Err: err}
	}
	return transport.Response{Status: transport.StatusSuccess, Entry: entry}
}
