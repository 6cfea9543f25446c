package service

import (
	"context"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"github.com/devrev/pairdb/gmu-node/internal/metrics"
	"github.com/devrev/pairdb/gmu-node/internal/model"
	"github.com/devrev/pairdb/gmu-node/internal/transport"
	"go.uber.org/zap"
)

// RemoteReadConfig holds remote read configuration
type RemoteReadConfig struct {
	Timeout    time.Duration
	MaxRetries int
}

// RemoteReader fetches keys this node does not own from their owners, at the
// snapshot of the reading transaction
type RemoteReader struct {
	config    *RemoteReadConfig
	localNode string
	ownership OwnershipLookup
	transport transport.Transport
	generator *VersionGenerator
	commitLog *CommitLogService
	nearCache *NearCacheService
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewRemoteReader creates a remote reader. nearCache may be nil.
func NewRemoteReader(cfg *RemoteReadConfig, ownership OwnershipLookup, tr transport.Transport, generator *VersionGenerator, commitLog *CommitLogService, nearCache *NearCacheService, m *metrics.Metrics, logger *zap.Logger) *RemoteReader {
	return &RemoteReader{
		config:    cfg,
		localNode: generator.NodeID(),
		ownership: ownership,
		transport: tr,
		generator: generator,
		commitLog: commitLog,
		nearCache: nearCache,
		metrics:   m,
		logger:    logger,
	}
}

// Retrieve reads key from its owners. A nil entry with a nil error means no
// owner had a value and ownership did not change during the read. When
// ownership kept changing until retries ran out, an indeterminate error is
// returned instead.
func (r *RemoteReader) Retrieve(ctx context.Context, rc *ReadContext, key string) (*model.VersionedEntry, error) {
	if rc.IsInTxScope() && r.nearCache != nil {
		if entry := r.nearCache.GetValidVersion(key, rc.TransactionVersion()); entry != nil {
			rc.AddKeyReadInCommand(key, entry)
			return entry, nil
		}
	}

	start := time.Now()
	r.metrics.RemoteReadsTotal.Inc()
	defer func() {
		r.metrics.RemoteReadDuration.Observe(time.Since(start).Seconds())
	}()

	for attempt := 0; ; attempt++ {
		topology := r.ownership.TopologyID()

		targets := r.liveOwners(key)
		if len(targets) == 0 {
			return nil, errors.NoOwners(key)
		}

		cmd, err := r.buildCommand(rc, key)
		if err != nil {
			return nil, err
		}

		responses, err := r.transport.Send(ctx, targets, cmd, transport.Options{
			Mode:    transport.ResponseModeWaitForValid,
			Filter:  transport.NewClusteredGetResponseValidityFilter(targets, r.localNode),
			Timeout: r.config.Timeout,
		})
		if err != nil {
			r.logger.Warn("Remote get did not complete",
				zap.String("key", key),
				zap.Strings("targets", targets),
				zap.Error(err))
		}

		if sender, resp, ok := firstValid(targets, responses); ok {
			return r.accept(rc, key, sender, resp.Entry)
		}

		if r.ownership.TopologyID() == topology {
			r.metrics.RemoteReadExhausted.Inc()
			r.logger.Warn("No owner returned a value",
				zap.String("key", key),
				zap.Strings("targets", targets))
			return nil, nil
		}
		if attempt >= r.config.MaxRetries {
			r.metrics.RemoteReadExhausted.Inc()
			return nil, errors.RemoteReadIndeterminate(key, attempt+1)
		}

		r.metrics.RemoteReadRetriesTotal.Inc()
		r.logger.Info("Ownership changed during remote get, retrying",
			zap.String("key", key),
			zap.Int("attempt", attempt+1))
	}
}

// liveOwners returns the owners of key that are members of the current view,
// excluding this node
func (r *RemoteReader) liveOwners(key string) []string {
	view := r.generator.CurrentView()
	var targets []string
	for _, owner := range r.ownership.Locate(key) {
		if owner != r.localNode && view.Contains(owner) {
			targets = append(targets, owner)
		}
	}
	return targets
}

func (r *RemoteReader) buildCommand(rc *ReadContext, key string) (*transport.ClusteredGetCommand, error) {
	cmd := &transport.ClusteredGetCommand{
		Key:    key,
		Origin: r.localNode,
	}
	if !rc.IsInTxScope() {
		cmd.Version = r.commitLog.GetCurrentVersion()
		return cmd, nil
	}

	cmd.TxID = rc.TxID()
	cmd.Version = rc.TransactionVersion()
	if cmd.Version == nil {
		cmd.Version = r.commitLog.GetCurrentVersion()
	}
	if readFrom := rc.AlreadyReadFrom(); len(readFrom) > 0 {
		snapshot, err := r.generator.ClusterSnapshot(cmd.Version.ViewID())
		if err != nil {
			return nil, err
		}
		cmd.ReadFrom = snapshot.ReadFromMask(readFrom)
	}
	return cmd, nil
}

func (r *RemoteReader) accept(rc *ReadContext, key, sender string, entry *model.VersionedEntry) (*model.VersionedEntry, error) {
	if rc.IsInTxScope() {
		rc.AddReadFrom(sender)
		if entry.MaxTxVersion != nil {
			merged, err := r.generator.Merge(rc.TransactionVersion(), entry.MaxTxVersion)
			if err != nil {
				return nil, errors.MustRevalidate("remote read boundary is incomparable with transaction version").
					WithDetail("key", key).
					WithDetail("sender", sender)
			}
			rc.SetTransactionVersion(merged)
		}
	}
	rc.AddKeyReadInCommand(key, entry)

	if r.nearCache != nil {
		r.nearCache.InsertOrUpdate(key, entry)
	}

	r.logger.Debug("Remote get answered",
		zap.String("key", key),
		zap.String("sender", sender),
		zap.Stringer("entry", entry))
	return entry, nil
}

// firstValid picks a successful response, preferring target order
func firstValid(targets []string, responses map[string]transport.Response) (string, transport.Response, bool) {
	for _, t := range targets {
		if resp, ok := responses[t]; ok && resp.Status == transport.StatusSuccess && resp.Entry != nil {
			return t, resp, true
		}
	}
	return "", transport.Response{}, false
}
