package service

import (
	"context"
	"sync"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"github.com/devrev/pairdb/gmu-node/internal/model"
)

// PreparePhase tracks how far prepare processing has progressed
type PreparePhase int

const (
	PhaseUnprepared PreparePhase = iota
	PhasePreparing
	PhasePrepared
)

func (p PreparePhase) String() string {
	switch p {
	case PhasePreparing:
		return "PREPARING"
	case PhasePrepared:
		return "PREPARED"
	default:
		return "UNPREPARED"
	}
}

// PendingDecision is a commit or rollback that arrived before prepare started
type PendingDecision int

const (
	DecisionNone PendingDecision = iota
	DecisionCommitPending
	DecisionRollbackPending
)

func (d PendingDecision) String() string {
	switch d {
	case DecisionCommitPending:
		return "COMMIT_PENDING"
	case DecisionRollbackPending:
		return "ROLLBACK_PENDING"
	default:
		return "NONE"
	}
}

// WaitOutcome tells a commit or rollback handler what to do next
type WaitOutcome int

const (
	// WaitProceed means prepare finished and the command can be applied
	WaitProceed WaitOutcome = iota
	// WaitDefer means prepare has not started; the decision was recorded and
	// the prepare handler will finish the transaction
	WaitDefer
)

func (o WaitOutcome) String() string {
	if o == WaitDefer {
		return "DEFER"
	}
	return "PROCEED"
}

// RemoteTransaction is the lifecycle record of a transaction originated on
// another node. Its state is a phase paired with at most one pending
// decision, so contradictory pending decisions cannot coexist.
type RemoteTransaction struct {
	id     model.GlobalTransactionID
	viewID int64

	mu            sync.Mutex
	phase         PreparePhase
	pending       PendingDecision
	commitVersion *model.Version
	prepared      chan struct{}
	valid         bool
	modifications []model.WriteOperation
	lookedUp      map[string]*model.VersionedEntry
}

// NewRemoteTransaction creates an unprepared record
func NewRemoteTransaction(id model.GlobalTransactionID, viewID int64) *RemoteTransaction {
	return &RemoteTransaction{
		id:       id,
		viewID:   viewID,
		prepared: make(chan struct{}),
		valid:    true,
		lookedUp: make(map[string]*model.VersionedEntry),
	}
}

// ID returns the transaction id
func (r *RemoteTransaction) ID() model.GlobalTransactionID {
	return r.id
}

// ViewID returns the view the transaction was first seen in
func (r *RemoteTransaction) ViewID() int64 {
	return r.viewID
}

// State returns the current phase and pending decision
func (r *RemoteTransaction) State() (PreparePhase, PendingDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase, r.pending
}

// MarkForPreparing records that prepare processing started and returns any
// decision that arrived before it. The prepare handler must finish the
// transaction with that decision once prepared.
func (r *RemoteTransaction) MarkForPreparing() PendingDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseUnprepared {
		r.phase = PhasePreparing
	}
	return r.pending
}

// MarkPreparedAndNotify records that prepare finished and wakes every
// WaitPrepared caller
func (r *RemoteTransaction) MarkPreparedAndNotify() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhasePrepared {
		return
	}
	r.phase = PhasePrepared
	close(r.prepared)
}

// WaitPrepared is called by an incoming commit (commit=true) or rollback. It
// returns WaitProceed once prepare has finished, blocking while prepare is in
// progress, or records the decision and returns WaitDefer when prepare has
// not started. A rollback replaces a pending commit; a commit never replaces
// a pending rollback.
func (r *RemoteTransaction) WaitPrepared(ctx context.Context, commit bool) (WaitOutcome, error) {
	r.mu.Lock()
	switch r.phase {
	case PhasePrepared:
		r.mu.Unlock()
		return WaitProceed, nil
	case PhaseUnprepared:
		if commit {
			if r.pending == DecisionNone {
				r.pending = DecisionCommitPending
			}
		} else {
			r.pending = DecisionRollbackPending
		}
		r.mu.Unlock()
		return WaitDefer, nil
	}
	prepared := r.prepared
	r.mu.Unlock()

	select {
	case <-prepared:
		return WaitProceed, nil
	case <-ctx.Done():
		return WaitProceed, errors.WaitTimeout("prepare of "+r.id.String(), ctx.Err())
	}
}

// IsMarkedForCommit reports a deferred commit
func (r *RemoteTransaction) IsMarkedForCommit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending == DecisionCommitPending
}

// IsMarkedForRollback reports a deferred rollback
func (r *RemoteTransaction) IsMarkedForRollback() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending == DecisionRollbackPending
}

// SetCommitVersion remembers the final version carried by a commit message
func (r *RemoteTransaction) SetCommitVersion(v *model.Version) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitVersion = v
}

// CommitVersion returns the final version of a commit message, if any
func (r *RemoteTransaction) CommitVersion() *model.Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commitVersion
}

// Invalidate marks the record destroyed; later lookups are rejected
func (r *RemoteTransaction) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.valid = false
}

// IsValid reports whether the record has not been invalidated
func (r *RemoteTransaction) IsValid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.valid
}

// SetModifications stores the write set carried by prepare
func (r *RemoteTransaction) SetModifications(writes []model.WriteOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modifications = append([]model.WriteOperation(nil), writes...)
}

// Modifications returns the write set
func (r *RemoteTransaction) Modifications() []model.WriteOperation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.WriteOperation(nil), r.modifications...)
}

// PutLookedUpEntry records an entry read on behalf of the transaction
func (r *RemoteTransaction) PutLookedUpEntry(key string, entry *model.VersionedEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.valid {
		return errors.InvalidTransaction(r.id.String())
	}
	r.lookedUp[key] = entry
	return nil
}

// LookedUpEntry returns an entry recorded by PutLookedUpEntry
func (r *RemoteTransaction) LookedUpEntry(key string) (*model.VersionedEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.lookedUp[key]
	return e, ok
}
