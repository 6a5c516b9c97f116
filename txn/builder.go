package txn

import (
	"fmt"
	"strings"
	"sync"

	"pkt.systems/relsdk/api"
)

// Request carries everything needed to assemble one transaction.
type Request struct {
	Database       string
	Compute        string
	Actions        []api.LabeledAction
	ReadOnly       bool
	Mode           api.Mode
	SourceDatabase string
}

// Builder assembles transactions stamped with the tracked version and is the
// only writer of its VersionTracker.
type Builder struct {
	mu      sync.Mutex
	tracker *VersionTracker
}

// NewBuilder returns a Builder over tracker. A nil tracker gets a fresh one.
func NewBuilder(tracker *VersionTracker) *Builder {
	if tracker == nil {
		tracker = NewVersionTracker()
	}
	return &Builder{tracker: tracker}
}

// Tracker exposes the version cache for reads.
func (b *Builder) Tracker() *VersionTracker {
	return b.tracker
}

// Build validates req and returns the wire transaction. An empty mode means
// api.ModeOpen.
func (b *Builder) Build(req Request) (*api.Transaction, error) {
	db := strings.TrimSpace(req.Database)
	if db == "" {
		return nil, invalid("database", "database name must be non-empty")
	}
	mode := req.Mode
	if mode == "" {
		mode = api.ModeOpen
	}
	if !mode.Valid() {
		return nil, invalid("mode", fmt.Sprintf("unknown mode %q", req.Mode))
	}
	source := strings.TrimSpace(req.SourceDatabase)
	if mode.IsClone() && source == "" {
		return nil, invalid("source database", fmt.Sprintf("mode %s requires a source database", mode))
	}
	if !mode.IsClone() && source != "" {
		return nil, invalid("source database", fmt.Sprintf("mode %s does not take a source database", mode))
	}
	actions := make([]api.LabeledAction, 0, len(req.Actions))
	for i, la := range req.Actions {
		if la.Action == nil {
			return nil, invalid("actions", fmt.Sprintf("action %d has no body", i))
		}
		if la.Name == "" {
			la.Name = DefaultActionName
		}
		actions = append(actions, la)
	}
	return &api.Transaction{
		Type:         "Transaction",
		DBName:       db,
		ComputeName:  api.StringPtr(strings.TrimSpace(req.Compute)),
		Mode:         mode,
		ReadOnly:     req.ReadOnly,
		Version:      b.tracker.Get(db),
		SourceDBName: api.StringPtr(source),
		Actions:      actions,
	}, nil
}

// ApplyVersion advances the cached version of db to version when it is
// strictly greater, reporting whether it did.
func (b *Builder) ApplyVersion(db string, version int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if version <= b.tracker.Get(db) {
		return false
	}
	b.tracker.Set(db, version)
	return true
}

// ApplyResponse applies the version reported by result, if any.
func (b *Builder) ApplyResponse(db string, result *api.TransactionResult) bool {
	if result == nil {
		return false
	}
	return b.ApplyVersion(db, result.Version)
}
