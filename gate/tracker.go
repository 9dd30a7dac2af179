package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ridgeline-ai/gatehouse/policy"
	"go.uber.org/zap"
)

// ErrNoPendingConfirmation is returned by WaitForConfirmation when no gate
// was installed for the id, or when the gate was already consumed.
var ErrNoPendingConfirmation = errors.New("no pending confirmation for id")

// DefaultMaxHistory caps the terminal-execution history.
const DefaultMaxHistory = 100

// Tracker owns the lifecycle record of every tool call, active and
// historical, and the one-shot confirmation gates keyed by execution id.
// All maps are guarded by one mutex; callbacks fire outside the lock.
type Tracker struct {
	mu         sync.Mutex
	active     map[string]*ExecutionInfo
	history    []*ExecutionInfo
	pending    map[string]*confirmGate
	maxHistory int
	callbacks  Callbacks
	logger     *zap.Logger
}

// confirmGate is the one-shot confirmation primitive for one execution.
// The buffered channel absorbs a resolution that arrives before the
// waiter; claimed marks the gate as consumed by a waiter so a duplicate
// wait fails fast instead of stealing the resolution.
type confirmGate struct {
	ch      chan bool
	claimed bool
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	MaxHistory int // 0 means DefaultMaxHistory
	Callbacks  Callbacks
	Logger     *zap.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		active:     make(map[string]*ExecutionInfo),
		pending:    make(map[string]*confirmGate),
		maxHistory: maxHistory,
		callbacks:  cfg.Callbacks,
		logger:     logger,
	}
}

// Create registers a new execution in the pending state and returns a copy
// of its record. The generated id keys every later operation.
func (t *Tracker) Create(toolName, agentName string, params map[string]any, decision *policy.Decision) ExecutionInfo {
	info := &ExecutionInfo{
		ID:         uuid.New().String(),
		ToolName:   toolName,
		AgentName:  agentName,
		Parameters: params,
		State:      StatePending,
		Decision:   decision,
		CreatedAt:  time.Now(),
	}

	t.mu.Lock()
	t.active[info.ID] = info
	snapshot := *info
	t.mu.Unlock()

	if t.callbacks.OnStart != nil {
		t.callbacks.OnStart(snapshot)
	}
	return snapshot
}

// Update applies a mutation to an execution record under the lock and
// fires OnUpdate with the new snapshot.
func (t *Tracker) Update(id string, mutate func(*ExecutionInfo)) {
	t.mu.Lock()
	info, ok := t.lookup(id)
	if !ok {
		t.mu.Unlock()
		return
	}
	mutate(info)
	snapshot := *info
	t.mu.Unlock()

	if t.callbacks.OnUpdate != nil {
		t.callbacks.OnUpdate(snapshot)
	}
}

// Transition moves an execution to a non-terminal state. EXECUTING stamps
// the start time.
func (t *Tracker) Transition(id string, state ExecutionState) {
	t.Update(id, func(info *ExecutionInfo) {
		info.State = state
		if state == StateExecuting && info.StartedAt.IsZero() {
			info.StartedAt = time.Now()
		}
	})
}

// Complete moves an execution to a terminal state exactly once: the record
// leaves the active set and joins the bounded history, oldest evicted
// first.
func (t *Tracker) Complete(id string, state ExecutionState, result any, errMsg, errKind string) {
	t.mu.Lock()
	info, ok := t.active[id]
	if !ok {
		// Already terminal; completing twice is a no-op.
		t.mu.Unlock()
		return
	}
	info.State = state
	info.Result = result
	info.Error = errMsg
	info.ErrorKind = errKind
	info.CompletedAt = time.Now()

	delete(t.active, id)
	t.history = append(t.history, info)
	if len(t.history) > t.maxHistory {
		t.history = t.history[len(t.history)-t.maxHistory:]
	}
	snapshot := *info
	t.mu.Unlock()

	if t.callbacks.OnComplete != nil {
		t.callbacks.OnComplete(snapshot)
	}
}

// RequireConfirmation moves the execution to CONFIRMING, installs a
// one-shot confirmation gate for the id, and notifies the collaborator.
func (t *Tracker) RequireConfirmation(id string, decision *policy.Decision) {
	t.mu.Lock()
	info, ok := t.lookup(id)
	if !ok {
		t.mu.Unlock()
		return
	}
	info.State = StateConfirming
	info.Decision = decision
	info.RequiresConfirmation = true
	t.pending[id] = &confirmGate{ch: make(chan bool, 1)}
	snapshot := *info
	t.mu.Unlock()

	if t.callbacks.OnConfirmationRequired != nil {
		t.callbacks.OnConfirmationRequired(snapshot, decision)
	}
}

// Confirm resolves a pending confirmation positively. Idempotent: once the
// gate has resolved, further calls are no-ops.
func (t *Tracker) Confirm(id string) {
	t.resolve(id, true)
}

// Cancel resolves a pending confirmation negatively. Idempotent.
func (t *Tracker) Cancel(id string) {
	t.resolve(id, false)
}

func (t *Tracker) resolve(id string, confirmed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.pending[id]
	if !ok {
		return
	}
	select {
	case g.ch <- confirmed:
		if info, ok := t.lookup(id); ok {
			c := confirmed
			info.Confirmed = &c
		}
	default:
		// Gate already resolved; second confirm/cancel is a no-op.
	}
}

// WaitForConfirmation consumes the gate for the id exactly once, blocking
// until it resolves or the timeout elapses (timeout counts as cancel).
// The gate stays installed while the waiter blocks, so Confirm and Cancel
// land whether they arrive before or during the wait; it is removed once
// the wait resolves, and a duplicate wait fails fast with
// ErrNoPendingConfirmation.
func (t *Tracker) WaitForConfirmation(ctx context.Context, id string, timeout time.Duration) (bool, error) {
	t.mu.Lock()
	g, ok := t.pending[id]
	if !ok || g.claimed {
		t.mu.Unlock()
		return false, ErrNoPendingConfirmation
	}
	g.claimed = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	select {
	case confirmed := <-g.ch:
		return confirmed, nil
	case <-time.After(timeout):
		t.logger.Info("confirmation timed out", zap.String("execution_id", id))
		return false, nil
	case <-ctx.Done():
		return false, nil
	}
}

// Get returns a copy of the record for the id, active or historical.
func (t *Tracker) Get(id string) (ExecutionInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if info, ok := t.lookup(id); ok {
		return *info, true
	}
	return ExecutionInfo{}, false
}

// Active returns copies of all non-terminal execution records.
func (t *Tracker) Active() []ExecutionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ExecutionInfo, 0, len(t.active))
	for _, info := range t.active {
		out = append(out, *info)
	}
	return out
}

// History returns copies of terminal records, most recent first. A limit
// of 0 returns everything retained.
func (t *Tracker) History(limit int) []ExecutionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]ExecutionInfo, 0, n)
	for i := len(t.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, *t.history[i])
	}
	return out
}

// CountRecentCalls counts executions of a tool created inside the window.
// Feeds the rate_limit checker.
func (t *Tracker) CountRecentCalls(toolName string, windowSeconds int) int {
	cutoff := time.Now().Add(-time.Duration(windowSeconds) * time.Second)
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, info := range t.active {
		if info.ToolName == toolName && info.CreatedAt.After(cutoff) {
			count++
		}
	}
	for _, info := range t.history {
		if info.ToolName == toolName && info.CreatedAt.After(cutoff) {
			count++
		}
	}
	return count
}

// lookup finds a record in the active set or history. Callers hold the lock.
func (t *Tracker) lookup(id string) (*ExecutionInfo, bool) {
	if info, ok := t.active[id]; ok {
		return info, true
	}
	for _, info := range t.history {
		if info.ID == id {
			return info, true
		}
	}
	return nil, false
}
