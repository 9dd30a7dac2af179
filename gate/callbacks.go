package gate

import "github.com/ridgeline-ai/gatehouse/policy"

// Callbacks are lifecycle hooks consumed by a UI or programmatic
// collaborator. All fields are optional. Callbacks receive copies of the
// execution record and are invoked outside the tracker's lock, so a
// callback may call Confirm or Cancel synchronously.
type Callbacks struct {
	OnStart    func(info ExecutionInfo)
	OnUpdate   func(info ExecutionInfo)
	OnComplete func(info ExecutionInfo)

	// OnConfirmationRequired is expected to eventually resolve the gate by
	// calling Confirm(id) or Cancel(id) on the tracker.
	OnConfirmationRequired func(info ExecutionInfo, decision *policy.Decision)
}
