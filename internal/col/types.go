// Package col implements the governance pipeline every inbound intent
// traverses: STOP, CLASSIFY, LOAD, APPLY, EXECUTE. It is the sole path by
// which a normalized message or agent-initiated action is allowed to
// reach the agent mesh.
package col

import (
	"time"

	"github.com/cell0os/core/internal/bus"
)

// IntentType is the fixed classification taxonomy.
type IntentType string

const (
	SystemRead  IntentType = "SYSTEM_READ"
	SystemWrite IntentType = "SYSTEM_WRITE"
	SystemExec  IntentType = "SYSTEM_EXEC"
	Communicate IntentType = "COMMUNICATE"
	Reason      IntentType = "REASON"
	Meta        IntentType = "META"
)

// SandboxClass names the sandbox a LOAD resolution may require.
type SandboxClass string

const (
	SandboxNone             SandboxClass = "none"
	SandboxFilesystemJail   SandboxClass = "filesystem-jail"
	SandboxSubprocessJail   SandboxClass = "subprocess-jail"
	SandboxContainerJail    SandboxClass = "container-jail"
)

// Intent is one unit of work entering the pipeline: either a normalized
// channel message or an agent/meta-agent-initiated action.
type Intent struct {
	SovereignID     string
	Domain          string
	ConversationKey string
	Channel         string
	Content         bus.Content
	PolicyProfile   string
	// Source, when non-nil, is the InboundMessage this intent was derived
	// from (nil for agent-initiated or meta-agent intents).
	Source *bus.InboundMessage
	// Parallel child intents, spawned by an upstream agent issuing a
	// PARALLEL marker. Order is preserved and child results are joined
	// by index.
	Children []Intent
}

// CanonicalContent returns the deterministic string STOP hashes into the
// intent fingerprint: sender content, not wire framing.
func (i Intent) CanonicalContent() string {
	return i.Content.Text
}

// OperationRecord is the STOP-phase ledger entry: it exists before any
// read, write, or side-effect is permitted (I2).
type OperationRecord struct {
	OperationID       string
	IntentFingerprint string
	SovereignID       string
	Domain            string
	CreatedAt         time.Time
}

// ClassifyResult is CLASSIFY's output.
type ClassifyResult struct {
	Type       IntentType
	RiskScore  float64 // [0,1]
	Confidence float64 // [0,1]
	Domain     string
}

// LoadResult is LOAD's output: everything APPLY needs to decide
// executability.
type LoadResult struct {
	Policies       []Policy
	Sandbox        SandboxClass
	MemoryContext  string // tail of session log + matching long-term notes, token-bounded
	EstimatedCost  int    // estimated token cost of the resolved plan
}

// Policy is one applicable governance rule resolved in LOAD.
type Policy struct {
	Name        string
	Domain      string
	Type        IntentType
	Destructive bool
	Deny        bool
	Reason      string
}

// ApplyResult is APPLY's executability verdict.
type ApplyResult struct {
	Executable       bool
	Reason           string
	ResolvedAgent    string
	ResolvedSkillPlan string
	CheckpointID     string // set only when a destructive checkpoint was taken
	EthicsRecordID   string
}

// ExecuteResult is EXECUTE's final output, streamed partially onto the
// event bus and returned in full once the agent mesh dispatch completes.
type ExecuteResult struct {
	OperationID string
	Content     string
	ActualCost  int
	Err         error
}

// PipelineResult is what Run returns to the caller (gateway or
// meta-agent): the terminal state of one intent's traversal.
type PipelineResult struct {
	OperationID string
	Stop        OperationRecord
	Classify    ClassifyResult
	Load        LoadResult
	Apply       ApplyResult
	Execute     ExecuteResult
	Children    []PipelineResult
}
