package models

// AgentKind distinguishes the agent variants in the pool.
type AgentKind string

const (
	// AgentKindFocus is a per-focus agent derived from the task tree.
	AgentKindFocus AgentKind = "focus"
	// AgentKindAnalysis is a cross-cutting agent over phase-one output.
	AgentKindAnalysis AgentKind = "analysis"
	// AgentKindDeepDive is a specialist agent deployed on key areas of the
	// initial summary.
	AgentKindDeepDive AgentKind = "deep_dive"
	// AgentKindSynthesizer is the single agent that produces the final report.
	AgentKindSynthesizer AgentKind = "synthesizer"
)

// Valid returns true if the kind is a known value.
func (k AgentKind) Valid() bool {
	switch k {
	case AgentKindFocus, AgentKindAnalysis, AgentKindDeepDive, AgentKindSynthesizer:
		return true
	default:
		return false
	}
}

// Persona is the voice an agent speaks with: a role, the focus it covers,
// and the model profile it runs on.
type Persona struct {
	// Role is the role description substituted into prompt templates.
	Role string `json:"role"`
	// Focus is the focus area this persona specializes in.
	Focus string `json:"focus"`
	// Model is the provider model this persona is pinned to.
	Model string `json:"model"`
}

// Agent represents a virtual agent in the pool. Each task is owned by
// exactly one agent at any time.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Kind is the agent variant.
	Kind AgentKind `json:"kind"`
	// Persona defines the agent's voice.
	Persona Persona `json:"persona"`
	// TaskIDs lists the tasks assigned to this agent.
	TaskIDs []string `json:"task_ids,omitempty"`
}
