// Package agent contains the orchestrator that turns a free-text task into a
// plan, dispatches each step to a capability and records the trace and the
// artifacts. Irreversible actions only register an approval request; they are
// carried out later by the approval gate.
package agent
