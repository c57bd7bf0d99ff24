package api

// v0 contains public types shared by the CLI and the run ledger.

// Stage is a step of the provisioning pipeline. Stages only move forward.
type Stage string

const (
	StageRequesting      Stage = "requesting"
	StageLaunching       Stage = "launching"
	StageAwaitingAddress Stage = "awaiting_address"
	StageSettling        Stage = "settling"
	StageBootstrapping   Stage = "bootstrapping"
	StageDone            Stage = "done"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// NodeSpec is the operator-facing description of a node to provision.
// Empty fields are defaulted by the provisioner.
type NodeSpec struct {
	Name     string `json:"name" yaml:"name"`
	Provider string `json:"provider" yaml:"provider"`
	Region   string `json:"region" yaml:"region"`
	Image    string `json:"image" yaml:"image"`
}
