package api

// SandboxRun is the wire form of one sandbox invocation.
type SandboxRun struct {
	Attempt  int    `json:"attempt"`
	Stdout   string `json:"out"`
	Stderr   string `json:"err"`
	ExitCode int    `json:"exit"`

	WallMillis int64 `json:"wall_ms"`

	TimedOut   bool    `json:"timed_out"`
	InfraError *string `json:"infra_error"`
}
