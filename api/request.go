package api

// TaskSpec is one entry of a batch as it appears on the wire (batch files,
// queue messages). Optional fields are left zero and defaulted by the
// task package.
type TaskSpec struct {
	Name        string `json:"name" toml:"name" yaml:"name"`
	Keyword     string `json:"keyword" toml:"keyword" yaml:"keyword"`
	Description string `json:"description" toml:"description" yaml:"description"`

	ResearchStrategy string `json:"research_strategy" toml:"research_strategy" yaml:"research_strategy"`
	Language         string `json:"language" toml:"language" yaml:"language"`

	MinContextTokens   int `json:"min_context_tokens" toml:"min_context_tokens" yaml:"min_context_tokens"`
	MaxDistilledTokens int `json:"max_distilled_tokens" toml:"max_distilled_tokens" yaml:"max_distilled_tokens"`

	References       []string `json:"references" toml:"references" yaml:"references"`
	SkipDistillation bool     `json:"skip_distillation" toml:"skip_distillation" yaml:"skip_distillation"`
}

// BatchReq is the root of a batch file and the body of a queued batch.
type BatchReq struct {
	// RunUuid is optional; a fresh one is generated when empty.
	RunUuid string     `json:"run_uuid" toml:"run_uuid" yaml:"run_uuid"`
	Skills  []TaskSpec `json:"skills" toml:"skills" yaml:"skills"`

	// ResSqsUrl, when set on a queued batch, receives the final report.
	ResSqsUrl string `json:"res_sqs_url" toml:"res_sqs_url" yaml:"res_sqs_url"`
}
