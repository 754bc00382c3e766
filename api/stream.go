package api

import "time"

// MsgType is a message type for streamed progress events
type MsgType string

const (
	StartTaskMsg     MsgType = "task_start"
	StartPhaseMsg    MsgType = "phase_start"
	FinishSandboxMsg MsgType = "sandbox_finish"
	FinishTaskMsg    MsgType = "task_finish"
	FinishBatchMsg   MsgType = "batch_finish"
)

// Output size constraints for streamed sandbox runs
const (
	MaxRuntimeDataHeight = 40
	MaxRuntimeDataWidth  = 80
)

// Header is the common header for all streamed messages
type Header struct {
	RunUuid  string  `json:"run_uuid"`
	TaskName string  `json:"skill_name,omitempty"`
	MsgType  MsgType `json:"msg_type"`
}

type StartTask struct {
	Header
	Keyword     string `json:"keyword"`
	Language    string `json:"language"`
	StartedTime string `json:"started_time"`
}

type StartPhase struct {
	Header
	Phase   string `json:"phase"`
	Attempt int    `json:"attempt,omitempty"`
}

type FinishSandbox struct {
	Header
	Run *SandboxRun `json:"run"`
}

type FinishTask struct {
	Header
	Result TaskResult `json:"result"`
}

type FinishBatch struct {
	Header
	Summary Summary `json:"summary"`
}

func NewHeader(runUuid, taskName string, msgType MsgType) Header {
	return Header{
		RunUuid:  runUuid,
		TaskName: taskName,
		MsgType:  msgType,
	}
}

func NewStartTask(runUuid, taskName, keyword, language string) StartTask {
	return StartTask{
		Header:      NewHeader(runUuid, taskName, StartTaskMsg),
		Keyword:     keyword,
		Language:    language,
		StartedTime: time.Now().Format(time.RFC3339),
	}
}

func NewStartPhase(runUuid, taskName, phase string, attempt int) StartPhase {
	return StartPhase{
		Header:  NewHeader(runUuid, taskName, StartPhaseMsg),
		Phase:   phase,
		Attempt: attempt,
	}
}

func NewFinishSandbox(runUuid, taskName string, run *SandboxRun) FinishSandbox {
	return FinishSandbox{
		Header: NewHeader(runUuid, taskName, FinishSandboxMsg),
		Run:    run,
	}
}

func NewFinishTask(runUuid string, result TaskResult) FinishTask {
	return FinishTask{
		Header: NewHeader(runUuid, result.TaskName, FinishTaskMsg),
		Result: result,
	}
}

func NewFinishBatch(runUuid string, summary Summary) FinishBatch {
	return FinishBatch{
		Header:  NewHeader(runUuid, "", FinishBatchMsg),
		Summary: summary,
	}
}
