package pipeline

import "github.com/programme-lv/skillfactory/internal/task"

func descriptorFor(strategy string) task.Descriptor {
	s, err := task.ParseStrategy(strategy)
	if err != nil {
		panic(err)
	}
	return task.Descriptor{
		Name:               "httpx-client",
		Keyword:            "httpx",
		Strategy:           s,
		Language:           task.Python,
		MinContextTokens:   task.DefaultMinContextTokens,
		MaxDistilledTokens: task.DefaultMaxDistilledTokens,
	}
}
