package sandbox

import (
	"errors"
	"fmt"

	"github.com/programme-lv/skillfactory/internal/task"
)

var ErrUnknownLanguage = errors.New("unsupported language")

// Runtime describes how demo code of one language is installed and run
// inside the container.
type Runtime struct {
	Image      string
	CodeFile   string
	DepsFile   string
	InstallCmd string
	RunCmd     string
}

// Command is the shell pipeline executed in the container.
func (r Runtime) Command() string {
	return r.InstallCmd + " && " + r.RunCmd
}

var runtimes = map[task.Language]Runtime{
	task.Python: {
		Image:      "python:3.10-slim",
		CodeFile:   "demo.py",
		DepsFile:   "requirements.txt",
		InstallCmd: "pip install --no-cache-dir -q -r requirements.txt",
		RunCmd:     "python demo.py",
	},
	task.JavaScript: {
		Image:      "node:20-alpine",
		CodeFile:   "demo.js",
		DepsFile:   "package.json",
		InstallCmd: "npm install --silent",
		RunCmd:     "node demo.js",
	},
	task.TypeScript: {
		Image:      "node:20-alpine",
		CodeFile:   "demo.ts",
		DepsFile:   "package.json",
		InstallCmd: "npm install --silent && npm install --silent ts-node typescript @types/node",
		RunCmd:     "npx ts-node demo.ts",
	},
}

// RuntimeFor returns the built-in runtime of a language.
func RuntimeFor(lang task.Language) (Runtime, error) {
	rt, ok := runtimes[lang]
	if !ok {
		return Runtime{}, fmt.Errorf("%w: %q (supported: %v)", ErrUnknownLanguage, lang, task.Languages)
	}
	return rt, nil
}
