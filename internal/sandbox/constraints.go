package sandbox

import (
	"fmt"
	"strconv"
	"time"
)

type Constraints struct {
	// Memory is passed verbatim to --memory, e.g. "512m".
	Memory string
	// CPUs is passed to --cpus.
	CPUs float64
	// WallTime is the hard ceiling of one invocation.
	WallTime time.Duration
	// MaxOutputBytes bounds captured stdout and stderr each.
	MaxOutputBytes int64
}

func DefaultConstraints() Constraints {
	return Constraints{
		Memory:         "512m",
		CPUs:           1.0,
		WallTime:       300 * time.Second,
		MaxOutputBytes: 1 << 20,
	}
}

func (c *Constraints) ToArgs() []string {
	args := []string{}
	if c.Memory != "" {
		args = append(args, c.MemLimArg())
	}
	if c.CPUs > 0 {
		args = append(args, c.CpuLimArg())
	}
	return args
}

func (c *Constraints) MemLimArg() string {
	return fmt.Sprintf("--memory=%s", c.Memory)
}

func (c *Constraints) CpuLimArg() string {
	return "--cpus=" + strconv.FormatFloat(c.CPUs, 'f', -1, 64)
}
