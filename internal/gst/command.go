package gst

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// LaunchBinary is the name of the GStreamer command line launcher.
const LaunchBinary = "gst-launch-1.0"

const maxStderrLines = 50

// Command is a gst-launch-1.0 child process running one pipeline.
type Command struct {
	Binary string
	Args   []string

	mu      sync.RWMutex
	cmd     *exec.Cmd
	started time.Time
	done    chan struct{}
	waitErr error

	stderrMu    sync.RWMutex
	stderrLines []string
}

// ProcessStats is a resource usage sample of a running pipeline process.
type ProcessStats struct {
	PID            int           `json:"pid"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryRSSBytes uint64        `json:"memory_rss_bytes"`
	MemoryPercent  float32       `json:"memory_percent"`
	Uptime         time.Duration `json:"uptime"`
}

// NewCommand prepares gst-launch to run p followed by the sink stages.
// The description is tokenized on whitespace; gst-launch re-joins its argv
// before parsing, so caps containing ", " survive.
func NewCommand(binary string, p Pipeline, sink ...string) *Command {
	args := []string{"-q"}
	args = append(args, strings.Fields(p.String())...)
	for _, stage := range sink {
		args = append(args, "!")
		args = append(args, strings.Fields(stage)...)
	}
	return &Command{
		Binary: binary,
		Args:   args,
		done:   make(chan struct{}),
	}
}

// String returns the command line.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Start launches the process. It is killed when ctx is cancelled.
func (c *Command) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return fmt.Errorf("command already started")
	}

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", c.Binary, err)
	}

	c.cmd = cmd
	c.started = time.Now()

	captured := make(chan struct{})
	go c.captureStderr(stderr, captured)
	go func() {
		// Drain stderr before Wait closes the pipe.
		<-captured
		err := cmd.Wait()
		c.mu.Lock()
		c.waitErr = err
		c.mu.Unlock()
		close(c.done)
	}()

	return nil
}

// Done is closed when the process exits.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Err returns the exit error once Done is closed.
func (c *Command) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.waitErr
}

// Kill terminates the process.
func (c *Command) Kill() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// IsRunning reports whether the process has started and not yet exited.
func (c *Command) IsRunning() bool {
	c.mu.RLock()
	started := c.cmd != nil
	c.mu.RUnlock()
	if !started {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// PID returns the process id, or 0 before Start.
func (c *Command) PID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Stats samples CPU and memory usage of the running process.
func (c *Command) Stats() (ProcessStats, error) {
	pid := c.PID()
	if pid == 0 || !c.IsRunning() {
		return ProcessStats{}, fmt.Errorf("process not running")
	}

	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcessStats{}, fmt.Errorf("inspecting pid %d: %w", pid, err)
	}

	stats := ProcessStats{PID: pid}
	c.mu.RLock()
	stats.Uptime = time.Since(c.started)
	c.mu.RUnlock()

	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		stats.MemoryRSSBytes = mem.RSS
	}
	if pct, err := p.MemoryPercent(); err == nil {
		stats.MemoryPercent = pct
	}
	return stats, nil
}

// StderrLines returns the most recent stderr output.
func (c *Command) StderrLines() []string {
	c.stderrMu.RLock()
	defer c.stderrMu.RUnlock()
	return append([]string(nil), c.stderrLines...)
}

func (c *Command) captureStderr(stderr io.Reader, done chan struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		c.stderrMu.Lock()
		if len(c.stderrLines) >= maxStderrLines {
			c.stderrLines = c.stderrLines[1:]
		}
		c.stderrLines = append(c.stderrLines, scanner.Text())
		c.stderrMu.Unlock()
	}
}
