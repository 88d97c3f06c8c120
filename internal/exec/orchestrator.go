// Package exec turns a (language, source) pair into a supervised child
// process with compile/run staging, dependency bootstrapping, streamed
// output, stdin relay, timeout enforcement and guaranteed workspace cleanup.
package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	osexec "os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

const (
	defaultRunTimeout     = 15 * time.Second
	defaultInstallTimeout = 60 * time.Second
)

// ErrNoProcess reports a stdin relay with no registered running process.
var ErrNoProcess = errors.New("no running process")

// Chunk is one unit of streamed execution output.
type Chunk struct {
	Output  string
	IsError bool
	Done    bool
}

// Request is one execution request. RunID is assigned when empty.
type Request struct {
	RunID    string
	ConnID   string
	Language string
	Code     string
}

// EmitFunc delivers a chunk to the requesting connection only.
type EmitFunc func(Chunk)

// Orchestrator supervises local executions. Each run gets a private working
// directory under WorkspaceRoot; concurrent runs never collide. The stdin
// route map is keyed by requester connection id.
type Orchestrator struct {
	WorkspaceRoot string
	PythonCmd     string
	Logger        *slog.Logger

	// UsePTY runs the run step under a pseudo-terminal so prompts flush
	// without newlines. Output is a single merged stream.
	UsePTY bool

	RunTimeout     time.Duration // zero means 15s
	InstallTimeout time.Duration // zero means 60s

	mu     sync.Mutex
	stdins map[string]io.Writer
}

func NewOrchestrator(workspaceRoot, pythonCmd string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		WorkspaceRoot: workspaceRoot,
		PythonCmd:     pythonCmd,
		Logger:        logger,
		stdins:        make(map[string]io.Writer),
	}
}

func (o *Orchestrator) runTimeout() time.Duration {
	if o.RunTimeout > 0 {
		return o.RunTimeout
	}
	return defaultRunTimeout
}

func (o *Orchestrator) installTimeout() time.Duration {
	if o.InstallTimeout > 0 {
		return o.InstallTimeout
	}
	return defaultInstallTimeout
}

// Run executes the request and streams chunks through emit. Every path,
// including panics, terminates the stream with exactly one Done chunk, and
// the working directory is removed best-effort on the way out.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit EmitFunc) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	var once sync.Once
	finish := func(c Chunk) {
		c.Done = true
		once.Do(func() { emit(c) })
	}
	send := func(text string, isErr bool) {
		emit(Chunk{Output: text, IsError: isErr})
	}
	defer func() {
		if r := recover(); r != nil {
			o.Logger.Error("run panic", "run", runID, "err", r)
			finish(Chunk{Output: fmt.Sprintf("%v\n", r), IsError: true})
		}
	}()

	workdir := filepath.Join(o.WorkspaceRoot, fmt.Sprintf("%d_%s", time.Now().UnixMilli(), runID))
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		finish(Chunk{Output: "workspace: " + err.Error() + "\n", IsError: true})
		return
	}
	defer func() {
		if err := os.RemoveAll(workdir); err != nil {
			o.Logger.Warn("workspace cleanup", "run", runID, "err", err)
		}
	}()

	plan := PlanFor(req.Language, o.PythonCmd)
	cleaned, pythonPkgs, jsPkgs := StripDepHeaders(req.Code)

	venvPython, ok := o.bootstrapDeps(ctx, workdir, pythonPkgs, jsPkgs, emit, send, finish)
	if !ok {
		return
	}

	if err := os.WriteFile(filepath.Join(workdir, plan.Filename), []byte(cleaned), 0o644); err != nil {
		finish(Chunk{Output: "write source: " + err.Error() + "\n", IsError: true})
		return
	}

	if plan.Compile != nil {
		send("Compiling with: "+strings.Join(plan.Compile, " ")+"\n", false)
		// A failed compile is not fatal here: the run step's own failure
		// surfaces the problem.
		if _, err := o.stream(ctx, workdir, emit, 0, "", plan.Compile...); err != nil {
			send("compile: "+err.Error()+"\n", true)
		}
	}

	runArgv := plan.Run
	if venvPython != "" && len(runArgv) > 0 {
		runArgv = slices.Clone(runArgv)
		runArgv[0] = venvPython
	}
	if runArgv == nil {
		trimmed := strings.TrimSpace(req.Code)
		if trimmed == "" {
			send("No runnable command or code provided for this language.\n", true)
			finish(Chunk{Output: "\nFinished (no process started).\n"})
			return
		}
		send("Running shell command: "+trimmed+"\n", false)
		runArgv = []string{"sh", "-c", trimmed}
	} else {
		send("Running: "+strings.Join(runArgv, " ")+"\n", false)
	}

	o.supervise(ctx, runID, req.ConnID, workdir, runArgv, send, finish)
}

// bootstrapDeps installs declared packages, streaming installer output.
// Returns the substituted python interpreter path (when a venv fallback was
// used) and whether the run may proceed.
func (o *Orchestrator) bootstrapDeps(ctx context.Context, workdir string, pythonPkgs, jsPkgs []string, emit EmitFunc, send func(string, bool), finish func(Chunk)) (string, bool) {
	venvPython := ""
	if len(pythonPkgs) > 0 {
		send("Installing Python requirements: "+strings.Join(pythonPkgs, " ")+"\n", false)
		args := append([]string{"-m", "pip", "install", "--no-cache-dir"}, pythonPkgs...)
		ok := o.install(ctx, workdir, emit, o.PythonCmd, args...)
		if !ok {
			// Externally-managed environments (PEP 668) reject a bare pip
			// install; retry inside a fresh venv and run with its python.
			send("Falling back to virtualenv install...\n", false)
			vp := filepath.Join("venv", "bin", "python")
			ok = o.install(ctx, workdir, emit, o.PythonCmd, "-m", "venv", "venv") &&
				o.install(ctx, workdir, emit, vp, args...)
			if ok {
				venvPython = vp
			}
		}
		if !ok {
			finish(Chunk{Output: "\nFailed to install Python packages.\n", IsError: true})
			return "", false
		}
	}

	if len(jsPkgs) > 0 {
		send("Installing JS dependencies: "+strings.Join(jsPkgs, " ")+"\n", false)
		manifest := []byte(`{"name":"temp-run","version":"1.0.0"}`)
		if err := os.WriteFile(filepath.Join(workdir, "package.json"), manifest, 0o644); err != nil {
			o.Logger.Warn("write package.json", "err", err)
		}
		args := append(append([]string{"install"}, jsPkgs...), "--no-audit", "--no-fund")
		if !o.install(ctx, workdir, emit, "npm", args...) {
			finish(Chunk{Output: "\nFailed to install JS packages.\n", IsError: true})
			return "", false
		}
	}
	return venvPython, true
}

// supervise spawns the run step, registers the stdin route, enforces the
// wall-clock timeout and emits the terminal exit chunk. Both output streams
// are drained before the process close is observed, so no output trails the
// exit chunk.
func (o *Orchestrator) supervise(ctx context.Context, runID, connID, workdir string, argv []string, send func(string, bool), finish func(Chunk)) {
	cmd := osexec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workdir

	var (
		stdin io.Writer
		drain func()
	)
	if o.UsePTY {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			finish(Chunk{Output: "start: " + err.Error() + "\n", IsError: true})
			return
		}
		defer ptmx.Close()
		stdin = ptmx
		var wg sync.WaitGroup
		wg.Add(1)
		go forwardStream(&wg, ptmx, false, send)
		drain = wg.Wait
	} else {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		in, err := cmd.StdinPipe()
		if err != nil {
			finish(Chunk{Output: "stdin pipe: " + err.Error() + "\n", IsError: true})
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			finish(Chunk{Output: "stdout pipe: " + err.Error() + "\n", IsError: true})
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			finish(Chunk{Output: "stderr pipe: " + err.Error() + "\n", IsError: true})
			return
		}
		if err := cmd.Start(); err != nil {
			finish(Chunk{Output: "start: " + err.Error() + "\n", IsError: true})
			return
		}
		stdin = in
		var wg sync.WaitGroup
		wg.Add(2)
		go forwardStream(&wg, stdout, false, send)
		go forwardStream(&wg, stderr, true, send)
		drain = wg.Wait
	}

	o.registerStdin(connID, stdin)
	defer o.releaseStdin(connID, stdin)

	// The timer only kills; the message is emitted here after Wait, so
	// nothing can trail the terminal chunk.
	kill := time.AfterFunc(o.runTimeout(), func() {
		o.killTree(cmd)
	})

	drain()
	err := cmd.Wait()
	if !kill.Stop() {
		send("\nProcess killed (timeout).\n", true)
	}
	code := exitCodeFromError(err)
	o.Logger.Info("run finished", "run", runID, "conn", connID, "exit", code)
	finish(Chunk{Output: fmt.Sprintf("\nProcess exited with code %d\n", code)})
}

// RelayStdin writes free text to the caller's currently running process.
// The route map is keyed by connection id, so a second concurrent run from
// the same connection replaces the first run's route.
func (o *Orchestrator) RelayStdin(connID, input string) error {
	o.mu.Lock()
	w := o.stdins[connID]
	o.mu.Unlock()
	if w == nil {
		return ErrNoProcess
	}
	if _, err := w.Write([]byte(input)); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

func (o *Orchestrator) registerStdin(connID string, w io.Writer) {
	if connID == "" || w == nil {
		return
	}
	o.mu.Lock()
	o.stdins[connID] = w
	o.mu.Unlock()
}

// releaseStdin drops the route only if it still points at this run's
// writer; a replacement by a newer run stays in place.
func (o *Orchestrator) releaseStdin(connID string, w io.Writer) {
	o.mu.Lock()
	if o.stdins[connID] == w {
		delete(o.stdins, connID)
	}
	o.mu.Unlock()
}

// install runs an installer command with the install timeout, streaming its
// output. Returns whether it exited zero.
func (o *Orchestrator) install(ctx context.Context, workdir string, emit EmitFunc, name string, args ...string) bool {
	argv := append([]string{name}, args...)
	code, err := o.stream(ctx, workdir, emit, o.installTimeout(), "\nInstall timed out.\n", argv...)
	if err != nil {
		emit(Chunk{Output: "Install failed: " + err.Error() + "\n", IsError: true})
		return false
	}
	return code == 0
}

// stream spawns a command in the workspace and forwards stdout/stderr as
// chunks in arrival order, IsError reflecting the stream of origin. A
// positive timeout kills the process tree and emits timeoutMsg when it
// fires. Returns the exit code once both streams are drained.
func (o *Orchestrator) stream(ctx context.Context, workdir string, emit EmitFunc, timeout time.Duration, timeoutMsg string, argv ...string) (int, error) {
	cmd := osexec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workdir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, err
	}
	if err := cmd.Start(); err != nil {
		return -1, err
	}

	var killTimer *time.Timer
	if timeout > 0 {
		killTimer = time.AfterFunc(timeout, func() {
			o.killTree(cmd)
		})
	}

	send := func(text string, isErr bool) {
		emit(Chunk{Output: text, IsError: isErr})
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go forwardStream(&wg, stdout, false, send)
	go forwardStream(&wg, stderr, true, send)
	wg.Wait()
	code := exitCodeFromError(cmd.Wait())
	if killTimer != nil && !killTimer.Stop() {
		emit(Chunk{Output: timeoutMsg, IsError: true})
	}
	return code, nil
}

func (o *Orchestrator) killTree(cmd *osexec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}

func forwardStream(wg *sync.WaitGroup, r io.Reader, isErr bool, send func(string, bool)) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			send(string(buf[:n]), isErr)
		}
		if err != nil {
			return
		}
	}
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
