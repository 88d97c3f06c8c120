package exec

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder collects emitted chunks and closes done on the terminal chunk.
type recorder struct {
	mu     sync.Mutex
	chunks []Chunk
	done   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) emit(c Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, c)
	if c.Done {
		close(r.done)
	}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not finish; chunks so far: %v", r.all())
	}
}

func (r *recorder) all() []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Chunk, len(r.chunks))
	copy(out, r.chunks)
	return out
}

func (r *recorder) text() string {
	var b strings.Builder
	for _, c := range r.all() {
		b.WriteString(c.Output)
	}
	return b.String()
}

// assertDoneLast waits out any stragglers and checks the terminal chunk is
// the final one: nothing may trail the done chunk.
func (r *recorder) assertDoneLast(t *testing.T) {
	t.Helper()
	time.Sleep(100 * time.Millisecond)
	chunks := r.all()
	if len(chunks) == 0 || !chunks[len(chunks)-1].Done {
		t.Fatalf("last chunk is not the done chunk: %v", chunks)
	}
}

func (r *recorder) doneCount() int {
	n := 0
	for _, c := range r.all() {
		if c.Done {
			n++
		}
	}
	return n
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	return NewOrchestrator(t.TempDir(), "python3", testLogger())
}

func TestRunShellFallback(t *testing.T) {
	o := newTestOrchestrator(t)
	rec := newRecorder()

	o.Run(context.Background(), Request{ConnID: "c1", Language: "shell", Code: "echo hello"}, rec.emit)
	rec.wait(t)

	out := rec.text()
	if !strings.Contains(out, "Running shell command: echo hello") {
		t.Fatalf("missing run banner, out=%q", out)
	}
	if !strings.Contains(out, "hello\n") {
		t.Fatalf("missing command output, out=%q", out)
	}
	if !strings.Contains(out, "Process exited with code 0") {
		t.Fatalf("missing exit chunk, out=%q", out)
	}
	if n := rec.doneCount(); n != 1 {
		t.Fatalf("done chunks=%d, want 1", n)
	}
	rec.assertDoneLast(t)
}

func TestRunStderrMarkedAsError(t *testing.T) {
	o := newTestOrchestrator(t)
	rec := newRecorder()

	o.Run(context.Background(), Request{ConnID: "c1", Code: "echo oops >&2"}, rec.emit)
	rec.wait(t)

	found := false
	for _, c := range rec.all() {
		if strings.Contains(c.Output, "oops") {
			found = true
			if !c.IsError {
				t.Fatalf("stderr chunk not marked as error: %+v", c)
			}
		}
	}
	if !found {
		t.Fatalf("stderr output never emitted, out=%q", rec.text())
	}
}

func TestRunNonZeroExit(t *testing.T) {
	o := newTestOrchestrator(t)
	rec := newRecorder()

	o.Run(context.Background(), Request{ConnID: "c1", Code: "exit 3"}, rec.emit)
	rec.wait(t)

	if out := rec.text(); !strings.Contains(out, "Process exited with code 3") {
		t.Fatalf("out=%q", out)
	}
}

func TestRunEmptyUnknownLanguage(t *testing.T) {
	o := newTestOrchestrator(t)
	rec := newRecorder()

	o.Run(context.Background(), Request{ConnID: "c1", Language: "mystery", Code: "   \n"}, rec.emit)
	rec.wait(t)

	chunks := rec.all()
	if len(chunks) != 2 {
		t.Fatalf("chunks=%v, want exactly 2", chunks)
	}
	if !strings.Contains(chunks[0].Output, "No runnable command or code provided") || !chunks[0].IsError {
		t.Fatalf("first chunk=%+v", chunks[0])
	}
	if !strings.Contains(chunks[1].Output, "Finished (no process started)") || !chunks[1].Done {
		t.Fatalf("second chunk=%+v", chunks[1])
	}
}

func TestRunCleansWorkspace(t *testing.T) {
	o := newTestOrchestrator(t)
	rec := newRecorder()

	o.Run(context.Background(), Request{ConnID: "c1", Code: "echo hi"}, rec.emit)
	rec.wait(t)

	entries, err := os.ReadDir(o.WorkspaceRoot)
	if err != nil {
		t.Fatalf("read workspace root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("workspace not cleaned, leftover=%v", entries)
	}
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	o := newTestOrchestrator(t)
	o.RunTimeout = 200 * time.Millisecond
	rec := newRecorder()

	start := time.Now()
	o.Run(context.Background(), Request{ConnID: "c1", Code: "sleep 30"}, rec.emit)
	rec.wait(t)

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("run took %v, timeout did not fire", elapsed)
	}
	if out := rec.text(); !strings.Contains(out, "Process killed (timeout).") {
		t.Fatalf("out=%q", out)
	}
	if n := rec.doneCount(); n != 1 {
		t.Fatalf("done chunks=%d, want 1", n)
	}
	rec.assertDoneLast(t)
}

func TestStdinRelay(t *testing.T) {
	o := newTestOrchestrator(t)
	rec := newRecorder()

	go o.Run(context.Background(), Request{ConnID: "c1", Code: "read line; echo \"got $line\""}, rec.emit)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := o.RelayStdin("c1", "ping\n"); err == nil {
			break
		} else if !errors.Is(err, ErrNoProcess) {
			t.Fatalf("relay: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("stdin route never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec.wait(t)

	if out := rec.text(); !strings.Contains(out, "got ping") {
		t.Fatalf("out=%q", out)
	}
}

func TestRelayStdinNoProcess(t *testing.T) {
	o := newTestOrchestrator(t)
	if err := o.RelayStdin("nobody", "hi\n"); !errors.Is(err, ErrNoProcess) {
		t.Fatalf("err=%v, want ErrNoProcess", err)
	}
}

func TestStdinRouteReleasedAfterExit(t *testing.T) {
	o := newTestOrchestrator(t)
	rec := newRecorder()

	o.Run(context.Background(), Request{ConnID: "c1", Code: "true"}, rec.emit)
	rec.wait(t)

	if err := o.RelayStdin("c1", "late\n"); !errors.Is(err, ErrNoProcess) {
		t.Fatalf("err=%v, want ErrNoProcess after exit", err)
	}
}

// Needs a working python3 with pip; opt in explicitly.
func TestPythonRequirementsInstall(t *testing.T) {
	if os.Getenv("CODEROOM_EXEC_IT") == "" {
		t.Skip("CODEROOM_EXEC_IT not set; skipping integration test")
	}
	o := newTestOrchestrator(t)
	o.InstallTimeout = 2 * time.Minute
	rec := newRecorder()

	code := "# requirements: six\nimport six\nprint(six.__name__)"
	o.Run(context.Background(), Request{ConnID: "c1", Language: "python", Code: code}, rec.emit)
	rec.wait(t)

	out := rec.text()
	if !strings.Contains(out, "Installing Python requirements: six") {
		t.Fatalf("missing install banner, out=%q", out)
	}
	if !strings.Contains(out, "six\n") || !strings.Contains(out, "Process exited with code 0") {
		t.Fatalf("out=%q", out)
	}
}

// Needs gcc on the host; opt in explicitly. A failed compile streams the
// compiler's stderr but never aborts: the run step is still attempted and
// its own failure is the diagnostic.
func TestCompileFailureIsNonFatal(t *testing.T) {
	if os.Getenv("CODEROOM_EXEC_IT") == "" {
		t.Skip("CODEROOM_EXEC_IT not set; skipping integration test")
	}
	o := newTestOrchestrator(t)
	rec := newRecorder()

	o.Run(context.Background(), Request{ConnID: "c1", Language: "c", Code: "int main( { return 0; }"}, rec.emit)
	rec.wait(t)

	out := rec.text()
	if !strings.Contains(out, "Compiling with: gcc") {
		t.Fatalf("missing compile banner, out=%q", out)
	}
	sawCompilerErr := false
	for _, c := range rec.all() {
		if c.IsError && strings.Contains(c.Output, "error") {
			sawCompilerErr = true
		}
	}
	if !sawCompilerErr {
		t.Fatalf("compiler diagnostics never streamed as error chunks, out=%q", out)
	}
	if !strings.Contains(out, "Running: ./main.out") {
		t.Fatalf("run step skipped after failed compile, out=%q", out)
	}
	if n := rec.doneCount(); n != 1 {
		t.Fatalf("done chunks=%d, want 1", n)
	}
	rec.assertDoneLast(t)
}
