// Package internal contains integration tests that drive the full
// stack: real child processes under the pipe executor, the
// orchestrator, and the HTTP API.
package internal

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/quantaalpha/triald/internal/config"
	"github.com/quantaalpha/triald/internal/orchestrator"
	"github.com/quantaalpha/triald/internal/process"
	"github.com/quantaalpha/triald/internal/server"
	"github.com/quantaalpha/triald/internal/task"
)

func newStack(t *testing.T, miningScript, backtestScript string) (*orchestrator.Orchestrator, *httptest.Server) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("integration tests use sh")
	}

	exec, err := process.NewExecutor(process.KindPipe)
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	orch := orchestrator.New(orchestrator.Options{
		Executor: exec,
		Trial: config.TrialConfig{
			MiningCommand:   []string{"sh", "-c", miningScript},
			BacktestCommand: []string{"sh", "-c", backtestScript},
			ResultsDir:      t.TempDir(),
		},
		Branch: config.BranchConfig{
			LogRoot:   t.TempDir(),
			LogPrefix: "branch",
		},
	})

	ts := httptest.NewServer(server.New("127.0.0.1:0", orch, nil).Router())
	t.Cleanup(ts.Close)
	return orch, ts
}

func postJSON(t *testing.T, url string, body any) map[string]json.RawMessage {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: status %d", url, resp.StatusCode)
	}
	var env map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	return env
}

func getSnapshot(t *testing.T, url string) task.Snapshot {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var env struct {
		Success bool          `json:"success"`
		Data    task.Snapshot `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if !env.Success {
		t.Fatalf("GET %s: unsuccessful envelope", url)
	}
	return env.Data
}

func TestEndToEndMining(t *testing.T) {
	orch, ts := newStack(t,
		`echo "factor_propose starting"; echo "round RankIC=0.002"; echo "进化完成"`,
		`true`)

	env := postJSON(t, ts.URL+"/api/v1/mining/start",
		map[string]any{"direction": "momentum"})
	var started map[string]string
	if err := json.Unmarshal(env["data"], &started); err != nil {
		t.Fatal(err)
	}
	id := started["taskId"]
	if len(id) != 8 {
		t.Fatalf("unexpected task id %q", id)
	}

	orch.Wait()

	snap := getSnapshot(t, ts.URL+"/api/v1/mining/"+id)
	if snap.Status != task.StatusCompleted {
		t.Fatalf("status = %q, want completed (message: %s)", snap.Status, snap.Progress.Message)
	}
	if got := snap.Metrics["rankIc"]; got != 0.002 {
		t.Errorf("rankIc = %v, want 0.002", got)
	}
	if len(snap.Logs) == 0 {
		t.Error("expected retained trial output")
	}
	if snap.Progress.Percent != 100 {
		t.Errorf("percent = %d, want 100", snap.Progress.Percent)
	}
}

func TestEndToEndBacktestFailure(t *testing.T) {
	orch, ts := newStack(t, `true`, `echo "ERROR bad factor"; exit 3`)

	env := postJSON(t, ts.URL+"/api/v1/backtest/start",
		map[string]any{"factorJson": `{"name":"alpha01"}`})
	var started map[string]string
	if err := json.Unmarshal(env["data"], &started); err != nil {
		t.Fatal(err)
	}
	id := started["taskId"]

	orch.Wait()

	snap := getSnapshot(t, ts.URL+"/api/v1/backtest/"+id)
	if snap.Status != task.StatusFailed {
		t.Fatalf("status = %q, want failed", snap.Status)
	}
}

func TestEndToEndCancellation(t *testing.T) {
	orch, ts := newStack(t, `echo "working"; exec sleep 30`, `true`)

	env := postJSON(t, ts.URL+"/api/v1/mining/start", map[string]any{})
	var started map[string]string
	if err := json.Unmarshal(env["data"], &started); err != nil {
		t.Fatal(err)
	}
	id := started["taskId"]

	// Wait for the child to be live.
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap := getSnapshot(t, ts.URL+"/api/v1/mining/"+id)
		if snap.PID != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("process never became live")
		}
		time.Sleep(10 * time.Millisecond)
	}

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/mining/"+id, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status %d", resp.StatusCode)
	}

	orch.Wait()

	snap := getSnapshot(t, ts.URL+"/api/v1/mining/"+id)
	if snap.Status != task.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", snap.Status)
	}
	if snap.PID != nil {
		t.Error("handle should be cleared after cancellation")
	}
}
