// Package worker spawns the external worker process that executes one
// cycle's work order and reads back its worker_result contract. The binary
// name and sandbox mode are environment configured rather than hardcoded,
// so any compatible CLI agent can serve as the worker plane.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/LucPettett/what-do-i-become/internal/contracts"
	"github.com/LucPettett/what-do-i-become/internal/model"
	"github.com/LucPettett/what-do-i-become/internal/wdibenv"
)

// RunFailure is raised when the worker process fails or does not produce a
// valid worker_result.
type RunFailure struct {
	Message string
}

func (e *RunFailure) Error() string { return e.Message }

// RunMetadata carries diagnostic info about how the cycle's worker
// invocation went, folded into the WORKER_EXECUTED event.
type RunMetadata struct {
	Mode       string `json:"mode"`
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

const outputTailCap = 4000

func capTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func promptFromWorkOrder(wo model.WorkOrder) (string, error) {
	data, err := json.MarshalIndent(wo, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling work order for prompt: %w", err)
	}
	var b strings.Builder
	b.WriteString("You are the WDIB worker plane.\n")
	b.WriteString("Execute the objective from the provided work order.\n")
	b.WriteString("You may inspect and modify code only inside allowed_paths.\n")
	b.WriteString("When finished, write ONLY the worker_result JSON to result_path.\n")
	b.WriteString("Do not invent fields. Follow schema_version 1.0 exactly.\n\n")
	b.WriteString("WORK_ORDER_JSON:\n")
	b.Write(data)
	b.WriteString("\n")
	return b.String(), nil
}

func writeSkipResult(wo model.WorkOrder) (model.WorkerResult, error) {
	result := model.WorkerResult{
		SchemaVersion: model.SchemaVersion,
		CycleID:       wo.CycleID,
		Status:        string(model.WorkerBlocked),
		Summary:       "Worker execution skipped because WDIB_SKIP_CODEX=true.",
	}
	if err := contracts.ValidateStruct(result, contracts.WorkerResultSchema, "worker result"); err != nil {
		return model.WorkerResult{}, err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return model.WorkerResult{}, fmt.Errorf("marshaling skip result: %w", err)
	}
	if err := os.MkdirAll(dirOf(wo.ResultPath), 0o755); err != nil {
		return model.WorkerResult{}, fmt.Errorf("ensuring result dir: %w", err)
	}
	if err := os.WriteFile(wo.ResultPath, append(data, '\n'), 0o644); err != nil {
		return model.WorkerResult{}, fmt.Errorf("writing skip result: %w", err)
	}
	return result, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func workerBinary() string {
	if v := strings.TrimSpace(os.Getenv("WDIB_CODEX_BIN")); v != "" {
		return v
	}
	return "codex"
}

func sandboxMode() string {
	if v := strings.TrimSpace(os.Getenv("WDIB_CODEX_SANDBOX")); v != "" {
		return v
	}
	return "workspace-write"
}

// Execute runs the worker process against projectRoot and reads back the
// resulting worker_result from work order's result_path. When
// WDIB_SKIP_CODEX is set, it writes and returns a BLOCKED placeholder
// result without spawning anything (useful for dry runs and tests).
func Execute(ctx context.Context, wo model.WorkOrder, projectRoot string, timeoutSeconds int) (model.WorkerResult, RunMetadata, error) {
	if wdibenv.Bool("WDIB_SKIP_CODEX", false) {
		result, err := writeSkipResult(wo)
		if err != nil {
			return model.WorkerResult{}, RunMetadata{}, err
		}
		return result, RunMetadata{Mode: "skipped", ReturnCode: 0}, nil
	}

	binPath, err := exec.LookPath(workerBinary())
	if err != nil {
		return model.WorkerResult{}, RunMetadata{}, &RunFailure{Message: fmt.Sprintf("worker binary %q was not found in PATH", workerBinary())}
	}

	prompt, err := promptFromWorkOrder(wo)
	if err != nil {
		return model.WorkerResult{}, RunMetadata{}, err
	}

	timeout := time.Duration(timeoutSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binPath,
		"exec",
		"--sandbox", sandboxMode(),
		"--ask-for-approval", "never",
		"--cd", projectRoot,
		prompt,
	)
	cmd.Env = os.Environ()

	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	returnCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			returnCode = exitErr.ExitCode()
		} else {
			returnCode = -1
		}
	}

	metadata := RunMetadata{
		Mode:       "live",
		ReturnCode: returnCode,
		Stdout:     capTail(outBuf.String(), outputTailCap),
		Stderr:     capTail(errBuf.String(), outputTailCap),
	}

	if runErr != nil {
		detail := strings.TrimSpace(errBuf.String())
		if detail == "" {
			detail = strings.TrimSpace(outBuf.String())
		}
		return model.WorkerResult{}, metadata, &RunFailure{
			Message: fmt.Sprintf("worker exec failed (%d): %s", returnCode, capString(detail, 300)),
		}
	}

	raw, err := os.ReadFile(wo.ResultPath)
	if err != nil {
		return model.WorkerResult{}, metadata, &RunFailure{Message: fmt.Sprintf("worker result file not found: %s", wo.ResultPath)}
	}

	payload, ok := extractJSONObject(string(raw))
	if !ok {
		return model.WorkerResult{}, metadata, &RunFailure{Message: "worker result file did not contain a parseable JSON object"}
	}
	payload = normalizeWorkerResult(payload, wo.CycleID)

	if err := contracts.Validate(payload, contracts.WorkerResultSchema, "worker result"); err != nil {
		return model.WorkerResult{}, metadata, &RunFailure{Message: err.Error()}
	}

	normalized, err := marshalNormalized(payload)
	if err != nil {
		return model.WorkerResult{}, metadata, &RunFailure{Message: err.Error()}
	}
	var result model.WorkerResult
	if err := json.Unmarshal(normalized, &result); err != nil {
		return model.WorkerResult{}, metadata, &RunFailure{Message: fmt.Sprintf("decoding worker result: %v", err)}
	}
	return result, metadata, nil
}

func capString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
