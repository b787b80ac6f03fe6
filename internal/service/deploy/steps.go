package deploy

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/ws"
)

// stepRun collects step results and streams them to subscribers as each
// step completes.
type stepRun struct {
	steps  []domain.StepResult
	hub    *ws.Hub
	stream string
}

func newStepRun(hub *ws.Hub, project string, env domain.Environment) *stepRun {
	return &stepRun{hub: hub, stream: project + "/" + string(env)}
}

// step executes fn, timing it and recording its outcome. The returned
// error, if any, is the fn error unchanged.
func (r *stepRun) step(name string, fn func() (string, error)) error {
	started := time.Now()
	output, err := fn()
	result := domain.StepResult{
		Name:       name,
		DurationMS: time.Since(started).Milliseconds(),
		Output:     output,
	}
	if err != nil {
		result.Status = domain.StepFailed
		result.Error = err.Error()
		result.Output = ""
	} else {
		result.Status = domain.StepSuccess
	}
	r.steps = append(r.steps, result)
	r.emit(result)
	return err
}

// skip records a step that was intentionally not run.
func (r *stepRun) skip(name, reason string) {
	result := domain.StepResult{Name: name, Status: domain.StepSkipped, Output: reason}
	r.steps = append(r.steps, result)
	r.emit(result)
}

func (r *stepRun) emit(result domain.StepResult) {
	if r.hub == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"stream": r.stream,
		"step":   result.Name,
		"status": result.Status,
		"error":  result.Error,
	})
	if err != nil {
		return
	}
	r.hub.Broadcast(r.stream, payload)
}

func base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
