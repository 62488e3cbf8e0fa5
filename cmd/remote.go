package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/desertthunder/cmdarr/internal/server"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// daemonURL is the base URL of the running daemon's status server.
func (r *Runner) daemonURL() (string, error) {
	if r.config == nil || !r.config.Server.Enabled {
		return "", fmt.Errorf("%w: another instance is running and its status server is disabled", shared.ErrMissingConfig)
	}
	return "http://" + r.config.Server.Addr(), nil
}

func (r *Runner) post(ctx context.Context, path string, query url.Values, out any) error {
	base, err := r.daemonURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, body.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// remoteRun asks the daemon to enqueue a command. It does not wait.
func (r *Runner) remoteRun(ctx context.Context, commandID string) error {
	var view server.ExecutionView
	if err := r.post(ctx, "/api/commands/run", url.Values{"id": {commandID}}, &view); err != nil {
		return err
	}
	r.logger.Info("execution queued by daemon", "command", commandID, "execution", view.ID)
	return r.writePlain("✓ %s queued as %s, follow it with 'cmdarr executions list --command %s'\n", commandID, view.ID, commandID)
}

func (r *Runner) remoteCancel(ctx context.Context, executionID string) error {
	return r.post(ctx, "/api/executions/cancel", url.Values{"id": {executionID}}, nil)
}
