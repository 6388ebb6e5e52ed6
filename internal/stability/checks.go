package stability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"tradewatch/internal/types"
)

// ConnectivityProbe is supplied by exchange or infrastructure adapters
type ConnectivityProbe interface {
	IsConnected() bool
	Reconnect(ctx context.Context) error
}

// PingCheck builds a check from a plain ping function
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) (*types.ComponentHealth, error) {
		if err := ping(ctx); err != nil {
			return nil, err
		}
		return &types.ComponentHealth{Status: types.StatusHealthy, Message: "ok"}, nil
	}
}

// HTTPCheck issues a GET. 5xx is CRITICAL, 4xx is WARNING.
func HTTPCheck(url string, client *http.Client) CheckFunc {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context) (*types.ComponentHealth, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http check failed: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		status := types.StatusHealthy
		switch {
		case resp.StatusCode >= 500:
			status = types.StatusCritical
		case resp.StatusCode >= 400:
			status = types.StatusWarning
		}
		return &types.ComponentHealth{
			Status:  status,
			Message: fmt.Sprintf("GET %s returned %d", url, resp.StatusCode),
			Details: map[string]interface{}{"status_code": resp.StatusCode},
		}, nil
	}
}

// ProcessCheck verifies that pid is alive and reports its resource usage.
// A zero pid checks the current process.
func ProcessCheck(pid int32) CheckFunc {
	if pid == 0 {
		pid = int32(os.Getpid())
	}
	return func(ctx context.Context) (*types.ComponentHealth, error) {
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			return nil, fmt.Errorf("process %d not found: %w", pid, err)
		}
		running, err := p.IsRunningWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("process %d state: %w", pid, err)
		}
		if !running {
			return nil, fmt.Errorf("process %d is not running", pid)
		}

		details := map[string]interface{}{"pid": pid}
		if name, err := p.NameWithContext(ctx); err == nil {
			details["name"] = name
		}
		if cpuPct, err := p.CPUPercentWithContext(ctx); err == nil {
			details["cpu_percent"] = cpuPct
		}
		if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
			details["rss_bytes"] = memInfo.RSS
		}
		if threads, err := p.NumThreadsWithContext(ctx); err == nil {
			details["threads"] = threads
		}
		return &types.ComponentHealth{
			Status:  types.StatusHealthy,
			Message: fmt.Sprintf("process %d running", pid),
			Details: details,
		}, nil
	}
}

// ConnectivityCheck reports CRITICAL while the probe is disconnected
func ConnectivityCheck(probe ConnectivityProbe) CheckFunc {
	return func(ctx context.Context) (*types.ComponentHealth, error) {
		if probe.IsConnected() {
			return &types.ComponentHealth{Status: types.StatusHealthy, Message: "connected"}, nil
		}
		return &types.ComponentHealth{Status: types.StatusCritical, Message: "disconnected"}, nil
	}
}

// ReconnectRecovery returns a recovery handler that reconnects the probe
// and reports success once it is connected again.
func ReconnectRecovery(probe ConnectivityProbe) RecoveryHandler {
	return func(ctx context.Context, alert *types.Alert) (bool, error) {
		if err := probe.Reconnect(ctx); err != nil {
			return false, err
		}
		return probe.IsConnected(), nil
	}
}
