// Package command implements command channels.
package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/sekigaharaEI/archon/internal/cronexec"
	"github.com/sekigaharaEI/archon/internal/probeexec"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second // Default timeout
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends a command and waits for response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	// Create connection with timeout
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	// Set deadline
	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	// Marshal params
	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	// Create JSON-RPC request
	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano()) // Use string ID
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	// Send request
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	// Read response
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	// Parse JSON-RPC response
	var jsonrpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Verify response ID matches (convert both to string for comparison)
	respIDStr := fmt.Sprintf("%v", jsonrpcResp.ID)
	if respIDStr != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respIDStr)
	}

	// Convert to internal Response format
	resp := &Response{
		ID:     fmt.Sprintf("%v", jsonrpcResp.ID),
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}

	return resp, nil
}

// Status is a convenience method for the status command.
func (c *UDSClient) Status(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "status", nil)
}

// TasksList is a convenience method for the tasks_list command.
func (c *UDSClient) TasksList(ctx context.Context, mode, status string) (*Response, error) {
	return c.Call(ctx, "tasks_list", TasksListParams{Mode: mode, Status: status})
}

// TasksGet is a convenience method for the tasks_get command.
func (c *UDSClient) TasksGet(ctx context.Context, taskID string) (*Response, error) {
	return c.Call(ctx, "tasks_get", TaskIDParams{TaskID: taskID})
}

// TasksLogs is a convenience method for the tasks_logs command.
func (c *UDSClient) TasksLogs(ctx context.Context, taskID string, lines int) (*Response, error) {
	return c.Call(ctx, "tasks_logs", TasksLogsParams{TaskID: taskID, Lines: lines})
}

// ProbeCreate is a convenience method for the probe_create command.
func (c *UDSClient) ProbeCreate(ctx context.Context, params probeexec.StartRequest) (*Response, error) {
	return c.Call(ctx, "probe_create", params)
}

// ProbeCheck is a convenience method for the probe_check command.
func (c *UDSClient) ProbeCheck(ctx context.Context, taskID string) (*Response, error) {
	return c.Call(ctx, "probe_check", TaskIDParams{TaskID: taskID})
}

// ProbeStop is a convenience method for the probe_stop command.
func (c *UDSClient) ProbeStop(ctx context.Context, taskID string, graceful bool, timeoutSeconds int) (*Response, error) {
	return c.Call(ctx, "probe_stop", ProbeStopParams{TaskID: taskID, Graceful: graceful, TimeoutSecond: timeoutSeconds})
}

// CronCreate is a convenience method for the cron_create command.
func (c *UDSClient) CronCreate(ctx context.Context, params cronexec.CreateRequest) (*Response, error) {
	return c.Call(ctx, "cron_create", params)
}

// CronExecute is a convenience method for the cron_execute command.
func (c *UDSClient) CronExecute(ctx context.Context, taskID string) (*Response, error) {
	return c.Call(ctx, "cron_execute", TaskIDParams{TaskID: taskID})
}

// CronStop is a convenience method for the cron_stop command.
func (c *UDSClient) CronStop(ctx context.Context, taskID string) (*Response, error) {
	return c.Call(ctx, "cron_stop", TaskIDParams{TaskID: taskID})
}

// CronPause is a convenience method for the cron_pause command.
func (c *UDSClient) CronPause(ctx context.Context, taskID string) (*Response, error) {
	return c.Call(ctx, "cron_pause", TaskIDParams{TaskID: taskID})
}

// CronResume is a convenience method for the cron_resume command.
func (c *UDSClient) CronResume(ctx context.Context, taskID string) (*Response, error) {
	return c.Call(ctx, "cron_resume", TaskIDParams{TaskID: taskID})
}

// StuckScan is a convenience method for the stuck_scan command.
func (c *UDSClient) StuckScan(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "stuck_scan", nil)
}

// ConfigReload is a convenience method for the config_reload command.
func (c *UDSClient) ConfigReload(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "config_reload", nil)
}

// DaemonShutdown is a convenience method for the daemon_shutdown command.
func (c *UDSClient) DaemonShutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_shutdown", nil)
}

// Ping checks whether the daemon is alive via the status command.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.Status(ctx)
	return err
}
