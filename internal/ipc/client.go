package ipc

import (
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const dialTimeout = 2 * time.Second

// Client is a JSON-RPC client for the daemon control socket.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to the daemon socket at the given path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon socket: %w", err)
	}
	return &Client{rpc: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}

// Start asks the daemon to begin orchestration.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.rpc.Call("Beamline.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop asks the daemon to shut down orchestration.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.rpc.Call("Beamline.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches the current daemon status snapshot.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.rpc.Call("Beamline.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Calibrate triggers a calibration run, optionally bypassing the cache.
func (c *Client) Calibrate(force bool) (*CalibrateResponse, error) {
	var resp CalibrateResponse
	if err := c.rpc.Call("Beamline.Calibrate", CalibrateRequest{Force: force}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CacheClear removes the persisted calibration cache.
func (c *Client) CacheClear() (*CacheClearResponse, error) {
	var resp CacheClearResponse
	if err := c.rpc.Call("Beamline.CacheClear", CacheClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sessions lists recent calibration sessions, newest first.
func (c *Client) Sessions(limit int) (*SessionListResponse, error) {
	var resp SessionListResponse
	if err := c.rpc.Call("Beamline.Sessions", SessionListRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
