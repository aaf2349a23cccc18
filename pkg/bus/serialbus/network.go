package serialbus

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/teslashibe/go-cupbot/pkg/bus"
)

// Native implements bus.NetworkRef. A closed client has no network.
func (c *Client) Native() bus.Network {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c
}

// UpdateID implements bus.Network. It polls the bridge and refreshes the
// node cache. On a transport error the last known id is returned.
func (c *Client) UpdateID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refresh(); err != nil {
		c.logger.Warn("node list refresh failed", "error", err)
	}
	return c.updateID
}

// refresh runs "N?" and rebuilds the cache. The caller holds c.mu.
func (c *Client) refresh() error {
	line, err := c.exchange(FlagList, "?")
	if err != nil {
		return err
	}
	id, err := parseUpdate(line)
	if err != nil {
		return err
	}

	nodes := make(map[bus.NodeHandle]nodeInfo)
	var order []bus.NodeHandle
	for {
		line, err := c.readLine()
		if err != nil {
			return fmt.Errorf("read node list: %w", err)
		}
		if line == listTerminator {
			break
		}
		h, info, err := parseNode(line)
		if err != nil {
			return err
		}
		nodes[h] = info
		order = append(order, h)
	}

	c.updateID = id
	c.nodes = nodes
	c.order = order
	return nil
}

func parseUpdate(line string) (uint32, error) {
	f := strings.Fields(line)
	if len(f) != 2 || f[0] != "U" {
		return 0, fmt.Errorf("bad update line %q", line)
	}
	id, err := strconv.ParseUint(f[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad update id %q: %w", f[1], err)
	}
	return uint32(id), nil
}

// parseNode reads "N <id> <status> [tag]"; the tag may be empty.
func parseNode(line string) (bus.NodeHandle, nodeInfo, error) {
	f := strings.SplitN(line, " ", 4)
	if len(f) < 3 || f[0] != "N" {
		return 0, nodeInfo{}, fmt.Errorf("bad node line %q", line)
	}
	id, err := strconv.ParseUint(f[1], 10, 32)
	if err != nil {
		return 0, nodeInfo{}, fmt.Errorf("bad node id %q: %w", f[1], err)
	}
	info := nodeInfo{status: bus.NodeInvalid}
	switch f[2] {
	case "idle":
		info.status = bus.NodeIdle
	case "running":
		info.status = bus.NodeRunning
	}
	if len(f) == 4 {
		info.tag = f[3]
	}
	return bus.NodeHandle(id), info, nil
}

// NodeStatus implements bus.Network from the cached listing.
func (c *Client) NodeStatus(h bus.NodeHandle) bus.NodeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.nodes[h]
	if !ok {
		return bus.NodeInvalid
	}
	return info.status
}

// NodeStringProperty implements bus.Network. Only the tag is reported by
// the bridge.
func (c *Client) NodeStringProperty(h bus.NodeHandle, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.nodes[h]
	if !ok {
		return "", bus.ErrUnknownNode
	}
	if key != bus.TagProperty {
		return "", fmt.Errorf("serialbus: property %q not supported", key)
	}
	return info.tag, nil
}

// CotaskConstructor implements bus.Library.
func (c *Client) CotaskConstructor() (bus.CotaskConstructor, error) {
	return constructor{c: c}, nil
}

type constructor struct {
	c *Client
}

func (k constructor) FindSupportedNodes(bus.Network) ([]bus.NodeHandle, error) {
	k.c.mu.Lock()
	defer k.c.mu.Unlock()
	if err := k.c.refresh(); err != nil {
		return nil, err
	}
	return append([]bus.NodeHandle(nil), k.c.order...), nil
}

func (k constructor) StartTask(_ bus.Network, h bus.NodeHandle) (bus.Cotask, error) {
	if err := k.c.expectOK(FlagStart, uint32(h)); err != nil {
		return nil, fmt.Errorf("start task on node %d: %w", h, err)
	}
	return &task{c: k.c, node: h}, nil
}

func (constructor) Close() error { return nil }

var (
	_ bus.Library    = (*Client)(nil)
	_ bus.NetworkRef = (*Client)(nil)
	_ bus.Network    = (*Client)(nil)
)
