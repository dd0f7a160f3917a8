// Package client implements a connection to a kivi server.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/kivi/kivi/protocol"
)

var (
	ErrKeyNotFound = errors.New("kivi client err: key not found")
	ErrBadResponse = errors.New("kivi client err: unexpected response status")
)

// Client talks to a single kivi server over one connection. Requests
// are serialized per client, matching the one-request-at-a-time
// discipline of the server dispatcher.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
}

func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
	}, nil
}

// Get returns the value stored for key. The second return value is
// false if the key does not exist.
func (c *Client) Get(key []byte) ([]byte, bool, error) {
	resp, err := c.roundTrip(&protocol.Request{Op: protocol.OpGet, Key: key})
	if err != nil {
		return nil, false, err
	}
	switch resp.Status {
	case protocol.StatusValue:
		return resp.Value, true, nil
	case protocol.StatusNil:
		return nil, false, nil
	case protocol.StatusError:
		return nil, false, fmt.Errorf("kivi client err: server: %s", resp.Err)
	default:
		return nil, false, ErrBadResponse
	}
}

func (c *Client) Set(key, value []byte) error {
	resp, err := c.roundTrip(&protocol.Request{Op: protocol.OpSet, Key: key, Value: value})
	if err != nil {
		return err
	}
	switch resp.Status {
	case protocol.StatusNil:
		return nil
	case protocol.StatusError:
		return fmt.Errorf("kivi client err: server: %s", resp.Err)
	default:
		return ErrBadResponse
	}
}

// Remove deletes key, returning ErrKeyNotFound if it does not exist.
func (c *Client) Remove(key []byte) error {
	resp, err := c.roundTrip(&protocol.Request{Op: protocol.OpRemove, Key: key})
	if err != nil {
		return err
	}
	switch resp.Status {
	case protocol.StatusNil:
		return nil
	case protocol.StatusNotFound:
		return ErrKeyNotFound
	case protocol.StatusError:
		return fmt.Errorf("kivi client err: server: %s", resp.Err)
	default:
		return ErrBadResponse
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) roundTrip(req *protocol.Request) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := protocol.WriteRequest(c.bw, req); err != nil {
		return nil, err
	}
	if err := c.bw.Flush(); err != nil {
		return nil, err
	}
	return protocol.ReadResponse(c.br)
}
