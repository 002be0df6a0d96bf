// Package modbus keeps a Modbus connection open and polls it at a fixed
// period.
package modbus

import (
	"context"
	"log"
	"time"

	"github.com/goburrow/modbus"
	"github.com/joergs-git/astroshell/internal/modbus/modbushttp"
)

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Registers is the subset of the Modbus client a poll function uses.
type Registers interface {
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

type Client struct {
	// Port and BaudRate create a local serial connection
	Port string
	// BaudRate defaults to 19200
	BaudRate int
	SlaveId  byte
	// Addr creates a Modbus TCP connection
	Addr string
	// URL creates a remote connection through the HTTP bridge
	URL string

	// Period between polls
	Period time.Duration
	// Poll is called every period while the connection is active
	Poll func(Registers) error
	// OnState is told when polls start and stop succeeding
	OnState func(ok bool)

	handler modbusHandler
}

func (c *Client) name() string {
	switch {
	case c.URL != "":
		return c.URL
	case c.Addr != "":
		return c.Addr
	}
	return c.Port
}

func (c *Client) newHandler() modbusHandler {
	switch {
	case c.URL != "":
		h := modbushttp.NewClient(c.URL)
		h.SlaveId = c.SlaveId
		return h
	case c.Addr != "":
		h := modbus.NewTCPClientHandler(c.Addr)
		h.Timeout = 100 * time.Millisecond
		h.SlaveId = c.SlaveId
		return h
	}
	h := NewRTUHandler(c.Port, c.BaudRate)
	h.SlaveId = c.SlaveId
	return h
}

// NewRTUHandler returns an 8N1 RTU handler.
func NewRTUHandler(port string, baud int) *modbus.RTUClientHandler {
	if baud == 0 {
		baud = 19200
	}
	handler := modbus.NewRTUClientHandler(port)
	handler.BaudRate = baud
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = 100 * time.Millisecond
	handler.SlaveId = 1
	return handler
}

// Run reconnects and polls until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	c.handler = c.newHandler()
	client := modbus.NewClient(c.handler)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}

		err := c.handler.Connect()
		if err != nil {
			log.Printf("opening %q: %v", c.name(), err)
			continue
		}
		log.Printf("opened %q", c.name())
		if err := c.watch(ctx, client); err != nil && ctx.Err() == nil {
			log.Printf("polling %q: %v", c.name(), err)
		}
	}
}

func (c *Client) watch(ctx context.Context, client modbus.Client) error {
	defer c.handler.Close()
	defer c.setState(false)
	t := time.NewTicker(c.Period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if err := c.Poll(client); err != nil {
			return err
		}
		c.setState(true)
	}
}

func (c *Client) setState(ok bool) {
	if c.OnState != nil {
		c.OnState(ok)
	}
}
