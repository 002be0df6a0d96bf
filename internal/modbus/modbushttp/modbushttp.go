// Package modbushttp tunnels Modbus RTU frames over HTTP, so the serial
// line can live on another host.
package modbushttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goburrow/modbus"
)

// SendResponse is the bridge's reply to one request frame.
type SendResponse struct {
	ADUResponse []byte
	Error       string
}

// Client is a Modbus client handler whose transport is the bridge.
type Client struct {
	*modbus.RTUClientHandler

	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	// The RTU handler only packages frames; its port is never opened.
	handler := modbus.NewRTUClientHandler("/dev/null")
	handler.SlaveId = 1
	return &Client{
		RTUClientHandler: handler,
		baseURL:          baseURL,
		http:             &http.Client{Timeout: time.Second},
	}
}

func (c *Client) Send(aduRequest []byte) ([]byte, error) {
	resp, err := c.http.Post(c.baseURL, "application/octet-stream", bytes.NewReader(aduRequest))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status code: %s\n%s", resp.Status, string(body))
	}
	var sendResponse SendResponse
	if err := json.Unmarshal(body, &sendResponse); err != nil {
		return nil, err
	}
	if sendResponse.Error != "" {
		err = errors.New(sendResponse.Error)
	}
	return sendResponse.ADUResponse, err
}

func (c *Client) Connect() error {
	return nil
}

func (c *Client) Close() error {
	return nil
}

// Handler serves the bridge end on top of a local transporter.
type Handler struct {
	Transporter modbus.Transporter
	// Password, if set, is required as the basic auth password.
	Password string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Password != "" {
		_, pass, ok := r.BasicAuth()
		if !ok || pass != h.Password {
			http.Error(w, "wrong password", http.StatusUnauthorized)
			return
		}
	}
	aduRequest, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	aduResponse, err := h.Transporter.Send(aduRequest)
	var errString string
	if err != nil {
		errString = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&SendResponse{
		ADUResponse: aduResponse,
		Error:       errString,
	})
}
