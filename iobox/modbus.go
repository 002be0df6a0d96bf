package iobox

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/joergs-git/astroshell/dome"
	"github.com/joergs-git/astroshell/internal/modbus"
)

// DefaultPollPeriod is about twice the controller tick rate.
const DefaultPollPeriod = 8 * time.Millisecond

// Modbus drives a Modbus I/O module. Discrete inputs 0..31 form the raw
// input word. Holding registers 0..3 take direction and level of motor A
// then motor B; the module is expected to drop its outputs if the
// registers are not refreshed.
type Modbus struct {
	State
	client *modbus.Client
}

type ModbusConfig struct {
	// Port and BaudRate select a local RTU serial line.
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	// Addr selects Modbus TCP.
	Addr string `yaml:"addr"`
	// URL selects a remote line through modbus_bridge, for example
	// http://pier:8503/api/send.
	URL     string        `yaml:"url"`
	SlaveId byte          `yaml:"slave_id"`
	Period  time.Duration `yaml:"period"`
}

func NewModbus(cfg ModbusConfig) *Modbus {
	b := &Modbus{}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPollPeriod
	}
	if cfg.SlaveId == 0 {
		cfg.SlaveId = 1
	}
	b.client = &modbus.Client{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Addr:     cfg.Addr,
		URL:      cfg.URL,
		SlaveId:  cfg.SlaveId,
		Period:   cfg.Period,
		Poll:     b.pollOnce,
		OnState:  b.setConnected,
	}
	return b
}

func (b *Modbus) Run(ctx context.Context) error {
	defer b.setConnected(false)
	return b.client.Run(ctx)
}

func (b *Modbus) pollOnce(c modbus.Registers) error {
	results, err := c.ReadDiscreteInputs(0, 32)
	if err != nil {
		return err
	}
	b.SetInputs(packBits(results))

	f := b.frame()
	regs := make([]byte, 2*len(f))
	for i, v := range f {
		binary.BigEndian.PutUint16(regs[2*i:], v)
	}
	_, err = c.WriteMultipleRegisters(0, uint16(len(f)), regs)
	return err
}

// packBits turns Modbus coil bytes, least significant bit first, into an
// input word.
func packBits(bs []byte) uint32 {
	var raw uint32
	for i, b := range bs {
		if i >= 4 {
			break
		}
		raw |= uint32(b) << (8 * uint(i))
	}
	return raw
}

var _ dome.IO = (*Modbus)(nil)
