package iobox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/sync/errgroup"
)

// Serial drives a microcontroller I/O board speaking a line protocol:
//
//	board -> host  r<inputs hex>   raw input word
//	board -> host  !<text>         board log message
//	host -> board  w<dirA> <levelA> <dirB> <levelB>  outputs, hex
//
// The host resends the output frame every period; the board drops its
// outputs when frames stop arriving.
type Serial struct {
	State
	port   string
	baud   int
	period time.Duration
}

func NewSerial(port string, baud int, period time.Duration) *Serial {
	if baud == 0 {
		baud = 115200
	}
	if period <= 0 {
		period = 4 * DefaultPollPeriod
	}
	return &Serial{port: port, baud: baud, period: period}
}

func (s *Serial) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
		p, err := serial.OpenPort(&serial.Config{Name: s.port, Baud: s.baud})
		if err != nil {
			log.Printf("opening %q: %v", s.port, err)
			continue
		}
		log.Printf("opened %q", s.port)
		if err := s.watch(ctx, p); err != nil && ctx.Err() == nil {
			log.Printf("watching %q: %v", s.port, err)
		}
		s.setConnected(false)
	}
}

func (s *Serial) watch(ctx context.Context, conn io.ReadWriteCloser) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return conn.Close()
	})
	g.Go(func() error {
		return s.reader(conn)
	})
	g.Go(func() error {
		t := time.NewTicker(s.period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			if _, err := io.WriteString(conn, s.outputFrame()); err != nil {
				return fmt.Errorf("writing outputs: %w", err)
			}
		}
	})
	return g.Wait()
}

func (s *Serial) reader(conn io.Reader) error {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if len(input) < 1 {
			continue
		}
		switch input[0] {
		case '!':
			log.Printf("board: %s", input[1:])
		case 'r':
			v, err := strconv.ParseUint(input[1:], 16, 32)
			if err != nil {
				log.Printf("failed to parse %q: %v", input, err)
				continue
			}
			s.SetInputs(uint32(v))
			s.setConnected(true)
		default:
			log.Printf("unknown input: %s", input)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading serial port: %w", err)
	}
	return io.EOF
}

func (s *Serial) outputFrame() string {
	f := s.frame()
	out := make([]string, len(f))
	for i, v := range f {
		out[i] = strconv.FormatUint(uint64(v), 16)
	}
	return "w" + strings.Join(out, " ") + "\n"
}
