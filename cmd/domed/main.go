// Command domed runs the two-shutter dome controller: the real-time tick,
// the I/O board, the network failsafe and the supervisory cycle, plus an
// HTTP API and a raw TCP opcode port.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/joergs-git/astroshell/command"
	"github.com/joergs-git/astroshell/config"
	"github.com/joergs-git/astroshell/counters"
	"github.com/joergs-git/astroshell/dome"
	"github.com/joergs-git/astroshell/failsafe"
	"github.com/joergs-git/astroshell/iobox"
	"github.com/joergs-git/astroshell/runlog"
	"github.com/joergs-git/astroshell/supervisor"
	"github.com/joergs-git/astroshell/ticklog"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "", "path to the YAML site configuration")
	addr       = flag.String("addr", "127.0.0.1:8502", "address to serve the HTTP API on")
	opcodeAddr = flag.String("opcode_addr", "", "address to accept raw opcode connections on")
	sim        = flag.Bool("sim", false, "run against the simulated board regardless of configuration")
)

func loadConfig() (config.Config, error) {
	c := config.Default()
	if *configPath != "" {
		var err error
		if c, err = config.Read(*configPath); err != nil {
			return c, err
		}
	}
	if *sim {
		c.Board.Kind = "sim"
	}
	return c, c.Validate()
}

func newBoard(cfg config.Config, wiring dome.Wiring) iobox.Board {
	switch cfg.Board.Kind {
	case "serial":
		return iobox.NewSerial(cfg.Board.Serial.Port, cfg.Board.Serial.Baud, 0)
	case "sim":
		return iobox.NewSimulator(wiring, cfg.Board.SimTravel)
	default:
		return iobox.NewModbus(cfg.Board.Modbus)
	}
}

func newSink(ctx context.Context, cfg config.Config) (ticklog.Sink, func()) {
	var sinks ticklog.Multi
	closer := func() {}
	if cfg.TickLog.URL != "" {
		sinks = append(sinks, ticklog.NewHTTPSink(cfg.TickLog.URL, cfg.TickLog.Timeout))
	}
	if cfg.Influx.URL != "" {
		client := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		// Get non-blocking write client
		writeAPI := client.WriteAPI(cfg.Influx.Org, cfg.Influx.Bucket)
		errorsCh := writeAPI.Errors()
		go func() {
			for {
				select {
				case err, ok := <-errorsCh:
					if !ok {
						return
					}
					log.Printf("influx write error: %v", err)
				case <-ctx.Done():
					return
				}
			}
		}()
		sinks = append(sinks, ticklog.NewInfluxSink(writeAPI))
		closer = func() {
			writeAPI.Flush()
			client.Close()
		}
	}
	if len(sinks) == 0 {
		return nil, closer
	}
	return sinks, closer
}

func checkWatchdog(cfg config.Config) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Printf("reading systemd watchdog: %v", err)
		return
	}
	if interval == 0 {
		return
	}
	worst := cfg.Failsafe.ProbeTimeout + dome.NumMotors*cfg.TickLog.Timeout
	if worst >= interval {
		log.Fatalf("systemd watchdog %v is shorter than a worst case cycle of %v", interval, worst)
	}
	log.Printf("systemd watchdog every %v", interval)
}

func main() {
	flag.Parse()
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	checkWatchdog(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := counters.Open(cfg.Counters.Path, cfg.Counters.MinInterval)
	if err != nil {
		log.Fatalf("opening counters: %v", err)
	}
	defer store.Close()
	saved, err := store.Load()
	if err != nil {
		log.Fatalf("loading counters: %v", err)
	}
	tally := counters.NewTally(saved)
	log.Printf("counters: %+v", tally.Get())

	domeCfg := cfg.Dome()
	board := newBoard(cfg, domeCfg.Wiring)
	recorder := runlog.New(domeCfg.ClosedEnd)
	ctrl := dome.NewController(domeCfg, board, recorder)
	dispatcher := command.New(ctrl, tally, store)

	var link failsafe.Link = failsafe.LinkFunc(func() bool { return true })
	if cfg.Station.Interface != "" {
		link = failsafe.Carrier{Interface: cfg.Station.Interface}
	}
	var prober failsafe.Prober = failsafe.TCPProber{Addr: cfg.Station.Addr}
	if cfg.Station.Addr == "" {
		log.Print("no station configured; probes always succeed")
		prober = failsafe.ProbeFunc(func(context.Context) error { return nil })
	}
	monitor := failsafe.New(cfg.Failsafe, ctrl, tally, store, link, prober)

	sink, closeSink := newSink(ctx, cfg)
	defer closeSink()

	sup := &supervisor.Supervisor{
		Cycle:       cfg.Cycle,
		PushTimeout: cfg.TickLog.Timeout,
		Controller:  ctrl,
		Monitor:     monitor,
		Recorder:    recorder,
		Tally:       tally,
		Saver:       store,
		Sink:        sink,
		TickLog:     dispatcher.TickLog,
		Board:       board.Connected,
	}

	server := NewServer(ctrl, dispatcher, monitor, tally, board.Connected)
	srv := &http.Server{
		Handler:      server.Router(),
		Addr:         *addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return board.Run(ctx) })
	g.Go(func() error { return ctrl.Run(ctx) })
	g.Go(func() error { return sup.Run(ctx) })
	g.Go(func() error { return server.Publish(ctx, cfg.Cycle) })
	g.Go(func() error { return Serve(ctx, srv) })
	if *opcodeAddr != "" {
		g.Go(func() error { return server.ListenOpcodes(ctx, *opcodeAddr) })
	}
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Print(err)
	}
	log.Print("shut down")
}
