// Command modbus_bridge exposes a local Modbus RTU line over HTTP so that
// domed can reach an I/O module attached to another host.
package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/joergs-git/astroshell/internal/modbus"
	"github.com/joergs-git/astroshell/internal/modbus/modbushttp"
)

var (
	addr       = flag.String("addr", "127.0.0.1:8503", "address to listen on")
	password   = flag.String("password", "", "password to require on remote connections")
	serialPort = flag.String("serial", "/dev/ttyUSB0", "I/O module serial port name")
	baud       = flag.Int("baud", 19200, "I/O module baud rate")
)

func main() {
	flag.Parse()
	handler := modbus.NewRTUHandler(*serialPort, *baud)
	if err := handler.Connect(); err != nil {
		log.Fatalf("opening %s: %v", *serialPort, err)
	}
	defer handler.Close()

	r := mux.NewRouter()
	r.Handle("/api/send", &modbushttp.Handler{Transporter: handler, Password: *password}).Methods("POST")
	r.PathPrefix("/debug").Handler(http.DefaultServeMux)
	srv := &http.Server{
		Handler:      r,
		Addr:         *addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	log.Printf("Listening on %v", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}
