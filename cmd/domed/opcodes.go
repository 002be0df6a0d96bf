package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
)

// ListenOpcodes accepts raw TCP connections carrying one opcode per line.
// Every line is answered with the opcode's reply or "ERR <reason>".
func (s *Server) ListenOpcodes(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing opcode socket")
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		go s.handleOpcodes(ctx, conn)
	}
}

func (s *Server) handleOpcodes(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log.Printf("accepted connection from %v", conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		op := strings.TrimSpace(scanner.Text())
		if len(op) == 0 {
			continue
		}
		log.Printf("%v opcode: %q", conn.RemoteAddr(), op)
		reply, code := s.dispatch(ctx, op)
		if code != 200 {
			reply = "ERR " + reply
		}
		if _, err := fmt.Fprintf(conn, "%s\n", reply); err != nil {
			log.Printf("writing to %v: %v", conn.RemoteAddr(), err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading from %v: %v", conn.RemoteAddr(), err)
	}
}
