// Command dome_logger follows the domed status stream and writes every
// update to InfluxDB as a flat point.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

var (
	domeAddr = flag.String("dome", "ws://localhost:8502/api/ws", "domed status stream")
	org      = flag.String("org", "astroshell", "InfluxDB organization")
	bucket   = flag.String("bucket", "dome.status", "InfluxDB bucket")
)

func main() {
	flag.Parse()
	server := os.Getenv("INFLUX_SERVER")
	if server == "" {
		server = "http://localhost:8086"
	}
	client := influxdb2.NewClient(server, os.Getenv("INFLUX_TOKEN"))
	defer client.Close()
	// Get non-blocking write client
	writeAPI := client.WriteAPI(*org, *bucket)
	defer writeAPI.Flush()
	errorsCh := writeAPI.Errors()
	go func() {
		for err := range errorsCh {
			log.Printf("write error: %v", err)
		}
	}()
	for {
		if err := logData(writeAPI); err != nil {
			log.Print(err)
		}
		time.Sleep(1 * time.Second)
	}
}

// flattenStatus turns nested JSON into dotted field names. Booleans become
// 0 or 1 so they can be graphed.
func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	case bool:
		if status {
			fields[prefix[1:]] = 1
		} else {
			fields[prefix[1:]] = 0
		}
	case nil:
	default:
		fields[prefix[1:]] = status
	}
}

func logData(writeAPI api.WriteAPI) error {
	defer writeAPI.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(*domeAddr, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	for {
		var status map[string]interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		// Command replies share the stream.
		if _, ok := status["command"]; ok {
			continue
		}
		fields := make(map[string]interface{})
		flattenStatus(fields, status, "")
		tags := map[string]string{}
		if state, ok := fields["state"].(string); ok {
			tags["state"] = state
			delete(fields, "state")
		}
		delete(fields, "time")
		writeAPI.WritePoint(influxdb2.NewPoint("dome.status", tags, fields, time.Now()))
	}
}
