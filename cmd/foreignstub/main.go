// Command foreignstub is a Go program that speaks the foreign-child IPC
// protocol over its own stdio, standing in for an actual
// Python/Node/C++ process in tests. The framing is language-agnostic, so
// this validates the host side of the protocol without requiring any
// other language toolchain in CI.
//
// Protocol: emits {"ready":true} once on startup, then for every
// newline-delimited request frame on stdin replies on stdout. The
// built-in "echo" method returns its args verbatim; "sleep" sleeps for
// args[0] milliseconds before replying, useful for exercising timeouts;
// any other method replies ok:false.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type request struct {
	ID     int64         `json:"id"`
	Method string        `json:"method"`
	Args   []interface{} `json:"args"`
}

type response struct {
	ID     int64       `json:"id"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func main() {
	fmt.Fprintf(os.Stderr, "[INFO] foreignstub starting for module=%s version=%s\n",
		os.Getenv("ADC_MODULE_NAME"), os.Getenv("ADC_MODULE_VERSION"))

	writeFrame(map[string]bool{"ready": true})

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		handle(req)
	}
}

func handle(req request) {
	switch req.Method {
	case "echo":
		writeFrame(response{ID: req.ID, OK: true, Result: req.Args})
	case "sleep":
		ms := 0.0
		if len(req.Args) > 0 {
			if f, ok := req.Args[0].(float64); ok {
				ms = f
			}
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
		writeFrame(response{ID: req.ID, OK: true, Result: "slept"})
	case "fail":
		writeFrame(response{ID: req.ID, OK: false, Error: "stub: deliberate failure"})
	default:
		writeFrame(response{ID: req.ID, OK: false, Error: "stub: unknown method " + req.Method})
	}
}

func writeFrame(v interface{}) {
	enc, err := json.Marshal(v)
	if err != nil {
		return
	}
	os.Stdout.Write(enc)
	os.Stdout.Write([]byte("\n"))
}
