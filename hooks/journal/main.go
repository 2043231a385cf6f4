// Package main is a verdict hook that appends each event it receives to
// journal.jsonl in its working directory.
//
// Build it next to its manifest:
//
//	go build -o ~/.shutter/hooks/journal/journal ./hooks/journal
//	cp hooks/journal/hook.json ~/.shutter/hooks/journal/
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ayusman/shutter/internal/hook"
)

const journalFile = "journal.jsonl"

func main() {
	var req hook.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	if req.Event != hook.EventVerdict {
		writeErrorResponse(fmt.Sprintf("unknown event: %s", req.Event))
		return
	}

	if err := appendEntry(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("append %s: %v", journalFile, err))
		return
	}

	writeSuccessResponse(req.Key)
}

// appendEntry writes one JSON line per request.
func appendEntry(req *hook.Request) error {
	f, err := os.OpenFile(journalFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(req)
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(hook.Response{
		Success: false,
		Error:   errMsg,
	})
}

// writeSuccessResponse writes a success response to stdout.
func writeSuccessResponse(key string) {
	data, _ := json.Marshal(map[string]string{"journal": journalFile, "key": key})
	json.NewEncoder(os.Stdout).Encode(hook.Response{
		Success: true,
		Data:    data,
	})
}
