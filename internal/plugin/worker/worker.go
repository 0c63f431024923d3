// Package worker is the sandboxed-side counterpart to internal/plugin's
// IPC channel: a library a plugin's own binary imports to speak the
// host's line-delimited JSON protocol over stdin/stdout.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	pkgplugin "github.com/goatkit/pluginhost/pkg/plugin"
)

type request struct {
	ID      string          `json:"id"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const maxLineBytes = 1 << 20

// Serve runs p's request loop over os.Stdin/os.Stdout until the host
// sends "_shutdown" or stdin closes. It applies the sandbox memory
// limit from _SANDBOX_MAX_MEM_MB (best-effort; see rlimit_linux.go) and
// never lets a panicking Handle call kill the loop. If p implements
// Lifecycle, OnLoad runs before the loop starts and OnUnload runs on
// "_shutdown" before the process exits.
func Serve(p pkgplugin.Plugin) {
	applyMemoryLimit()

	ctx := context.Background()
	if lc, ok := p.(pkgplugin.Lifecycle); ok {
		if err := lc.OnLoad(ctx); err != nil {
			slog.Error("plugin OnLoad failed", "error", err)
			os.Exit(1)
		}
	}

	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	out := bufio.NewWriter(os.Stdout)

	for in.Scan() {
		var req request
		if err := json.Unmarshal(in.Bytes(), &req); err != nil {
			writeResponse(out, response{Error: fmt.Sprintf("decoding request: %v", err)})
			continue
		}

		if req.Action == "_shutdown" {
			if lc, ok := p.(pkgplugin.Lifecycle); ok {
				if err := lc.OnUnload(ctx); err != nil {
					slog.Error("plugin OnUnload failed", "error", err)
				}
			}
			writeResponse(out, response{ID: req.ID, Result: json.RawMessage(`{}`)})
			return
		}
		if req.Action == "_ping" {
			writeResponse(out, response{ID: req.ID, Result: json.RawMessage(`{"status":"ok"}`)})
			continue
		}

		writeResponse(out, handle(p, req))
	}

	if err := in.Err(); err != nil && err != io.EOF {
		slog.Error("worker stdin read failed", "error", err)
	}
}

func handle(p pkgplugin.Plugin, req request) (resp response) {
	resp.ID = req.ID
	defer func() {
		if r := recover(); r != nil {
			resp = response{ID: req.ID, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	var payload map[string]any
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return response{ID: req.ID, Error: fmt.Sprintf("decoding payload: %v", err)}
		}
	}

	out, err := p.Handle(context.Background(), req.Action, payload)
	if err != nil {
		return response{ID: req.ID, Error: err.Error()}
	}

	body, err := json.Marshal(out)
	if err != nil {
		return response{ID: req.ID, Error: fmt.Sprintf("encoding result: %v", err)}
	}
	return response{ID: req.ID, Result: body}
}

func writeResponse(out *bufio.Writer, resp response) {
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	out.Write(body)
	out.WriteByte('\n')
	out.Flush()
}
