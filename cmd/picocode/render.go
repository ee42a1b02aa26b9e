package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/sipeed/picocode/pkg/agent"
	"github.com/sipeed/picocode/pkg/utils"
)

// renderer is a minimal event subscriber for the terminal: tool headers,
// streamed content, errors. The full TUI lives elsewhere; this keeps the
// core usable from a plain shell.
type renderer struct {
	mu        sync.Mutex
	out       io.Writer
	live      bool
	streaming bool
}

func newRenderer(out io.Writer, live bool) *renderer {
	return &renderer{out: out, live: live}
}

func (r *renderer) OnEvent(event agent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Type {
	case agent.EventToolExecuting:
		if data, ok := event.Data.(agent.ToolEventData); ok {
			r.breakStream()
			fmt.Fprintf(r.out, "⏺ %s\n", data.ToolName)
		}
	case agent.EventToolComplete:
		if data, ok := event.Data.(agent.ToolEventData); ok && data.Summary != "" {
			fmt.Fprintf(r.out, "  ⎿ %s\n", utils.FirstLine(data.Summary))
		}
	case agent.EventToolError:
		if data, ok := event.Data.(agent.ToolEventData); ok {
			fmt.Fprintf(r.out, "  ⎿ error: %s\n", utils.FirstLine(data.Summary))
		}
	case agent.EventToolCancelled:
		if data, ok := event.Data.(agent.ToolEventData); ok {
			fmt.Fprintf(r.out, "  ⎿ cancelled: %s\n", data.ToolName)
		}
	case agent.EventContentDelta:
		if !r.live {
			return
		}
		if data, ok := event.Data.(agent.TextEventData); ok {
			r.streaming = true
			fmt.Fprint(r.out, data.Text)
		}
	case agent.EventCompressionComplete:
		if data, ok := event.Data.(agent.CompressionEventData); ok && data.AfterTokens < data.BeforeTokens {
			r.breakStream()
			fmt.Fprintf(r.out, "· history compressed: %d → %d tokens\n", data.BeforeTokens, data.AfterTokens)
		}
	case agent.EventExecutionError:
		if data, ok := event.Data.(agent.ErrorEventData); ok {
			r.breakStream()
			fmt.Fprintf(r.out, "✗ %s\n", data.Message)
		}
	case agent.EventExecutionCancel:
		r.breakStream()
		fmt.Fprintln(r.out, "✗ cancelled")
	}
}

func (r *renderer) breakStream() {
	if r.streaming {
		fmt.Fprintln(r.out)
		r.streaming = false
	}
}

// Flush terminates a dangling streamed line.
func (r *renderer) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakStream()
}
