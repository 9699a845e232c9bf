// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// StaticApprovalHook returns a fixed decision for every request. A zero hook denies.
type StaticApprovalHook struct {
	Decision Decision
}

// Request returns the configured decision.
func (h StaticApprovalHook) Request(_ context.Context, _ Action) Decision {
	return orDeny(h.Decision, "approval decision not set")
}

// ConsoleApprovalHook asks an operator at a terminal whether a pending
// trigger may run. Prompts are serialized, so contexts running concurrently
// never interleave their questions, and one reader consumes the input so an
// abandoned request does not swallow the next answer.
type ConsoleApprovalHook struct {
	in       io.Reader
	out      io.Writer
	prompt   string
	timeout  time.Duration
	fallback Decision

	mu    sync.Mutex
	once  sync.Once
	lines chan string
}

// ConsoleApprovalOption configures a ConsoleApprovalHook.
type ConsoleApprovalOption func(*ConsoleApprovalHook)

// NewConsoleApprovalHook returns a hook reading answers from stdin and
// writing prompts to stdout.
func NewConsoleApprovalHook(opts ...ConsoleApprovalOption) *ConsoleApprovalHook {
	h := &ConsoleApprovalHook{
		in:     os.Stdin,
		out:    os.Stdout,
		prompt: "Run it? [y/N]: ",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithApprovalInput reads answers from r.
func WithApprovalInput(r io.Reader) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if r != nil {
			h.in = r
		}
	}
}

// WithApprovalOutput writes prompts to w.
func WithApprovalOutput(w io.Writer) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if w != nil {
			h.out = w
		}
	}
}

// WithApprovalPrompt replaces the question printed after the request.
func WithApprovalPrompt(prompt string) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if strings.TrimSpace(prompt) != "" {
			h.prompt = prompt
		}
	}
}

// WithApprovalTimeout bounds how long a request waits for an answer.
func WithApprovalTimeout(timeout time.Duration) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithApprovalFallback sets the decision used when no answer arrives: an
// empty line, closed input, a timeout or a cancelled context.
func WithApprovalFallback(decision Decision) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		h.fallback = decision
	}
}

// Request prints the pending trigger and waits for y/yes or n/no.
func (h *ConsoleApprovalHook) Request(ctx context.Context, action Action) Decision {
	if h == nil || h.in == nil {
		return orDeny(Decision{}, "approval input not available")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.once.Do(func() {
		h.lines = make(chan string)
		go h.read()
	})

	writeRequest(h.out, action)
	_, _ = fmt.Fprint(h.out, h.prompt)

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(h.out)
		return orDeny(h.fallback, "approval cancelled")
	case line, ok := <-h.lines:
		if !ok {
			return orDeny(h.fallback, "approval input closed")
		}
		return h.answer(line)
	}
}

func (h *ConsoleApprovalHook) read() {
	defer close(h.lines)
	sc := bufio.NewScanner(h.in)
	for sc.Scan() {
		h.lines <- sc.Text()
	}
}

func (h *ConsoleApprovalHook) answer(line string) Decision {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return Decision{Allowed: true, Status: DecisionStatusAllow, Reason: "approved by operator"}
	case "n", "no":
		return Decision{Status: DecisionStatusDeny, Reason: "rejected by operator"}
	case "":
		return orDeny(h.fallback, "no answer")
	default:
		return Decision{Status: DecisionStatusDeny, Reason: fmt.Sprintf("unrecognized answer %q", strings.TrimSpace(line))}
	}
}

// writeRequest renders a pending trigger:
//
//	Trigger Account.transfer needs approval
//	  context: 3f1c...
//	  rule:    review
//	  reason:  needs review
func writeRequest(w io.Writer, action Action) {
	reason := strings.TrimSpace(action.Metadata["policy_reason"])
	if reason == "" {
		reason = "approval required"
	}
	_, _ = fmt.Fprintf(w, "\nTrigger %s needs approval\n", action.Name)
	for _, field := range []struct{ label, value string }{
		{"context", action.Metadata["context_id"]},
		{"rule", action.Metadata["policy_rule_id"]},
		{"reason", reason},
	} {
		if v := strings.TrimSpace(field.value); v != "" {
			_, _ = fmt.Fprintf(w, "  %-8s %s\n", field.label+":", v)
		}
	}
}

// orDeny fills in the status of decision, turning a zero decision into a
// denial for reason.
func orDeny(decision Decision, reason string) Decision {
	if decision.Status == "" && decision.Reason == "" && !decision.Allowed {
		return Decision{Status: DecisionStatusDeny, Reason: reason}
	}
	if decision.Status == "" {
		if decision.Allowed {
			decision.Status = DecisionStatusAllow
		} else {
			decision.Status = DecisionStatusDeny
		}
	}
	return decision
}
