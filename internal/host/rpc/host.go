// Package rpc runs a coding agent as a subprocess and drives it over its
// JSON-lines RPC mode: commands on stdin, responses and events on stdout.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/discordbridge/internal/host"
	. "github.com/roelfdiedericks/discordbridge/internal/logging"
)

const (
	maxLineBytes = 10 * 1024 * 1024
	stopTimeout  = 5 * time.Second

	// dispatchTimeout bounds the handlers run for one agent event.
	dispatchTimeout = 2 * time.Minute
)

// Options configures the agent process and where its output goes.
type Options struct {
	Command string
	Args    []string
	WorkDir string

	// OnEvent receives lifecycle events, one at a time, in order.
	OnEvent host.Handler
	// OnText receives each completed assistant message.
	OnText func(text string)
	// OnNotify shows bridge notifications; nil logs them.
	OnNotify func(text string, level host.Level)
}

// Host is a host.Host backed by an agent subprocess.
type Host struct {
	opts Options
	now  func() time.Time

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	pending   map[string]chan response
	session   host.SessionInfo
	turnStart time.Time
	toolPaths map[string]string // toolCallId -> path argument

	attached bool

	emitMu sync.Mutex
	events chan event
	done   chan struct{}
	wg     sync.WaitGroup
}

// New returns a host that has not been started.
func New(opts Options) *Host {
	return &Host{
		opts:      opts,
		now:       time.Now,
		pending:   make(map[string]chan response),
		toolPaths: make(map[string]string),
		events:    make(chan event, 1024),
		done:      make(chan struct{}),
	}
}

// Start spawns the agent, reads its initial state and emits SessionStart.
func (h *Host) Start(ctx context.Context) error {
	if h.opts.Command == "" {
		return errors.New("no agent command configured")
	}
	// #nosec G204 - command comes from the user's own settings
	cmd := exec.Command(h.opts.Command, h.opts.Args...)
	cmd.Dir = h.opts.WorkDir
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = Writer("rpc: agent stderr")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	L_info("rpc: agent started", "command", h.opts.Command, "pid", cmd.Process.Pid)

	h.mu.Lock()
	h.cmd = cmd
	h.mu.Unlock()

	h.attach(stdin, stdout)
	go func() {
		// Wait closes stdout, so only after the reader has drained it
		<-h.done
		err := cmd.Wait()
		L_info("rpc: agent exited", "error", err)
	}()
	return h.init(ctx)
}

// attach starts the reader and the event dispatcher over the given pipes.
func (h *Host) attach(stdin io.WriteCloser, stdout io.Reader) {
	h.mu.Lock()
	h.stdin = stdin
	h.attached = true
	h.mu.Unlock()

	h.wg.Add(2)
	go h.readStdout(stdout)
	go h.dispatch()
}

// init learns the current session and announces it.
func (h *Host) init(ctx context.Context) error {
	st, err := h.getState(ctx)
	if err != nil {
		return fmt.Errorf("get agent state: %w", err)
	}
	sess := h.sessionFrom(st)
	h.mu.Lock()
	h.session = sess
	h.mu.Unlock()
	h.emit(ctx, host.Event{Kind: host.EventSessionStart, Session: sess, At: h.now()})
	return nil
}

// Done is closed when the agent process has gone away.
func (h *Host) Done() <-chan struct{} {
	return h.done
}

// Stop closes the agent's stdin and kills it if it does not exit in time.
func (h *Host) Stop() error {
	h.mu.Lock()
	stdin, cmd, attached := h.stdin, h.cmd, h.attached
	h.stdin = nil
	h.mu.Unlock()

	if !attached {
		return nil
	}
	if stdin != nil {
		stdin.Close()
	}
	select {
	case <-h.done:
	case <-time.After(stopTimeout):
		if cmd != nil && cmd.Process != nil {
			L_warn("rpc: agent did not exit, killing")
			if err := cmd.Process.Kill(); err != nil {
				return fmt.Errorf("kill agent: %w", err)
			}
		}
		<-h.done
	}
	h.wg.Wait()
	return nil
}

// Session implements host.Host.
func (h *Host) Session() host.SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// SendUserMessage implements host.Host. Follow-ups are queued behind the
// running turn by the agent; text-only ones use the follow_up command.
func (h *Host) SendUserMessage(ctx context.Context, turn host.Turn, delivery host.Delivery) error {
	text := turn.Text()
	imgs := turn.Images()

	if delivery == host.FollowUp && len(imgs) == 0 {
		_, err := h.call(ctx, cmdFollowUp, text, nil)
		return err
	}

	data := promptData{Message: text}
	if delivery == host.FollowUp {
		data.StreamingBehavior = followUpBehavior
	}
	for _, img := range imgs {
		data.Images = append(data.Images, imageContent{Type: "image", Data: img.Data, MimeType: img.MimeType})
	}
	_, err := h.call(ctx, cmdPrompt, text, data)
	return err
}

// Notify implements host.Host.
func (h *Host) Notify(text string, level host.Level) {
	if h.opts.OnNotify != nil {
		h.opts.OnNotify(text, level)
		return
	}
	switch level {
	case host.LevelError:
		L_error(text)
	case host.LevelWarning:
		L_warn(text)
	default:
		L_info(text)
	}
}

// RecentMessages implements host.Host.
func (h *Host) RecentMessages(ctx context.Context) ([]host.Message, error) {
	raw, err := h.call(ctx, cmdGetMessages, "", nil)
	if err != nil {
		return nil, err
	}
	var data messagesData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return toMessages(data.Messages), nil
}

// NewSession asks the agent for a fresh session and emits SessionSwitch.
func (h *Host) NewSession(ctx context.Context) error {
	if _, err := h.call(ctx, cmdNewSession, "", nil); err != nil {
		return err
	}
	h.refreshSession(ctx)
	return nil
}

// Abort stops the running turn.
func (h *Host) Abort(ctx context.Context) error {
	_, err := h.call(ctx, cmdAbort, "", nil)
	return err
}

func (h *Host) getState(ctx context.Context) (sessionState, error) {
	var st sessionState
	raw, err := h.call(ctx, cmdGetState, "", nil)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

func (h *Host) sessionFrom(st sessionState) host.SessionInfo {
	dir := st.AIWorkingDir
	if dir == "" {
		dir = h.opts.WorkDir
	}
	if dir == "" {
		dir, _ = os.Getwd()
	}
	return host.SessionInfo{Key: st.SessionID, Name: st.SessionName, ProjectDir: dir}
}

// refreshSession re-reads the agent state and emits SessionSwitch when the
// session id changed.
func (h *Host) refreshSession(ctx context.Context) {
	st, err := h.getState(ctx)
	if err != nil {
		L_warn("rpc: failed to refresh session state", "error", err)
		return
	}
	h.switchTo(ctx, h.sessionFrom(st))
}

func (h *Host) switchTo(ctx context.Context, next host.SessionInfo) {
	h.mu.Lock()
	prev := h.session
	h.session = next
	h.mu.Unlock()

	if next.Key != prev.Key {
		L_info("rpc: session switched", "from", prev.Key, "to", next.Key)
		h.emit(ctx, host.Event{Kind: host.EventSessionSwitch, Session: next, At: h.now()})
	}
}

// call sends a command and waits for its response.
func (h *Host) call(ctx context.Context, typ, message string, data any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan response, 1)

	h.mu.Lock()
	if h.stdin == nil {
		h.mu.Unlock()
		return nil, host.ErrNotRunning
	}
	h.pending[id] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	if err := h.sendJSON(command{ID: id, Type: typ, Message: message, Data: data}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if !resp.Success {
			if resp.Error == "" {
				return nil, fmt.Errorf("agent: %s failed", typ)
			}
			return nil, fmt.Errorf("agent: %s failed: %s", typ, resp.Error)
		}
		return resp.Data, nil
	case <-h.done:
		return nil, host.ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Host) sendJSON(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	data = append(data, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stdin == nil {
		return host.ErrNotRunning
	}
	if _, err := h.stdin.Write(data); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

func (h *Host) readStdout(stdout io.Reader) {
	defer h.wg.Done()
	defer close(h.events)

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 256*1024)
	scanner.Buffer(buf, maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		h.handleLine([]byte(line))
	}
	if err := scanner.Err(); err != nil {
		L_warn("rpc: stdout scanner error", "error", err)
	}
}

func (h *Host) handleLine(line []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &env); err != nil {
		L_debug("rpc: non-JSON output", "line", string(line))
		return
	}

	if env.Type == typeResponse {
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			L_warn("rpc: invalid response", "error", err)
			return
		}
		h.mu.Lock()
		ch, ok := h.pending[resp.ID]
		h.mu.Unlock()
		if !ok {
			L_trace("rpc: unmatched response", "id", resp.ID, "command", resp.Command)
			return
		}
		ch <- resp
		return
	}

	if !dispatched(env.Type) {
		return
	}
	var ev event
	if err := json.Unmarshal(line, &ev); err != nil {
		L_debug("rpc: invalid event", "error", err)
		return
	}
	h.events <- ev
}

// dispatch turns agent events into lifecycle events. It runs apart from the
// reader so handlers can issue commands and still get their responses.
func (h *Host) dispatch() {
	defer h.wg.Done()
	ctx := context.Background()

	for ev := range h.events {
		evCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
		h.handleEvent(evCtx, ev)
		cancel()
	}

	h.mu.Lock()
	h.stdin = nil
	sess := h.session
	h.mu.Unlock()
	close(h.done)
	h.emit(ctx, host.Event{Kind: host.EventSessionShutdown, Session: sess, At: h.now()})
}

func (h *Host) handleEvent(ctx context.Context, ev event) {
	switch ev.Type {
	case evAgentStart:
		now := h.now()
		h.mu.Lock()
		h.turnStart = now
		sess := h.session
		h.mu.Unlock()
		h.emit(ctx, host.Event{Kind: host.EventTurnStart, Session: sess, At: now})

	case evMessageEnd:
		if ev.Message != nil && ev.Message.Role == "assistant" && h.opts.OnText != nil {
			if t := ev.Message.text(); t != "" {
				h.opts.OnText(t)
			}
		}

	case evToolStart:
		if p := pathArg(ev.Args); p != "" {
			h.mu.Lock()
			h.toolPaths[ev.ToolCallID] = p
			h.mu.Unlock()
		}

	case evToolEnd:
		h.mu.Lock()
		path, ok := h.toolPaths[ev.ToolCallID]
		delete(h.toolPaths, ev.ToolCallID)
		sess := h.session
		h.mu.Unlock()
		if !ok {
			path = pathArg(ev.Args)
		}
		h.emit(ctx, host.Event{
			Kind:    host.EventToolResult,
			Session: sess,
			At:      h.now(),
			Tool:    &host.ToolResult{ToolName: ev.ToolName, Path: path, IsError: ev.IsError},
		})

	case evAgentEnd:
		ended := h.now()
		h.mu.Lock()
		sess, started := h.session, h.turnStart
		h.turnStart = time.Time{}
		h.mu.Unlock()

		msgs := toMessages(ev.Messages)
		te := &host.TurnEnd{
			Messages:          msgs,
			LastAssistantText: host.LastAssistantText(msgs),
			StartedAt:         started,
			EndedAt:           ended,
		}
		st, err := h.getState(ctx)
		if err != nil {
			L_warn("rpc: failed to refresh session state", "error", err)
		}
		switched := err == nil && st.SessionID != sess.Key
		if err == nil && !switched {
			// same session; pick up a name the agent may have set this turn
			sess = h.sessionFrom(st)
			h.mu.Lock()
			h.session = sess
			h.mu.Unlock()
		}
		h.emit(ctx, host.Event{Kind: host.EventTurnEnd, Session: sess, At: ended, TurnEnd: te})
		if switched {
			h.switchTo(ctx, h.sessionFrom(st))
		}
	}
}

// emit runs the event handler. Handler errors are logged, never returned to
// the agent.
func (h *Host) emit(ctx context.Context, ev host.Event) {
	if h.opts.OnEvent == nil {
		return
	}
	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	if err := h.opts.OnEvent(ctx, ev); err != nil {
		L_warn("rpc: event handler failed", "event", ev.Kind, "error", err)
	}
}
