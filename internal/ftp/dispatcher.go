package ftp

import (
	"context"
	"strings"

	"github.com/fl1ckyexe/ftp-server/internal/logger"
)

// handler binds one FTP verb to its logic. execute runs only when the
// state machine allows the verb; notAllowed is the verb's own refusal
// reply otherwise.
type handler struct {
	name       string
	execute    func(ctx context.Context, s *Session, arg string) (Reply, error)
	notAllowed func() Reply
}

// Observer runs after every dispatched command. Observers must not
// influence the handler's control flow or reply.
type Observer func(verb string, code int)

// Dispatcher resolves command lines to handlers and runs the shared
// execution template around them.
type Dispatcher struct {
	handlers  map[string]*handler
	observers []Observer
}

func NewDispatcher() *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]*handler)}
	for _, h := range allHandlers() {
		d.handlers[h.name] = h
	}
	return d
}

// Register appends a post-dispatch observer.
func (d *Dispatcher) Register(o Observer) {
	d.observers = append(d.observers, o)
}

// Dispatch resolves the verb and runs the handler template: log the
// line (passwords redacted), snapshot the session, check the state
// machine, execute. A handler failure restores the snapshot and
// answers with a generic local error, leaving the session untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, line string) Reply {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return emptyCommand()
	}

	verb := line
	arg := ""
	if i := strings.IndexByte(line, ' '); i > 0 {
		verb = line[:i]
		arg = line[i+1:]
	}
	verb = strings.ToUpper(verb)

	h, ok := d.handlers[verb]
	if !ok {
		d.observe(verb, 502)
		return notImplemented()
	}

	reply := d.run(ctx, s, h, verb, line, arg)
	d.observe(verb, reply.Code)
	return reply
}

func (d *Dispatcher) run(ctx context.Context, s *Session, h *handler, verb, line, arg string) (reply Reply) {
	d.audit(s, line)

	snapshot := s.save()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("ftp: %s handler panic: %v", verb, r)
			s.restore(snapshot)
			reply = localError()
		}
	}()

	if !s.state.CanExecute(verb) {
		return h.notAllowed()
	}

	reply, err := h.execute(ctx, s, arg)
	if err != nil {
		logger.Error("ftp: %s failed: %v", verb, err)
		s.restore(snapshot)
		return localError()
	}
	return reply
}

func (d *Dispatcher) observe(verb string, code int) {
	for _, o := range d.observers {
		o(verb, code)
	}
}

// audit records the command line against the session's best-known
// identity. Passwords never reach the log.
func (d *Dispatcher) audit(s *Session, line string) {
	safe := strings.TrimSpace(line)
	if len(safe) >= 4 && strings.EqualFold(safe[:4], "PASS") {
		safe = "PASS ******"
	}

	who := "anonymous"
	switch {
	case s.username != "":
		who = s.username
	case s.pendingUsername != "":
		who = s.pendingUsername
	}

	if s.services.Logs != nil {
		s.services.Logs.Append(who + " >> " + safe)
	}
}
