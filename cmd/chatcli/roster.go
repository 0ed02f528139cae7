package main

import (
	"sort"
	"strings"
	"sync"

	"github.com/starapp/chat-server/internal/session"
)

// roster mirrors the last presence_list so /pm can address peers by name.
type roster struct {
	mu     sync.Mutex
	byName map[string]string
}

func newRoster() *roster {
	return &roster{byName: make(map[string]string)}
}

func (r *roster) update(sessions []session.Session) {
	byName := make(map[string]string, len(sessions))
	for _, s := range sessions {
		byName[s.DisplayName] = s.ID
	}
	r.mu.Lock()
	r.byName = byName
	r.mu.Unlock()
}

func (r *roster) idOf(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	return id, ok
}

func (r *roster) names() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// command is one parsed input line. Lines without a leading slash become
// "say" with the whole line as text.
type command struct {
	name string
	arg  string
	text string
}

// commands whose first word is an argument rather than text.
var withArg = map[string]bool{"pm": true, "reply": true, "react": true, "del": true, "typing": true}

func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}
	}
	if !strings.HasPrefix(line, "/") {
		return command{name: "say", text: line}
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	cmd := command{name: strings.ToLower(name)}
	rest = strings.TrimSpace(rest)
	if withArg[cmd.name] {
		arg, text, _ := strings.Cut(rest, " ")
		cmd.arg = arg
		cmd.text = strings.TrimSpace(text)
	} else {
		cmd.text = rest
	}
	return cmd
}
