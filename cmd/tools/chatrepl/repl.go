package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/service/session"
)

var (
	promptStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	actionStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

type repl struct {
	sessions *session.Manager
	user     chat.User
	in       io.Reader
	out      io.Writer
	threadID string
	pending  []chat.Action
}

func newREPL(sessions *session.Manager, user chat.User, in io.Reader, out io.Writer) *repl {
	return &repl{sessions: sessions, user: user, in: in, out: out}
}

// Emit renders one utterance and remembers any actions it offers.
func (r *repl) Emit(_ context.Context, u chat.Utterance) error {
	if u.Content != "" {
		fmt.Fprintln(r.out, assistantStyle.Render(u.Content))
	}
	for _, action := range u.Actions {
		fmt.Fprintln(r.out, actionStyle.Render("["+action.Label+"]")+dimStyle.Render(" type /connect"))
	}
	if len(u.Actions) > 0 {
		r.pending = u.Actions
	}
	return nil
}

func (r *repl) run(ctx context.Context, threadID string) error {
	if threadID == "" {
		sess, err := r.sessions.Start(ctx, r.user, r)
		if err != nil {
			return err
		}
		r.threadID = sess.ThreadID
	} else {
		sess, err := r.sessions.Resume(ctx, r.user, threadID)
		if err != nil {
			return err
		}
		r.threadID = sess.ThreadID
		fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf("resumed with %d messages", len(sess.History))))
	}
	fmt.Fprintln(r.out, dimStyle.Render("thread "+r.threadID))

	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, promptStyle.Render("> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			r.printHistory()
			continue
		case "/connect":
			r.connect(ctx)
			continue
		}

		if err := r.sessions.HandleMessage(ctx, r.user, r.threadID, line, r); err != nil {
			fmt.Fprintln(r.out, errorStyle.Render("error: "+err.Error()))
		}
	}
}

func (r *repl) connect(ctx context.Context) {
	if len(r.pending) == 0 {
		fmt.Fprintln(r.out, dimStyle.Render("nothing to connect"))
		return
	}
	action := r.pending[0]
	r.pending = nil
	if err := r.sessions.HandleAction(ctx, r.user, r.threadID, action, r); err != nil {
		fmt.Fprintln(r.out, errorStyle.Render("error: "+err.Error()))
	}
}

func (r *repl) printHistory() {
	sess, ok := r.sessions.Get(r.threadID)
	if !ok {
		return
	}
	encoded, err := json.MarshalIndent(sess.History, "", "  ")
	if err != nil {
		fmt.Fprintln(r.out, errorStyle.Render("error: "+err.Error()))
		return
	}
	fmt.Fprintln(r.out, dimStyle.Render(string(encoded)))
}
