package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/omochice/toy-messenger/internal/client"
	"github.com/omochice/toy-messenger/pkg/protocol"
)

const helpText = `Commands:
  /add NAME       add a contact
  /del NAME       remove a contact
  /contacts       list contacts
  /history NAME   show the conversation with NAME
  /to NAME        chat with NAME
  /quit           exit
Any other line is sent to the current chat.
`

var errNoChat = errors.New("no chat selected, use /to NAME")

// history is the part of the store the shell reads directly.
type history interface {
	History(peer string) ([]protocol.ChatRecord, error)
	Contacts() ([]string, error)
	ContactExists(name string) (bool, error)
}

// console prints to the terminal and receives transport notifications.
type console struct {
	mu    sync.Mutex
	out   io.Writer
	store history
	lost  chan struct{}
	once  sync.Once
}

func newConsole(out io.Writer, store history) *console {
	return &console{out: out, store: store, lost: make(chan struct{})}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) OnNewMessage(sender string) {
	records, err := c.store.History(sender)
	if err != nil || len(records) == 0 {
		c.printf("new message from %s\n", sender)
		return
	}
	last := records[len(records)-1]
	c.printf("[%s]: %s\n", sender, last.Text)

	if known, err := c.store.ContactExists(sender); err == nil && !known {
		c.printf("%s is not in your contacts, use /add %s to keep them\n", sender, sender)
	}
}

func (c *console) OnConnectionLost() {
	c.once.Do(func() { close(c.lost) })
}

// shell turns input lines into transport calls.
type shell struct {
	tr    *client.Transport
	store history
	ui    *console
	chat  string
}

func (s *shell) handle(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, s.send(ctx, line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		s.ui.printf("%s", helpText)
	case "/add":
		if err := s.tr.AddContact(ctx, arg); err != nil {
			return false, err
		}
		s.ui.printf("added %s\n", arg)
	case "/del":
		if err := s.tr.RemoveContact(ctx, arg); err != nil {
			return false, err
		}
		if s.chat == arg {
			s.chat = ""
		}
		s.ui.printf("removed %s\n", arg)
	case "/contacts":
		names, err := s.store.Contacts()
		if err != nil {
			return false, err
		}
		if len(names) == 0 {
			s.ui.printf("no contacts\n")
		}
		for _, name := range names {
			s.ui.printf("  %s\n", name)
		}
	case "/history":
		if arg == "" {
			arg = s.chat
		}
		return false, s.history(arg)
	case "/to":
		ok, err := s.store.ContactExists(arg)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("%q is not a contact", arg)
		}
		s.chat = arg
		s.ui.printf("chatting with %s\n", arg)
		return false, s.history(arg)
	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return false, nil
}

func (s *shell) send(ctx context.Context, text string) error {
	if s.chat == "" {
		return errNoChat
	}
	return s.tr.SendChatMessage(ctx, s.chat, text)
}

func (s *shell) history(peer string) error {
	if peer == "" {
		return errNoChat
	}
	records, err := s.store.History(peer)
	if err != nil {
		return err
	}
	for _, r := range records {
		who := peer
		if r.Direction == protocol.DirectionOut {
			who = "me"
		}
		s.ui.printf("%s [%s]: %s\n", r.Timestamp.Local().Format("15:04"), who, r.Text)
	}
	return nil
}
