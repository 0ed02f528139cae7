// Command chatcli is a terminal client for the chat server. Plain lines go to
// the global room; commands start with a slash, see /help.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/starapp/chat-server/internal/chat"
	"github.com/starapp/chat-server/internal/client"
	"github.com/starapp/chat-server/internal/e2e"
	"github.com/starapp/chat-server/internal/protocol"
)

const helpMsg = `commands:
  <text>                 send to everyone
  /pm <name> <text>      send an encrypted private message
  /reply <id> <text>     reply to a global message
  /react <id> <emoji>    react to a global message
  /del <id>              delete one of your messages
  /typing on|off         toggle the global typing indicator
  /who                   list online users
  /ping                  round trip to the server
  /quit                  leave`

func main() {
	url := flag.String("url", "ws://localhost:5000/ws", "server WebSocket URL")
	name := flag.String("name", "", "display name")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "chatcli: -name is required")
		os.Exit(2)
	}
	if err := run(*url, *name); err != nil {
		fmt.Fprintln(os.Stderr, "chatcli:", err)
		os.Exit(1)
	}
}

func run(url, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.WaitForSession(ctx); err != nil {
		return err
	}

	r := newRoster()
	v := &view{name: name, roster: r}
	v.attach(c)

	if err := c.Join(name); err != nil {
		return err
	}
	fmt.Println(helpMsg)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-c.Done():
			if err := c.Err(); err != nil {
				return fmt.Errorf("disconnected: %w", err)
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(c, r, name, parseCommand(line))
			if err != nil {
				fmt.Println("!", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func execute(c *client.Client, r *roster, me string, cmd command) (bool, error) {
	switch cmd.name {
	case "":
		return false, nil
	case "say":
		return false, c.SendGlobal(chat.PlainText{Text: cmd.text}, nil)
	case "quit":
		return true, nil
	case "help":
		fmt.Println(helpMsg)
	case "who":
		for _, n := range r.names() {
			fmt.Println(" ", n)
		}
	case "ping":
		return false, c.Ping()
	case "typing":
		return false, c.SetTyping("", cmd.arg == "on")
	case "pm":
		peerID, ok := r.idOf(cmd.arg)
		if !ok {
			return false, fmt.Errorf("%s is not online", cmd.arg)
		}
		blob, err := e2e.Seal(e2e.PairKey(me, cmd.arg), cmd.text)
		if err != nil {
			return false, err
		}
		return false, c.SendPrivate(peerID, chat.EncryptedBlob{Ciphertext: blob}, nil)
	case "reply", "react", "del":
		id, err := strconv.ParseUint(cmd.arg, 10, 64)
		if err != nil {
			return false, fmt.Errorf("bad message id %q", cmd.arg)
		}
		switch cmd.name {
		case "reply":
			return false, c.SendGlobal(chat.PlainText{Text: cmd.text}, &chat.ReplyRef{MessageID: chat.MessageID(id)})
		case "react":
			return false, c.React(chat.MessageID(id), cmd.text, "")
		default:
			return false, c.Delete(chat.MessageID(id))
		}
	default:
		return false, fmt.Errorf("unknown command /%s, try /help", cmd.name)
	}
	return false, nil
}

// view prints server events.
type view struct {
	name   string
	roster *roster
}

func (v *view) attach(c *client.Client) {
	c.On(protocol.TypePresenceList, func(msg interface{}) {
		v.roster.update(msg.(chat.PresencePayload).Sessions)
	})
	c.On(protocol.TypeGlobalMessage, func(msg interface{}) {
		fmt.Println(formatMessage(msg.(chat.MessagePayload).Message))
	})
	c.On(protocol.TypePrivateMessage, func(msg interface{}) {
		m := msg.(chat.MessagePayload).Message
		text := chat.Preview(m.Body)
		if blob, ok := m.Body.(chat.EncryptedBlob); ok {
			text = e2e.OpenOrPlaceholder(e2e.PairKey(v.name, m.SenderName), blob.Ciphertext)
		}
		fmt.Printf("[%d] (pm) %s: %s\n", m.ID, m.SenderName, text)
	})
	c.On(protocol.TypeTypingGlobalList, func(msg interface{}) {
		if names := msg.(chat.TypingListPayload).Names; len(names) > 0 {
			fmt.Printf("... %s typing\n", strings.Join(names, ", "))
		}
	})
	c.On(protocol.TypeReactionUpdateGlobal, func(msg interface{}) {
		p := msg.(chat.GlobalReactionPayload)
		var parts []string
		for emoji, ids := range p.Reactions {
			parts = append(parts, fmt.Sprintf("%s x%d", emoji, len(ids)))
		}
		fmt.Printf("[%d] reactions: %s\n", p.MessageID, strings.Join(parts, " "))
	})
	c.On(protocol.TypeMessageRemoved, func(msg interface{}) {
		fmt.Printf("[%d] removed\n", msg.(chat.RemovedPayload).MessageID)
	})
	c.On(protocol.TypeRateLimited, func(msg interface{}) {
		fmt.Printf("! slow down, retry in %ds\n", msg.(protocol.RateLimitedMsg).RetryAfter)
	})
	c.On(protocol.TypeError, func(msg interface{}) {
		e := msg.(protocol.ErrorMsg)
		fmt.Printf("! %s: %s\n", e.Code, e.Message)
	})
	c.On(protocol.TypePong, func(interface{}) { fmt.Println("pong") })
}

func formatMessage(m chat.Message) string {
	if m.Kind == chat.KindSystem {
		return fmt.Sprintf("* %s", chat.Preview(m.Body))
	}
	line := fmt.Sprintf("[%d] %s: %s", m.ID, m.SenderName, chat.Preview(m.Body))
	if m.ReplyTo != nil {
		line += fmt.Sprintf("  (re %s: %q)", m.ReplyTo.SenderName, chat.Preview(m.ReplyTo.Body))
	}
	return line
}
