package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"loom/cmd/internal/chat"
)

// console is a minimal interactive thread screen over stdin/stdout. It exists
// for manual testing against a live gateway; the synchronizer does not know
// it is driven by a terminal.
type console struct {
	log Logger
}

func newConsole(log Logger) *console {
	return &console{log: log}
}

// onChange is installed as the synchronizer's event hook; it runs on the
// synchronizer's goroutines, so it only prints.
func (c *console) onChange(ch chat.Change) {
	m := ch.Message
	switch ch.Kind {
	case chat.ChangeInsert:
		if m.TypingPlaceholder() {
			fmt.Println("  * agent is typing...")
			return
		}
		fmt.Printf("  %s\n", renderMessage(m))
	case chat.ChangeUpdate:
		fmt.Printf("  ~ %s\n", renderMessage(m))
	case chat.ChangeDelete:
		fmt.Printf("  - message %s removed\n", m.ID)
	}
}

// Run reads commands until /quit, EOF, or context cancellation.
//
//	/more            load the next older page
//	/img <path> [caption]   send an image attachment
//	/list            reprint the current view
//	/quit            exit
//
// Anything else is sent as a text message.
func (c *console) Run(ctx context.Context, sync *chat.Synchronizer) error {
	c.printHistory(sync)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := c.handle(ctx, sync, strings.TrimSpace(line))
			if err != nil {
				c.log.Error("console.command.fail", "err", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (c *console) handle(ctx context.Context, sync *chat.Synchronizer, line string) (quit bool, err error) {
	switch {
	case line == "":
		return false, nil

	case line == "/quit":
		return true, nil

	case line == "/list":
		c.printHistory(sync)
		return false, nil

	case line == "/more":
		n, err := sync.LoadMore(ctx)
		if err != nil {
			return false, err
		}
		if n == 0 && !sync.HasMore() {
			fmt.Println("  (no more history)")
		} else {
			fmt.Printf("  (loaded %d older messages)\n", n)
		}
		return false, nil

	case strings.HasPrefix(line, "/img "):
		return false, c.sendImage(ctx, sync, strings.TrimSpace(strings.TrimPrefix(line, "/img ")))

	case strings.HasPrefix(line, "/"):
		fmt.Printf("  unknown command %q (try /more, /img, /list, /quit)\n", line)
		return false, nil

	default:
		if _, err := sync.Send(ctx, line, chat.KindText); err != nil {
			// The failed placeholder stays visible; the user retypes to retry.
			fmt.Printf("  ! send failed: %v\n", err)
		}
		return false, nil
	}
}

func (c *console) sendImage(ctx context.Context, sync *chat.Synchronizer, args string) error {
	path, caption, _ := strings.Cut(args, " ")
	if path == "" {
		fmt.Println("  usage: /img <path> [caption]")
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	if _, err := sync.SendAttachment(ctx, chat.KindImage, filepath.Base(path), data, strings.TrimSpace(caption)); err != nil {
		fmt.Printf("  ! attachment failed: %v\n", err)
	}
	return nil
}

// printHistory renders the current snapshot oldest-first, the way a thread
// screen scrolls.
func (c *console) printHistory(sync *chat.Synchronizer) {
	msgs := sync.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		fmt.Printf("  %s\n", renderMessage(msgs[i]))
	}
	if sync.HasMore() {
		fmt.Println("  (type /more for older messages)")
	}
}

func renderMessage(m chat.Message) string {
	sender := m.SenderID
	if m.AgentSender {
		sender = "agent:" + sender
	}

	body := m.Content
	if m.Kind.Attachment() {
		if content, err := chat.DecodeContent(m.Kind, m.Content); err == nil {
			body = fmt.Sprintf("[%s] %s", m.Kind, content.URL)
			if content.Caption != "" {
				body += " " + content.Caption
			}
		}
	}

	return fmt.Sprintf("%s [%s] %s: %s",
		m.CreatedAt.Local().Format("15:04:05"), m.Status, sender, body)
}
