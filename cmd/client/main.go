// Command client is a line-oriented terminal client for the chat server.
//
// It joins CHAT_ROOM as CHAT_NAME on connect, prints room events as they
// arrive, and reads commands from stdin:
//
//	/rooms                list rooms
//	/members [room]       list members of the current or a named room
//	/join <room> <name>   move to another room
//	/leave                leave and quit
//
// Any other line is sent as a message.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/nexus-rooms/internal/protocol"
)

// Config is read from CHAT_* variables.
type Config struct {
	URL    string `envconfig:"URL" default:"ws://127.0.0.1:9000/ws"`
	Origin string `envconfig:"ORIGIN" default:"http://localhost"`
	Name   string `envconfig:"NAME" default:"guest"`
	Room   string `envconfig:"ROOM" default:"lobby"`
	// CHAT_COLOR disables colored output when false
	Color bool `envconfig:"COLOR" default:"true"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := envconfig.Process("CHAT", &cfg); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if len(os.Args) > 1 {
		cfg.URL = os.Args[1]
	}

	ui := newUI(os.Stdout, cfg.Color)
	ui.info("Connecting to %s ...", cfg.URL)

	header := http.Header{}
	header.Set("Origin", cfg.Origin)
	conn, resp, err := websocket.DefaultDialer.Dial(cfg.URL, header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	defer func() { _ = conn.Close() }()

	if err := send(conn, protocol.JoinRequest{Room: cfg.Room, Name: cfg.Name}); err != nil {
		return err
	}
	ui.info("Joined [%s] as %s. Type /rooms, /members, /join <room> <name> or /leave.", cfg.Room, cfg.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return receive(conn, ui)
	})
	g.Go(func() error {
		return prompt(gctx, conn, ui)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		return conn.Close()
	})

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errQuit = errors.New("quit")

// receive prints server events until the connection closes.
func receive(conn *websocket.Conn, ui *ui) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ui.info("Server closed the connection.")
				return errQuit
			}
			return err
		}

		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			ui.warn("Unreadable event: %v", err)
			continue
		}
		ui.render(ev)
	}
}

// prompt turns stdin lines into requests. Stdin is read on its own goroutine
// so cancellation does not wait for the next line.
func prompt(ctx context.Context, conn *websocket.Conn, ui *ui) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			req, err := parseCommand(line)
			if errors.Is(err, errEmpty) {
				continue
			}
			if err != nil {
				ui.warn("%v", err)
				continue
			}
			if err := send(conn, req); err != nil {
				return err
			}
			if _, ok := req.(protocol.LeaveRequest); ok {
				ui.info("You left the room.")
			}
		}
	}
}

func send(conn *websocket.Conn, r protocol.Request) error {
	frame, err := protocol.MarshalRequest(r)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}
