package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"github.com/Tyrowin/nexus-rooms/internal/protocol"
)

var errEmpty = errors.New("empty line")

// parseCommand maps one input line to a request.
func parseCommand(line string) (protocol.Request, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, errEmpty
	}
	if !strings.HasPrefix(line, "/") {
		return protocol.MessageRequest{Text: line}, nil
	}

	fields := strings.Fields(line)
	switch {
	case fields[0] == "/rooms" && len(fields) == 1:
		return protocol.RoomListRequest{}, nil
	case fields[0] == "/members" && len(fields) <= 2:
		if len(fields) == 2 {
			return protocol.MembersRequest{Room: fields[1]}, nil
		}
		return protocol.MembersRequest{}, nil
	case fields[0] == "/join" && len(fields) == 3:
		return protocol.JoinRequest{Room: fields[1], Name: fields[2]}, nil
	case fields[0] == "/leave" && len(fields) == 1:
		return protocol.LeaveRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown command %q, use /rooms, /members [room], /join <room> <name> or /leave", line)
	}
}

type ui struct {
	out     io.Writer
	colored bool
}

func newUI(out io.Writer, colored bool) *ui {
	return &ui{out: out, colored: colored}
}

func (u *ui) paint(style color.Style, s string) string {
	if !u.colored {
		return s
	}
	return style.Render(s)
}

func (u *ui) info(format string, args ...any) {
	_, _ = fmt.Fprintln(u.out, u.paint(color.New(color.FgGray), fmt.Sprintf(format, args...)))
}

func (u *ui) warn(format string, args ...any) {
	_, _ = fmt.Fprintln(u.out, u.paint(color.New(color.FgRed), fmt.Sprintf(format, args...)))
}

// render prints one server event.
func (u *ui) render(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.NewMessage:
		u.message(e)
	case protocol.HistoryBatch:
		if len(e.Messages) > 0 {
			u.info("--- last %d messages in [%s] ---", len(e.Messages), e.Room)
		}
		for _, m := range e.Messages {
			u.message(m)
		}
	case protocol.UserJoined:
		u.info("%s joined [%s]", e.Name, e.Room)
	case protocol.UserLeft:
		u.info("%s left [%s]", e.Name, e.Room)
	case protocol.RoomList:
		u.table([]string{"Room"}, lines(e.Rooms))
	case protocol.MemberList:
		u.info("Members of [%s]:", e.Room)
		u.table([]string{"Name"}, lines(e.Members))
	case protocol.ErrorEvent:
		u.warn("error: %s", e.Reason)
	}
}

func (u *ui) message(m protocol.NewMessage) {
	at := time.UnixMilli(m.TS).Format("15:04:05")
	name := u.paint(color.New(color.FgGreen, color.OpBold), m.Name)
	_, _ = fmt.Fprintf(u.out, "%s %s: %s\n", u.paint(color.New(color.FgGray), at), name, m.Text)
}

func (u *ui) table(header []string, rows [][]string) {
	if len(rows) == 0 {
		u.info("(none)")
		return
	}
	table := tablewriter.NewWriter(u.out)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.AppendBulk(rows)
	table.Render()
}

func lines(values []string) [][]string {
	rows := make([][]string, len(values))
	for i, v := range values {
		rows[i] = []string{v}
	}
	return rows
}
