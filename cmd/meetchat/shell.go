package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/session"
)

// shell is the terminal front end. Every callback runs on the run loop through ui.
type shell struct {
	sess *session.Session
	in   io.Reader
	out  io.Writer
	ui   session.ChanDispatcher
}

func (sh *shell) run(ctx context.Context, meeting, user string) error {
	sh.ui = make(session.ChanDispatcher, 64)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sh.sess.Close(closeCtx)
	}()
	// Callbacks fired after the loop stops must not block on ui.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sh.sess.OnStatusChange(func(sc core.StatusChange) {
		_ = sh.ui.Dispatch(ctx, func() { sh.status(sc) })
	})
	sh.sess.OnMessage(sh.ui, func(m domain.InboundMessage) {
		fmt.Fprintf(sh.out, "%s: %s\n", m.SenderID, m.Body)
	})

	lines := make(chan string)
	go sh.readLines(ctx, lines)

	sh.join(ctx, meeting, user)
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-sh.ui:
			fn()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := sh.handle(ctx, line, user); quit {
				return nil
			}
		}
	}
}

func (sh *shell) readLines(ctx context.Context, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(sh.in)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
}

// handle runs one input line and reports whether the shell should exit.
func (sh *shell) handle(ctx context.Context, line, user string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "/quit":
		sh.leave(ctx)
		return true
	case line == "/leave":
		sh.leave(ctx)
	case strings.HasPrefix(line, "/join "):
		sh.join(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/join ")), user)
	case line == "/status":
		fmt.Fprintf(sh.out, "[%s] %s\n", sh.sess.State().Label(), sh.sess.Identity().MeetingID)
	default:
		if err := sh.sess.Send(ctx, line); err != nil {
			if errors.Is(err, core.ErrNotConnected) {
				fmt.Fprintln(sh.out, "! not connected, message not sent")
				return false
			}
			fmt.Fprintf(sh.out, "! send failed: %v\n", err)
		}
	}
	return false
}

func (sh *shell) join(ctx context.Context, meeting, user string) {
	if err := sh.sess.Join(ctx, meeting, user); err != nil {
		fmt.Fprintf(sh.out, "! join failed: %v\n", err)
	}
}

func (sh *shell) leave(ctx context.Context) {
	if err := sh.sess.Leave(ctx); err != nil {
		fmt.Fprintf(sh.out, "! leave: %v\n", err)
	}
}

func (sh *shell) status(sc core.StatusChange) {
	if sc.Err != nil {
		fmt.Fprintf(sh.out, "[%s] %v\n", sc.State.Label(), sc.Err)
		return
	}
	fmt.Fprintf(sh.out, "[%s]\n", sc.State.Label())
}
