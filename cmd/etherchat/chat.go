package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mossy-p/etherchat/config"
	"github.com/mossy-p/etherchat/internal/call"
	"github.com/mossy-p/etherchat/internal/client"
	"github.com/mossy-p/etherchat/internal/logging"
	"github.com/mossy-p/etherchat/internal/media"
	"github.com/mossy-p/etherchat/internal/models"
	"github.com/mossy-p/etherchat/internal/peer"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errQuit = errors.New("quit")

type chatFlags struct {
	server   string
	room     string
	codename string
	stun     []string
	mic      bool
	filter   string
	logLevel string
}

func newChatCmd() *cobra.Command {
	var f chatFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a room and chat",
		Long: `Join a room and chat. Lines are sent to the room; commands start with a slash.

Examples:
  etherchat chat --room lobby
  etherchat chat --server wss://relay.example/ws --room lobby --codename Ghost-7 --mic`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.server, "server", "", "signaling server URL (ws:// or wss://)")
	cmd.Flags().StringVar(&f.room, "room", "", "room to join")
	cmd.Flags().StringVar(&f.codename, "codename", "", "handle shown to the room (random when empty)")
	cmd.Flags().StringSliceVar(&f.stun, "stun", nil, "STUN server URLs")
	cmd.Flags().BoolVar(&f.mic, "mic", false, "send audio in calls (a silent test source)")
	cmd.Flags().StringVar(&f.filter, "filter", string(media.FilterNone), "voice filter: none, low-pitch, robot (selects the masking graph; this build sends audio unchanged)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "warn", "log level")
	return cmd
}

func runChat(cmd *cobra.Command, f chatFlags) error {
	cfg, err := config.LoadClient(config.ClientOptions{
		ServerURL:   f.server,
		STUNServers: f.stun,
		Codename:    f.codename,
		Room:        f.room,
	})
	if err != nil {
		return err
	}
	if cfg.Room == "" {
		return errors.New("a room is required (--room or ETHERCHAT_ROOM)")
	}
	filter, err := media.ParseFilter(f.filter)
	if err != nil {
		return err
	}

	logger := logging.Init(cmd.ErrOrStderr(), f.logLevel)
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := client.Dial(ctx, cfg.ServerURL, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	capture := media.NewCapture(media.SilenceDevice{}, media.Passthrough{}, logger)
	c := client.New(conn, client.Options{
		Codename: cfg.Codename,
		Factory:  peer.PionFactory{STUNServers: cfg.STUNServers, Logger: logger},
		Capture:  capture,
		Logger:   logger,
	})
	defer c.DisableMic()

	if f.mic {
		if err := c.EnableMic(ctx, filter); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(ctx) })
	g.Go(func() error {
		printNotices(ctx, out, c.Notices())
		return nil
	})

	lines := readLines(cmd.InOrStdin())
	g.Go(func() error {
		if err := c.Join(ctx, cfg.Room); err != nil {
			return err
		}
		fmt.Fprintf(out, "* joined %s as %s. Type /help for commands.\n", cfg.Room, c.Codename())
		return prompt(ctx, c, lines, out)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// readLines feeds stdin into a channel. The goroutine ends with the input.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func prompt(ctx context.Context, c *client.Client, lines <-chan string, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := command(ctx, c, strings.TrimSpace(line), out); err != nil {
				if errors.Is(err, errQuit) || errors.Is(err, client.ErrNotConnected) {
					return err
				}
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}

func command(ctx context.Context, c *client.Client, line string, out io.Writer) error {
	if !strings.HasPrefix(line, "/") {
		return c.Send(ctx, line)
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "quit", "exit":
		return errQuit
	case "help":
		fmt.Fprintln(out, "  /users               list room members")
		fmt.Fprintln(out, "  /call <codename|id>  start a voice call")
		fmt.Fprintln(out, "  /accept  /reject     answer an incoming call")
		fmt.Fprintln(out, "  /end                 hang up")
		fmt.Fprintln(out, "  /mic on [filter]|off toggle the microphone")
		fmt.Fprintln(out, "  /filter <name>       none, low-pitch or robot (audio unchanged in this build)")
		fmt.Fprintln(out, "  /quit                leave")
		return nil
	case "users":
		s, err := c.Snapshot(ctx)
		if err != nil {
			return err
		}
		for _, u := range s.Users {
			marker := " "
			if u.ID == s.ID {
				marker = "*"
			}
			fmt.Fprintf(out, " %s %s (%s)\n", marker, u.Codename, u.ID)
		}
		if s.State != call.Idle {
			fmt.Fprintf(out, "  call: %s with %s\n", s.State, s.Peer)
		}
		return nil
	case "call":
		s, err := c.Snapshot(ctx)
		if err != nil {
			return err
		}
		target, err := resolve(s.Users, arg)
		if err != nil {
			return err
		}
		return c.Call(ctx, target)
	case "accept":
		return c.Accept(ctx)
	case "reject":
		return c.Reject(ctx)
	case "end":
		return c.End(ctx)
	case "mic":
		state, rest, _ := strings.Cut(arg, " ")
		switch state {
		case "on":
			filter, err := media.ParseFilter(strings.TrimSpace(rest))
			if err != nil {
				return err
			}
			return c.EnableMic(ctx, filter)
		case "off":
			c.DisableMic()
			return nil
		}
		return errors.New("usage: /mic on [filter] | /mic off")
	case "filter":
		filter, err := media.ParseFilter(arg)
		if err != nil {
			return err
		}
		return c.SetFilter(filter)
	default:
		return fmt.Errorf("unknown command /%s", name)
	}
}

// resolve maps a codename or connection id to a member id.
func resolve(users []models.Member, who string) (string, error) {
	if who == "" {
		return "", errors.New("usage: /call <codename|id>")
	}
	for _, u := range users {
		if u.ID == who || strings.EqualFold(u.Codename, who) {
			return u.ID, nil
		}
	}
	return "", fmt.Errorf("no one called %q in this room", who)
}

func printNotices(ctx context.Context, out io.Writer, notices <-chan client.Notice) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-notices:
			who := n.Codename
			if who == "" {
				who = n.Peer
			}
			switch n.Kind {
			case client.NoticeIncomingCall:
				fmt.Fprintf(out, "* incoming call from %s (/accept or /reject)\n", who)
			case client.NoticeCallAccepted:
				fmt.Fprintln(out, "* call accepted, negotiating audio")
			case client.NoticeCallRejected:
				fmt.Fprintln(out, "* call rejected")
			case client.NoticeCallEnded:
				fmt.Fprintln(out, "* call ended")
			case client.NoticeMediaConnected:
				fmt.Fprintln(out, "* audio connected")
			case client.NoticeTranscript:
				printLine(out, n.Line)
			}
		}
	}
}

func printLine(out io.Writer, m models.Message) {
	at := time.UnixMilli(m.Timestamp).Format("15:04")
	if m.Kind == models.MessageKindSystem {
		fmt.Fprintf(out, "[%s] * %s\n", at, m.Content)
		return
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", at, m.Codename, m.Content)
}
