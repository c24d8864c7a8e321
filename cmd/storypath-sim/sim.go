package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/storypath/engine/internal/geofence"
	"github.com/storypath/engine/internal/session"
	"github.com/storypath/engine/internal/storypath"
	"github.com/storypath/engine/internal/unlock"
)

var errUsage = errors.New("usage")

type sim struct {
	sessions *session.Manager
	sess     *session.Session
	out      io.Writer

	green  *color.Color
	cyan   *color.Color
	yellow *color.Color
	red    *color.Color
}

func newSim(sessions *session.Manager, out io.Writer) *sim {
	return &sim{
		sessions: sessions,
		out:      out,
		green:    color.New(color.FgGreen),
		cyan:     color.New(color.FgCyan),
		yellow:   color.New(color.FgYellow),
		red:      color.New(color.FgRed),
	}
}

// runScript executes one command per line. Blank lines and lines
// starting with # are skipped. A failing command is reported and the
// script continues.
func (s *sim) runScript(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s.cyan.Fprintf(s.out, "> %s\n", line)
		err := s.exec(ctx, line)
		switch {
		case err == nil:
		case isRetryable(err):
			s.red.Fprintf(s.out, "  error: %v (retry later)\n", err)
		default:
			s.red.Fprintf(s.out, "  error: %v\n", err)
		}
	}
	return sc.Err()
}

func (s *sim) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	if cmd == "login" {
		return s.login(args)
	}
	if cmd == "help" {
		s.help()
		return nil
	}
	if s.sess == nil {
		return session.ErrNoSession
	}

	switch cmd {
	case "enter":
		return s.enter(ctx, args)
	case "pos":
		return s.position(ctx, args)
	case "scan":
		if len(args) == 0 {
			return fmt.Errorf("%w: scan <payload>", errUsage)
		}
		out, err := s.sess.Controller.HandleScan(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		s.outcome(out)
	case "ack":
		if err := s.sess.Controller.Acknowledge(); err != nil {
			return err
		}
		s.status()
	case "refresh":
		if err := s.sess.Store.Refresh(ctx); err != nil {
			return err
		}
		s.progress()
	case "status":
		s.status()
		s.progress()
	case "overview":
		return s.overview(ctx)
	case "leave":
		s.sess.Controller.Leave()
		s.status()
	case "logout":
		err := s.sessions.Logout(s.sess.Token)
		s.sess = nil
		return err
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (s *sim) login(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: login <username>", errUsage)
	}
	if s.sess != nil {
		s.sessions.Logout(s.sess.Token)
	}
	sess, err := s.sessions.Login(args[0])
	if err != nil {
		return err
	}
	s.sess = sess
	s.green.Fprintf(s.out, "  logged in as %s\n", sess.Username)
	return nil
}

// enter <project id> [nogps] [nocamera]
func (s *sim) enter(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: enter <project id> [nogps] [nocamera]", errUsage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: project id %q", errUsage, args[0])
	}
	perms := unlock.Permissions{Location: true, Camera: true}
	for _, a := range args[1:] {
		switch a {
		case "nogps":
			perms.Location = false
		case "nocamera":
			perms.Camera = false
		}
	}
	if err := s.sess.Enter(ctx, id, perms); err != nil {
		return err
	}
	s.status()
	s.progress()
	return nil
}

func (s *sim) position(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: pos <lat> <lng>", errUsage)
	}
	c, err := geofence.ParseCoordinate(args[0] + "," + args[1])
	if err != nil {
		return err
	}
	out, err := s.sess.Controller.HandlePosition(ctx, c)
	if err != nil {
		return err
	}
	s.outcome(out)
	return nil
}

func (s *sim) outcome(out unlock.Outcome) {
	name := ""
	if out.Location != nil {
		name = out.Location.Name
	}
	switch out.Kind {
	case unlock.Unlocked:
		s.green.Fprintf(s.out, "  unlocked %s (+%d points, total %d)\n", name, out.Points, s.sess.Store.Points())
	case unlock.AlreadyVisited:
		s.yellow.Fprintf(s.out, "  already visited %s, ack to continue\n", name)
	case unlock.Discarded:
		s.yellow.Fprintf(s.out, "  %s was already recorded\n", name)
	default:
		fmt.Fprintf(s.out, "  %s\n", out.Kind)
	}
}

func (s *sim) status() {
	st := s.sess.Controller.Status()
	fmt.Fprintf(s.out, "  state=%s project=%d gps=%s qr=%s armed=%v\n",
		st.State, st.ProjectID, st.GPS, st.QR, st.Armed)
}

func (s *sim) progress() {
	snap := s.sess.Store.Snapshot()
	fmt.Fprintf(s.out, "  points=%d visited=%v\n", snap.Points, snap.VisitedIDs)
	if snap.Current != nil {
		fmt.Fprintf(s.out, "  current=%s\n", snap.Current.Name)
	}
}

func (s *sim) overview(ctx context.Context) error {
	ov, err := s.sess.Overview(ctx)
	if err != nil {
		return err
	}
	s.cyan.Fprintf(s.out, "  %s\n", ov.Title)
	if ov.InitialClue != "" {
		fmt.Fprintf(s.out, "  clue: %s\n", ov.InitialClue)
	}
	fmt.Fprintf(s.out, "  points %d/%d, visited %d/%d, %d participants\n",
		ov.Points, ov.MaxPoints, ov.VisitedCount, ov.TotalLocations, ov.ProjectParticipants)
	for _, h := range ov.History {
		fmt.Fprintf(s.out, "  - %s (%d visitors)\n", h.Location.Name, h.ParticipantCount)
	}
	return nil
}

func (s *sim) help() {
	fmt.Fprint(s.out, `  login <username>
  enter <project id> [nogps] [nocamera]
  pos <lat> <lng>
  scan <payload>
  ack | refresh | status | overview | leave | logout
`)
}

// isRetryable reports whether a failed command may succeed when repeated.
func isRetryable(err error) bool {
	return errors.Is(err, storypath.ErrRemoteUnavailable)
}
