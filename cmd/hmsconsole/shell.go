package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/auth"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/session"
)

// maxShellBody caps how much of a response body get prints.
const maxShellBody = 64 << 10

const shellHelp = `commands:
  login <username> [password]  log in (prompts for the password when omitted)
  whoami                       show the current identity
  verify                       re-check the identity with the backend
  get <path>                   GET a backend resource through the session
  state                        show session and renewal state
  logout                       end the session
  help                         show this help
  quit                         leave the shell`

// shell is the interactive front end of a console session.
type shell struct {
	mgr   *session.Manager
	in    io.Reader
	out   io.Writer
	lines <-chan string
}

func newShell(mgr *session.Manager, in io.Reader, out io.Writer) *shell {
	return &shell{mgr: mgr, in: in, out: out}
}

// run executes commands until quit, end of input or ctx cancellation.
func (s *shell) run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()
	s.lines = lines

	select {
	case <-s.mgr.Verified():
	case <-ctx.Done():
		return nil
	}
	s.whoami()

	for {
		fmt.Fprint(s.out, "hms> ")
		line, ok := s.next(ctx)
		if !ok {
			select {
			case err := <-scanErr:
				if err != nil {
					return fmt.Errorf("reading commands: %w", err)
				}
			default:
			}
			return nil
		}
		if quit := s.exec(ctx, line); quit {
			return nil
		}
	}
}

func (s *shell) next(ctx context.Context) (string, bool) {
	select {
	case line, ok := <-s.lines:
		return line, ok
	case <-ctx.Done():
		return "", false
	}
}

// exec runs one command line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch cmd, args := fields[0], fields[1:]; cmd {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(s.out, shellHelp)
	case "whoami":
		s.whoami()
	case "state":
		s.state()
	case "verify":
		if _, err := s.mgr.Verify(ctx); err != nil {
			s.fail(err)
			return false
		}
		s.whoami()
	case "login":
		s.login(ctx, args)
	case "logout":
		if err := s.mgr.Logout(ctx); err != nil {
			fmt.Fprintf(s.out, "logged out locally; server logout failed: %v\n", err)
			return false
		}
		fmt.Fprintln(s.out, "logged out")
	case "get":
		if len(args) != 1 {
			fmt.Fprintln(s.out, "usage: get <path>")
			return false
		}
		s.get(ctx, args[0])
	default:
		fmt.Fprintf(s.out, "unknown command %q (try help)\n", cmd)
	}
	return false
}

func (s *shell) login(ctx context.Context, args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(s.out, "usage: login <username> [password]")
		return
	}
	password := ""
	if len(args) == 2 {
		password = args[1]
	} else {
		fmt.Fprint(s.out, "password: ")
		line, ok := s.next(ctx)
		if !ok {
			return
		}
		password = line
	}

	if _, err := s.mgr.Login(ctx, args[0], password); err != nil {
		s.fail(err)
		return
	}
	s.whoami()
}

func (s *shell) get(ctx context.Context, path string) {
	client := s.mgr.Client()
	req, err := client.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		s.fail(err)
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		s.fail(err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxShellBody))
	if err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintf(s.out, "%s\n%s\n", resp.Status, strings.TrimSpace(string(body)))
}

func (s *shell) whoami() {
	ident, ok := s.mgr.Identity()
	if !ok {
		fmt.Fprintln(s.out, "not logged in")
		return
	}
	fmt.Fprintln(s.out, describeIdentity(ident))
}

func (s *shell) state() {
	coord := s.mgr.Coordinator()
	fmt.Fprintf(s.out, "state %s, renewal in flight %t, waiting %d, renewals %d\n",
		s.mgr.State(), coord.InFlight(), coord.Waiting(), coord.Renewals())
}

func (s *shell) fail(err error) {
	switch {
	case errors.Is(err, session.ErrInvalidCredential):
		fmt.Fprintln(s.out, "login rejected: wrong username or password")
	case errors.Is(err, session.ErrTransient):
		fmt.Fprintf(s.out, "backend unavailable, session kept: %v\n", err)
	case session.IsFatal(err):
		fmt.Fprintf(s.out, "session ended: %v\n", err)
	default:
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
}

func describeIdentity(ident *auth.Identity) string {
	name := ident.Name
	if name == "" {
		name = "user " + string(ident.ID)
	}
	out := fmt.Sprintf("%s (id %s, role %s", name, ident.ID, ident.Role)
	if tenant := ident.Tenant(); tenant != "" {
		out += ", tenant " + string(tenant)
	}
	return out + ")"
}
