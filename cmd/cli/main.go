// Command talko is a terminal client for the talko chat server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `talko CLI
Usage:
  talko [-addr URL] <cmd> [args]

Commands:
  version
  register   -u <username> -p <password>    (saves token)
  login      -u <username> -p <password>    (saves token)
  me
  users
  history                                   (messages to everyone)
  dm         -with <userId>                 (conversation with one user)
  send       [-to <userId>] (-text <t> | -file <path|->)
  typing     -to <userId> [-stop]            (one-shot connection; if you are not otherwise
                                             connected, others see you join and leave)
  listen                                    (prints live frames until Ctrl-C; stdin lines:
                                             /typing <id>, /stop <id>, /dm <id> <text>, <text>)
`)
	os.Exit(2)
}

func main() {
	addr := flag.String("addr", envOr("TALKO_ADDR", "http://localhost:8080"), "server base URL")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *addr, flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		fail(err)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func run(ctx context.Context, addr, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "version":
		fmt.Fprintf(out, "talko %s (%s)\n", version, buildDate)
		return nil
	case "register", "login":
		return authCmd(ctx, addr, cmd, args, out)
	}

	tf, err := loadToken()
	if err != nil {
		return err
	}
	c := newClient(addr, tf.AccessToken)

	switch cmd {
	case "me":
		u, err := c.me(ctx)
		if err != nil {
			return err
		}
		printJSON(out, u)

	case "users":
		us, err := c.users(ctx)
		if err != nil {
			return err
		}
		printJSON(out, us)

	case "history":
		ms, err := c.history(ctx)
		if err != nil {
			return err
		}
		printJSON(out, ms)

	case "dm":
		fs := flag.NewFlagSet("dm", flag.ContinueOnError)
		with := fs.String("with", "", "other user id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *with == "" {
			return fmt.Errorf("need -with")
		}
		ms, err := c.conversation(ctx, *with)
		if err != nil {
			return err
		}
		printJSON(out, ms)

	case "send":
		fs := flag.NewFlagSet("send", flag.ContinueOnError)
		to := fs.String("to", "", "recipient user id (empty sends to everyone)")
		text := fs.String("text", "", "message text")
		file := fs.String("file", "", "read text from file, - for stdin")
		if err := fs.Parse(args); err != nil {
			return err
		}
		body := *text
		if *file != "" {
			b, err := readAll(*file)
			if err != nil {
				return err
			}
			body = strings.TrimRight(string(b), "\n")
		}
		m, err := c.send(ctx, body, *to)
		if err != nil {
			return err
		}
		printJSON(out, m)

	case "typing":
		fs := flag.NewFlagSet("typing", flag.ContinueOnError)
		to := fs.String("to", "", "user id")
		stopped := fs.Bool("stop", false, "send stop_typing")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *to == "" {
			return fmt.Errorf("need -to")
		}
		return typing(ctx, addr, tf.AccessToken, *to, *stopped)

	case "listen":
		return listen(ctx, addr, tf.AccessToken, os.Stdin, out)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func authCmd(ctx context.Context, addr, cmd string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *u == "" || *p == "" {
		return fmt.Errorf("need -u and -p")
	}

	c := newClient(addr, "")
	call := c.login
	if cmd == "register" {
		call = c.register
	}
	res, err := call(ctx, *u, *p)
	if err != nil {
		return err
	}

	exp := res.ExpiresAt
	if exp.IsZero() {
		exp = tokenExpiry(res.Token, time.Now().Add(24*time.Hour))
	}
	if err := saveToken(tokenFile{AccessToken: res.Token, UserID: res.User.ID, Username: res.User.Username, ExpiresAt: exp}); err != nil {
		return err
	}
	fmt.Fprintln(out, res.User.ID)
	return nil
}

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
