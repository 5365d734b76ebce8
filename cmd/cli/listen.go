package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// wsURL maps http(s)://host to ws(s)://host/ws.
func wsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// dialWS connects and sends the auth frame.
func dialWS(ctx context.Context, base, token string) (*websocket.Conn, error) {
	target, err := wsURL(base)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	auth, _ := json.Marshal(map[string]string{"type": "auth", "token": token})
	if err := conn.WriteMessage(websocket.TextMessage, auth); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

type event struct {
	Type       string   `json:"type"`
	Users      []user   `json:"users"`
	Message    *message `json:"message"`
	FromUserID string   `json:"fromUserId"`
}

// formatEvent renders one server frame as a line of text.
func formatEvent(e event) string {
	switch e.Type {
	case "online_users":
		names := make([]string, 0, len(e.Users))
		for _, u := range e.Users {
			names = append(names, u.Username)
		}
		return "online: " + strings.Join(names, ", ")
	case "message":
		if e.Message == nil {
			return "message: <empty>"
		}
		from := e.Message.SenderID
		if e.Message.Sender != nil {
			from = e.Message.Sender.Username
		}
		scope := "all"
		if e.Message.RecipientID != nil {
			scope = "dm"
		}
		return fmt.Sprintf("[%s] %s (%s): %s", e.Message.Timestamp.Local().Format(time.TimeOnly), from, scope, e.Message.Text)
	case "typing":
		return e.FromUserID + " is typing"
	case "stop_typing":
		return e.FromUserID + " stopped typing"
	default:
		return "unknown frame " + e.Type
	}
}

// inputFrame turns one stdin line of the listen session into a client frame.
//
//	/typing <userId>      typing signal
//	/stop <userId>        stop_typing signal
//	/dm <userId> <text>   direct message
//	anything else         message to everyone
func inputFrame(line string) (map[string]string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}
	if !strings.HasPrefix(line, "/") {
		return map[string]string{"type": "message", "text": line}, true
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/typing", "/stop":
		if rest == "" {
			return nil, false
		}
		typ := "typing"
		if cmd == "/stop" {
			typ = "stop_typing"
		}
		return map[string]string{"type": typ, "toUserId": rest}, true
	case "/dm":
		to, text, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(text) == "" {
			return nil, false
		}
		return map[string]string{"type": "message", "recipientId": to, "text": strings.TrimSpace(text)}, true
	}
	return nil, false
}

// listen prints frames until the server closes the socket or ctx ends.
// Lines read from in are sent over the same connection (see inputFrame), so
// typing signals do not open extra connections that would flip presence.
func listen(ctx context.Context, base, token string, in io.Reader, w io.Writer) error {
	conn, err := dialWS(ctx, base, token)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	if in != nil {
		go func() {
			sc := bufio.NewScanner(in)
			for sc.Scan() {
				f, ok := inputFrame(sc.Text())
				if !ok {
					fmt.Fprintln(os.Stderr, "ignored input:", sc.Text())
					continue
				}
				b, _ := json.Marshal(f)
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return fmt.Errorf("closed by server: %d %s", ce.Code, ce.Text)
			}
			return err
		}
		var e event
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		fmt.Fprintln(w, formatEvent(e))
	}
}

// typing sends a single typing or stop_typing frame to one user over a
// short-lived connection. If the user has no other connection open, the
// server announces them online and then offline around it; use /typing
// inside listen for repeated signals.
func typing(ctx context.Context, base, token, to string, stop bool) error {
	conn, err := dialWS(ctx, base, token)
	if err != nil {
		return err
	}
	defer conn.Close()
	typ := "typing"
	if stop {
		typ = "stop_typing"
	}
	b, _ := json.Marshal(map[string]string{"type": typ, "toUserId": to})
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return err
	}
	return conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}
