package authclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"clipstream/presence/internal/logging"
)

// fakeService answers requests on the far side of a net.Pipe. The handler
// returns the raw response body for a request, or nil to stay silent.
func fakeService(t *testing.T, conn net.Conn, handler func(req request) json.RawMessage) {
	t.Helper()
	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var req request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			body := handler(req)
			if body == nil {
				continue
			}
			resp, _ := json.Marshal(response{ID: req.ID, Response: body})
			resp = append(resp, '\n')
			if _, err := conn.Write(resp); err != nil {
				return
			}
		}
	}()
}

func newTestClient(t *testing.T, handler func(req request) json.RawMessage) *Client {
	t.Helper()
	local, remote := net.Pipe()
	fakeService(t, remote, handler)
	client := NewClient(local, time.Second, logging.NewTestLogger())
	t.Cleanup(func() {
		_ = client.Close()
		_ = remote.Close()
	})
	return client
}

func TestGetDecryptedInfo(t *testing.T) {
	client := newTestClient(t, func(req request) json.RawMessage {
		if req.Action != "getDecryptedInfo" || req.Token != "tok" {
			t.Errorf("unexpected request: %+v", req)
		}
		return json.RawMessage(`{"from_users_id":7,"user_name":"alice","isAdmin":"1","videos_id":"10"}`)
	})

	ident, err := client.GetDecryptedInfo(context.Background(), "tok")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if int64(ident.UsersID) != 7 || ident.UserName != "alice" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
	if !bool(ident.IsAdmin) || int64(ident.VideosID) != 10 {
		t.Fatalf("tolerant fields not decoded: %+v", ident)
	}
}

func TestFalsyResponseIsInvalidToken(t *testing.T) {
	for _, body := range []string{`""`, `false`, `null`, `0`, `[]`, `{}`} {
		client := newTestClient(t, func(request) json.RawMessage {
			return json.RawMessage(body)
		})
		_, err := client.GetDecryptedInfo(context.Background(), "bad")
		if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("body %s: expected ErrInvalidToken, got %v", body, err)
		}
	}
}

func TestConcurrentRequestsCorrelate(t *testing.T) {
	client := newTestClient(t, func(req request) json.RawMessage {
		return json.RawMessage(fmt.Sprintf(`{"from_users_id":1,"user_name":%q}`, req.Token))
	})

	const n = 8
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		token := fmt.Sprintf("tok-%d", i)
		go func() {
			ident, err := client.GetDecryptedInfo(context.Background(), token)
			if err != nil {
				errCh <- err
				return
			}
			if ident.UserName != token {
				errCh <- fmt.Errorf("response for %q answered %q", token, ident.UserName)
				return
			}
			errCh <- nil
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errCh; err != nil {
			t.Fatal(err)
		}
	}
}

func TestSilentServiceTimesOut(t *testing.T) {
	local, remote := net.Pipe()
	fakeService(t, remote, func(request) json.RawMessage { return nil })
	client := NewClient(local, 20*time.Millisecond, logging.NewTestLogger())
	t.Cleanup(func() {
		_ = client.Close()
		_ = remote.Close()
	})

	_, err := client.GetDecryptedInfo(context.Background(), "tok")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestServerVersionHandshake(t *testing.T) {
	client := newTestClient(t, func(req request) json.RawMessage {
		if req.Action != "SocketDataObj" {
			t.Errorf("unexpected action: %q", req.Action)
		}
		return json.RawMessage(`{"serverVersion":"12.4"}`)
	})

	version, err := client.ServerVersion(context.Background())
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if version != "12.4" {
		t.Fatalf("unexpected version: %q", version)
	}
}

func TestMissingVersionIsTyped(t *testing.T) {
	client := newTestClient(t, func(request) json.RawMessage {
		return json.RawMessage(`{}`)
	})
	if _, err := client.ServerVersion(context.Background()); !errors.Is(err, ErrNoVersion) {
		t.Fatalf("expected ErrNoVersion, got %v", err)
	}
}

func TestCloseFailsInFlightRequests(t *testing.T) {
	local, remote := net.Pipe()
	fakeService(t, remote, func(request) json.RawMessage { return nil })
	client := NewClient(local, time.Minute, logging.NewTestLogger())
	t.Cleanup(func() { _ = remote.Close() })

	errCh := make(chan error, 1)
	go func() {
		_, err := client.GetDecryptedInfo(context.Background(), "tok")
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-errCh; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRequestAfterCloseFails(t *testing.T) {
	local, remote := net.Pipe()
	fakeService(t, remote, func(request) json.RawMessage { return nil })
	client := NewClient(local, time.Second, logging.NewTestLogger())
	t.Cleanup(func() { _ = remote.Close() })

	_ = client.Close()
	if _, err := client.GetDecryptedInfo(context.Background(), "tok"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
