package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/soundwave-go/pkg/interfaces"
)

// echoServer returns every frame it receives and records the handshake
// headers.
func echoServer(t *testing.T, headers chan<- http.Header) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if headers != nil {
			headers <- r.Header.Clone()
		}
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSProtocolEcho(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := echoServer(t, headers)
	defer srv.Close()

	p, err := NewWebSocketProtocol(Config{URL: wsURL(srv), AccessToken: "secret", DeviceID: "dev-1"})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	h := <-headers
	if h.Get("Authorization") != "Bearer secret" || h.Get("Device-Id") != "dev-1" || h.Get("Protocol-Version") != "1" {
		t.Errorf("handshake headers = %v", h)
	}

	if err := p.Send([]byte(`{"type":"hello"}`), interfaces.MsgText); err != nil {
		t.Fatalf("Send(text) error = %v", err)
	}
	if err := p.Send([]byte{1, 2, 3}, interfaces.MsgBinary); err != nil {
		t.Fatalf("Send(binary) error = %v", err)
	}

	for _, want := range []interfaces.MessageType{interfaces.MsgText, interfaces.MsgBinary} {
		select {
		case msg := <-p.Receive():
			if msg.Type != want {
				t.Errorf("received %s, want %s", msg.Type, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s echo", want)
		}
	}
}

func TestWSProtocolClose(t *testing.T) {
	srv := echoServer(t, nil)
	defer srv.Close()

	p, err := NewWebSocketProtocol(Config{URL: wsURL(srv)})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.Close()
	p.Close()

	if err := p.Send([]byte("late"), interfaces.MsgText); !errors.Is(err, interfaces.ErrTransportClosed) {
		t.Errorf("Send() after Close error = %v, want ErrTransportClosed", err)
	}
	select {
	case _, ok := <-p.Receive():
		for ok {
			_, ok = <-p.Receive()
		}
	case <-time.After(time.Second):
		t.Fatal("Receive channel not closed")
	}
}

func TestWSProtocolErrors(t *testing.T) {
	if _, err := NewWebSocketProtocol(Config{}); !errors.Is(err, interfaces.ErrConnectionFailed) {
		t.Errorf("NewWebSocketProtocol(empty) error = %v", err)
	}

	p, err := NewWebSocketProtocol(Config{URL: "ws://127.0.0.1:1/none"})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Send([]byte("x"), interfaces.MsgText); !errors.Is(err, interfaces.ErrConnectionFailed) {
		t.Errorf("Send() before Connect error = %v", err)
	}
	if err := p.Connect(context.Background()); !errors.Is(err, interfaces.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if p.ProtocolType() != "websocket" {
		t.Errorf("ProtocolType() = %q", p.ProtocolType())
	}
}
