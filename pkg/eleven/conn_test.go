package eleven

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// agentPair dials a test websocket playing the AI vendor's role and returns
// the client Conn plus the raw vendor end.
func agentPair(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	vendorCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		vendorCh <- ws
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := Dial(context.Background(), ConnConfig{SignedURL: wsURL})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	select {
	case vendor := <-vendorCh:
		t.Cleanup(func() { vendor.Close() })
		return conn, vendor
	case <-time.After(2 * time.Second):
		t.Fatal("vendor conn never arrived")
		return nil, nil
	}
}

func TestDialRequiresAgentIDOrSignedURL(t *testing.T) {
	if _, err := Dial(context.Background(), ConnConfig{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestConnDeliversDecodedEvents(t *testing.T) {
	conn, vendor := agentPair(t)

	err := vendor.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{"conversation_id":"conv-1"}}`))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-conn.Events():
		if ev.Type != TypeInitMetadata || ev.ConversationID != "conv-1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}

func TestConnSendInitAndAudio(t *testing.T) {
	conn, vendor := agentPair(t)

	if err := conn.SendInit(InitConfig{Prompt: "be brief"}); err != nil {
		t.Fatalf("send init: %v", err)
	}
	if err := conn.SendAudio("dGVzdA=="); err != nil {
		t.Fatalf("send audio: %v", err)
	}

	vendor.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := vendor.ReadMessage()
	if err != nil {
		t.Fatalf("read init: %v", err)
	}
	var init struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &init); err != nil {
		t.Fatalf("unmarshal init: %v", err)
	}
	if init.Type != TypeInitClientData {
		t.Fatalf("first message type = %q", init.Type)
	}

	_, data, err = vendor.ReadMessage()
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	var audio struct {
		Chunk string `json:"user_audio_chunk"`
	}
	if err := json.Unmarshal(data, &audio); err != nil {
		t.Fatalf("unmarshal audio: %v", err)
	}
	if audio.Chunk != "dGVzdA==" {
		t.Fatalf("chunk = %q", audio.Chunk)
	}
}

func TestConnSendAfterCloseIsDropped(t *testing.T) {
	conn, _ := agentPair(t)

	conn.Close()
	if err := conn.SendAudio("dGVzdA=="); err != ErrConnClosed {
		t.Fatalf("err = %v", err)
	}
}
