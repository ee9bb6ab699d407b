package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	PairCount = 50 // Pairs of users chatting with each other
	MsgCount  = 20 // Messages per user
)

type loginResponse struct {
	Token string `json:"access_token"`
	ID    string `json:"id"`
}

type chatResponse struct {
	ID string `json:"id"`
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func main() {
	log.Printf("🔥 STARTING STRESS TEST: %d users, %d messages each...", PairCount*2, MsgCount)
	var wg sync.WaitGroup

	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("✅ LOAD TEST COMPLETE")
}

func runPair(pairID int) {
	emailA := fmt.Sprintf("u_%d_a@load.test", pairID)
	emailB := fmt.Sprintf("u_%d_b@load.test", pairID)
	pass := "password123"

	userA := authenticate(emailA, pass)
	userB := authenticate(emailB, pass)
	if userA == nil || userB == nil {
		return
	}

	chatID := startDirectChat(userA.Token, userB.ID)
	if chatID == "" {
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); chatter(userA, chatID, pairID) }()
	go func() { defer wg.Done(); chatter(userB, chatID, pairID) }()
	wg.Wait()
}

func authenticate(email, pass string) *loginResponse {
	register := map[string]string{"name": email, "email": email, "password": pass}
	postJSON("/register", "", register) // Ignore conflicts on re-runs

	var res loginResponse
	body := postJSON("/login", "", map[string]string{"email": email, "password": pass})
	if body == nil {
		return nil
	}
	if err := json.Unmarshal(body, &res); err != nil || res.Token == "" {
		log.Printf("login failed for %s", email)
		return nil
	}
	return &res
}

func startDirectChat(token, otherID string) string {
	body := postJSON("/api/chats", token, map[string]interface{}{
		"kind":            "direct",
		"participant_ids": []string{otherID},
	})
	if body == nil {
		return ""
	}
	var res chatResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return ""
	}
	return res.ID
}

func chatter(u *loginResponse, chatID string, pairID int) {
	conn, _, err := websocket.DefaultDialer.Dial(WSURL+"?token="+u.Token, nil)
	if err != nil {
		log.Printf("dial failed: %v", err)
		return
	}
	defer conn.Close()

	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Event == "receiveMessage" {
				received++
			}
			// Each side sends MsgCount, so expect both streams.
			if received >= MsgCount*2 {
				return
			}
		}
	}()

	send(conn, "joinChat", chatID)
	for i := 0; i < MsgCount; i++ {
		send(conn, "sendMessage", map[string]string{
			"chatId":   chatID,
			"text":     fmt.Sprintf("msg %d from pair %d", i, pairID),
			"senderId": u.ID,
		})
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		log.Printf("pair %d: timed out with %d messages received", pairID, received)
	}
}

func send(conn *websocket.Conn, event string, data interface{}) {
	raw, _ := json.Marshal(data)
	if err := conn.WriteJSON(envelope{Event: event, Data: raw}); err != nil {
		log.Printf("write failed: %v", err)
	}
}

func postJSON(path, token string, payload interface{}) []byte {
	raw, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("POST %s failed: %v", path, err)
		return nil
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil
	}
	if resp.StatusCode >= 400 {
		return nil
	}
	return buf.Bytes()
}
