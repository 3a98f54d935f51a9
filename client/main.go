// Command client is an interactive terminal client for poking at the
// messaging service: it logs in, opens the realtime connection, joins a job
// room and speaks the event protocol.
//
//	go run ./client -user alice -role client -job job-1
//
// Commands: plain text sends a message; /typing and /stop send typing
// signals; /online and /offline flip professional availability; /quit exits.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/avelar/jobchat/pkg/event"
)

func login(apiAddr, userID, role string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"userId": userID, "role": role})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

func printEvent(raw []byte) {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		fmt.Printf("\r?? %s\n> ", raw)
		return
	}

	switch peek.Type {
	case event.TypeAuthSuccess:
		var ev event.AuthSuccess
		json.Unmarshal(raw, &ev)
		fmt.Printf("\rauthenticated as %s (%s)\n> ", ev.UserID, ev.UserRole)
	case event.TypeJobJoined:
		var ev event.JobJoined
		json.Unmarshal(raw, &ev)
		fmt.Printf("\rjoined room for job %s\n> ", ev.JobID)
	case event.TypeNewMessage, event.TypeJobRoomUpdate:
		var ev event.MessageEvent
		json.Unmarshal(raw, &ev)
		fmt.Printf("\r%s: %s\n> ", ev.Message.SenderID, ev.Message.Content)
	case event.TypeMessageSent:
		var ev event.MessageEvent
		json.Unmarshal(raw, &ev)
		fmt.Printf("\r(sent, id %d)\n> ", ev.Message.ID)
	case event.TypeUserTyping:
		var ev event.UserTyping
		json.Unmarshal(raw, &ev)
		if ev.IsTyping {
			fmt.Printf("\r%s is typing...\n> ", ev.UserID)
		}
	case event.TypeStatusChange:
		var ev event.StatusChange
		json.Unmarshal(raw, &ev)
		state := "offline"
		if ev.IsOnline {
			state = "online"
		}
		fmt.Printf("\rprofessional %s is now %s\n> ", ev.UserID, state)
	case event.TypeError:
		var ev event.ErrorEvent
		json.Unmarshal(raw, &ev)
		fmt.Printf("\rerror [%s]: %s\n> ", ev.Code, ev.Message)
	default:
		fmt.Printf("\r%s\n> ", raw)
	}
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "server address")
	userID := flag.String("user", "user1", "user id")
	role := flag.String("role", "client", "role: client or professional")
	jobID := flag.String("job", "", "job room to join on connect")
	flag.Parse()

	apiAddr := "http://" + *serverAddr

	log.Printf("logging in as %s (%s)...", *userID, *role)
	token, err := login(apiAddr, *userID, *role)
	if err != nil {
		log.Fatal(err)
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	sendEvent := func(v interface{}) {
		payload, err := json.Marshal(v)
		if err != nil {
			log.Println("encode:", err)
			return
		}
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Println("write:", err)
		}
	}

	if *jobID != "" {
		sendEvent(event.JoinJob{Type: event.TypeJoinJob, JobID: *jobID})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}
			printEvent(raw)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			switch text {
			case "":
			case "/quit":
				interrupt <- os.Interrupt
				return
			case "/typing":
				sendEvent(event.Typing{Type: event.TypeTypingStart, JobID: *jobID})
			case "/stop":
				sendEvent(event.Typing{Type: event.TypeTypingStop, JobID: *jobID})
			case "/online":
				sendEvent(event.SetOnlineStatus{Type: event.TypeSetOnlineStatus, IsOnline: true})
			case "/offline":
				sendEvent(event.SetOnlineStatus{Type: event.TypeSetOnlineStatus, IsOnline: false})
			default:
				sendEvent(event.SendMessage{Type: event.TypeSendMessage, JobID: *jobID, Content: text})
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		// Close politely and give the server a moment to answer.
		err := c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
