// Command feedprobe opens a feed socket as a given user and prints every frame
// it receives. Lines typed on stdin are sent as actions, e.g.
//
//	{"action":"toggle_like","target_type":"post","target_id":12}
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"campusfeed/internal/config"
	"campusfeed/internal/server"
)

func main() {
	addr := flag.String("addr", "localhost:8375", "feedgate host:port")
	userID := flag.Uint("user", 1, "User ID to connect as")
	scope := flag.String("scope", "campus", `Feed scope: "campus", "course:<id>" or "club:<id>"`)
	height := flag.Int("height", 900, "Viewport height in pixels")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	token, err := server.NewToken(cfg.JWTSecret, *userID, time.Hour)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	u := url.URL{
		Scheme:   "ws",
		Host:     *addr,
		Path:     "/api/ws/feed",
		RawQuery: url.Values{"scope": {*scope}, "height": {fmt.Sprint(*height)}}.Encode(),
	}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), http.Header{"Authorization": {"Bearer " + token}})
	if err != nil {
		if resp != nil {
			log.Fatalf("Dial %s failed: %v (HTTP %d)", u.String(), err, resp.StatusCode)
		}
		log.Fatalf("Dial %s failed: %v", u.String(), err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("read: %v", err)
				}
				return
			}
			fmt.Println(string(msg))
		}
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
				log.Printf("write: %v", err)
				return
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-done:
	case <-interrupt:
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
