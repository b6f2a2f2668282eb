package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// watcher follows one game and prints every push. Typing a field id and
// pressing Enter toggles that field, which the server pushes straight back.
func main() {
	addr := flag.String("addr", "localhost:1313", "game server address")
	gameID := flag.String("game", "", "game id to follow")
	userID := flag.String("user", "", "user id, as issued by /auth")
	flag.Parse()

	if *gameID == "" || *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/game/" + *gameID}
	log.Printf("Connecting to %s", u.String())

	header := http.Header{}
	header.Set("Cookie", "user_id="+*userID)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			printMessage(message)
		}
	}()

	lines := make(chan string)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			text, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimSpace(text)
		}
	}()

	client := &http.Client{Timeout: 5 * time.Second}
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case fieldID := <-lines:
			if fieldID == "" {
				continue
			}
			if err := toggle(client, *addr, *userID, fieldID); err != nil {
				log.Println("Toggle error:", err)
				continue
			}
			log.Printf("-> toggled field %s", fieldID)
		}
	}
}

func toggle(client *http.Client, addr, userID, fieldID string) error {
	req, err := http.NewRequest(http.MethodPatch, "http://"+addr+"/field/"+fieldID, nil)
	if err != nil {
		return err
	}
	req.AddCookie(&http.Cookie{Name: "user_id", Value: userID})
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

type field struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
	Bingo   bool   `json:"bingo"`
}

type player struct {
	Username string `json:"username"`
	Bingos   int    `json:"bingos"`
	IsMe     bool   `json:"isMe"`
}

func printMessage(message []byte) {
	var msg struct {
		Game    json.RawMessage `json:"Game"`
		Fields  [][]field       `json:"Fields"`
		Players []player        `json:"Players"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("<- RECV (unparsed): %s", message)
		return
	}

	switch {
	case msg.Game != nil:
		log.Printf("<- GAME %s", msg.Game)
	case msg.Fields != nil:
		log.Println("<- FIELDS")
		for _, row := range msg.Fields {
			cells := make([]string, len(row))
			for i, f := range row {
				mark := " "
				if f.Bingo {
					mark = "*"
				} else if f.Checked {
					mark = "x"
				}
				cells[i] = fmt.Sprintf("[%s] %s (%s)", mark, f.Text, f.ID)
			}
			fmt.Println(strings.Join(cells, "  "))
		}
	case msg.Players != nil:
		log.Println("<- PLAYERS")
		for i, p := range msg.Players {
			me := ""
			if p.IsMe {
				me = " (me)"
			}
			fmt.Printf("%d. %s%s: %d bingos\n", i+1, p.Username, me, p.Bingos)
		}
	}
}
