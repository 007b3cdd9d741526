// Command wsclient is a terminal guest client for the concierge gateway.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

type guestAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	GuestID   string    `json:"guest_id"`
}

// frame is the union of the gateway frames the client reads
type frame struct {
	Type     string `json:"type"`
	TurnID   string `json:"turn_id"`
	Token    string `json:"token"`
	Speaking bool   `json:"speaking"`
	Seq      uint64 `json:"seq"`
	Size     int    `json:"size"`
	Fallback bool   `json:"fallback"`
	Code     string `json:"error_code"`
	Message  string `json:"message"`
	Turn     struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"turn"`
	Profile *struct {
		FullName       string `json:"full_name"`
		MembershipType string `json:"membership_type"`
		Gate           string `json:"gate"`
	} `json:"profile"`
}

type client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu         sync.Mutex
	lastTurnID string
	playing    map[uint64]context.CancelFunc
	pendingSeq uint64

	// bytes per second used to simulate playback time
	playbackRate int
}

func main() {
	server := pflag.StringP("server", "s", "http://localhost:8080", "gateway base URL")
	guestID := pflag.StringP("guest", "g", "G-1001", "guest id used for the development login")
	name := pflag.StringP("name", "n", "", "guest full name")
	token := pflag.String("token", "", "guest JWT; skips the development login when set")
	autoPlay := pflag.Bool("auto-play", true, "speak replies while they stream")
	greet := pflag.Bool("greet", true, "ask for the greeting on connect")
	rate := pflag.Int("playback-rate", 16000, "simulated playback speed in bytes per second")
	pflag.Parse()

	if *token == "" {
		var err error
		*token, err = login(*server, *guestID, *name)
		if err != nil {
			log.Fatalf("Failed to authenticate guest: %v", err)
		}
	}

	wsURL, err := url.Parse(*server)
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}
	wsURL.Scheme = strings.Replace(wsURL.Scheme, "http", "ws", 1)
	wsURL.Path = "/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+*token)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL.String(), header)
	if err != nil {
		if resp != nil {
			log.Fatalf("WebSocket connection failed with status %d: %v", resp.StatusCode, err)
		}
		log.Fatalf("WebSocket connection failed: %v", err)
	}
	defer conn.Close()

	c := &client{conn: conn, playing: make(map[uint64]context.CancelFunc), playbackRate: *rate}
	if *rate <= 0 {
		c.playbackRate = 16000
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.readLoop()
	}()

	c.send(map[string]interface{}{"type": "set_auto_play", "enabled": *autoPlay})
	if *greet {
		c.send(map[string]interface{}{"type": "greeting"})
	}

	fmt.Println("Connected. Type a message, or /cancel, /replay [turn], /autoplay on|off, /quit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-done:
			return
		case line, ok := <-lines:
			if !ok || !c.handleInput(line) {
				c.writeMu.Lock()
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				c.writeMu.Unlock()
				return
			}
		}
	}
}

func login(server, guestID, name string) (string, error) {
	body, _ := json.Marshal(map[string]string{"guest_id": guestID, "full_name": name})

	resp, err := http.Post(server+"/api/v1/auth/guest", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authentication failed with status %d", resp.StatusCode)
	}

	var auth guestAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("failed to decode auth response: %w", err)
	}
	return auth.Token, nil
}

// handleInput sends the frame for one input line; false means quit
func (c *client) handleInput(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return false
	case "/cancel":
		c.send(map[string]interface{}{"type": "cancel"})
	case "/autoplay":
		c.send(map[string]interface{}{"type": "set_auto_play", "enabled": len(fields) < 2 || fields[1] != "off"})
	case "/replay":
		turnID := ""
		if len(fields) > 1 {
			turnID = fields[1]
		} else {
			c.mu.Lock()
			turnID = c.lastTurnID
			c.mu.Unlock()
		}
		if turnID == "" {
			fmt.Println("Nothing to replay yet")
			return true
		}
		c.send(map[string]interface{}{"type": "replay", "turn_id": turnID})
	default:
		c.send(map[string]interface{}{"type": "message", "text": line})
	}
	return true
}

func (c *client) send(v interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		log.Printf("Failed to send frame: %v", err)
	}
}

func (c *client) readLoop() {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("Connection closed: %v", err)
			}
			return
		}

		if messageType == websocket.BinaryMessage {
			c.play(data)
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("Malformed frame: %s", data)
			continue
		}
		c.render(f)
	}
}

func (c *client) render(f frame) {
	switch f.Type {
	case "profile":
		if f.Profile != nil {
			fmt.Printf("[profile] %s (%s) gate %s\n", f.Profile.FullName, f.Profile.MembershipType, f.Profile.Gate)
		}
	case "turn_started":
		fmt.Print("concierge> ")
	case "token":
		fmt.Print(f.Token)
	case "turn_completed":
		c.mu.Lock()
		c.lastTurnID = f.Turn.ID
		c.mu.Unlock()
		if f.Fallback {
			fmt.Printf("\nconcierge> %s", f.Turn.Text)
		}
		fmt.Printf("\n[turn %s]\n", f.Turn.ID)
	case "turn_cancelled":
		fmt.Println("\n[cancelled]")
	case "speaking":
		if f.Speaking {
			fmt.Println("[speaking]")
		} else {
			fmt.Println("[quiet]")
		}
	case "audio_start":
		c.mu.Lock()
		c.pendingSeq = f.Seq
		c.mu.Unlock()
	case "audio_stop":
		c.mu.Lock()
		if cancel, ok := c.playing[f.Seq]; ok {
			cancel()
		}
		c.mu.Unlock()
	case "error":
		fmt.Printf("\n[error %s] %s\n", f.Code, f.Message)
	}
}

// play simulates playback of one clip and acknowledges it
func (c *client) play(audio []byte) {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	seq := c.pendingSeq
	c.pendingSeq = 0
	if seq == 0 {
		c.mu.Unlock()
		cancel()
		return
	}
	c.playing[seq] = cancel
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.playing, seq)
			c.mu.Unlock()
			cancel()
		}()

		duration := time.Duration(len(audio)) * time.Second / time.Duration(c.playbackRate)
		select {
		case <-time.After(duration):
			c.send(map[string]interface{}{"type": "playback_ended", "seq": seq})
		case <-ctx.Done():
		}
	}()
}
