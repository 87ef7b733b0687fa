package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/joysync/network"
	"github.com/wfunc/joysync/state"
)

// send encodes an envelope and writes it as a text frame.
func send(c *websocket.Conn, msgType string, data interface{}) error {
	payload, err := network.EncodeEnvelope(msgType, data)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, payload)
}

// parseAction reads "x y [abxy]", e.g. "0.5 -1 ab" presses a and b.
func parseAction(line string) (state.PlayerState, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 {
		return state.PlayerState{}, fmt.Errorf("expected: x y [abxy]")
	}
	x, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return state.PlayerState{}, fmt.Errorf("bad x: %w", err)
	}
	y, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return state.PlayerState{}, fmt.Errorf("bad y: %w", err)
	}

	p := state.PlayerState{Joystick: state.Vector2{X: x, Y: y}}
	if len(fields) == 3 {
		for _, r := range strings.ToLower(fields[2]) {
			switch r {
			case 'a':
				p.Buttons.A = true
			case 'b':
				p.Buttons.B = true
			case 'x':
				p.Buttons.X = true
			case 'y':
				p.Buttons.Y = true
			default:
				return state.PlayerState{}, fmt.Errorf("unknown button %q", r)
			}
		}
	}
	return p, nil
}

func main() {
	addr := flag.String("addr", "localhost:3001", "server address")
	role := flag.String("role", network.RolePlayer, "player or viewer")
	quiet := flag.Bool("quiet", false, "only print state that differs from the previous one")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		var last string
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			var env network.Envelope
			if err := json.Unmarshal(message, &env); err != nil {
				log.Printf("Received invalid frame: %s", message)
				continue
			}
			if *quiet && string(env.Data) == last {
				continue
			}
			last = string(env.Data)
			log.Printf("<- RECV %s: %s", env.Type, env.Data)
		}
	}()

	log.Printf("Registering as %s...", *role)
	if err := send(c, network.MsgTypeRegister, network.RegisterData{Role: *role}); err != nil {
		log.Println("Write error:", err)
		return
	}
	log.Println("Client started. Type 'x y [abxy]' to move, 'read' to request state.")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	// Write loop
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
		case text, ok := <-lines:
			if !ok {
				return
			}
			switch text {
			case "":
				continue
			case "read":
				if err := send(c, network.MsgTypeReadState, struct{}{}); err != nil {
					log.Println("Write error:", err)
					return
				}
				continue
			}

			action, err := parseAction(text)
			if err != nil {
				log.Println(err)
				continue
			}
			if err := send(c, network.MsgTypeAction, action); err != nil {
				log.Println("Write error:", err)
				return
			}
			log.Printf("-> SENT action: %+v", action)
		}
	}
}
