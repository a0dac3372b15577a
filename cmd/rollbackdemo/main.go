// Command rollbackdemo is a reference host for the rollback package: a
// trivial two-player "arena" (each player's button mask pushes that
// player's own position up or down) synchronized over either TCP or
// WebSocket transport.
// It exists to exercise rollback.Session end-to-end, not to be a real game.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pbnjay/memory"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/tznak/rollback-core"
	"github.com/tznak/rollback-core/transport"
)

const windowTitle = "rollbackdemo"

type opts struct {
	listenAddr string
	connectTo  string
	transport  string
	intervalMS int64
	maxPingMS  int64
}

func parseOpts() *opts {
	o := &opts{}

	flag.StringVar(&o.listenAddr, "listen", "", "listen address (server mode)")
	flag.StringVar(&o.connectTo, "connect", "", "address to connect to (client mode)")
	flag.StringVar(&o.transport, "transport", "tcp", "transport: tcp or ws")
	flag.Int64Var(&o.intervalMS, "interval", 16, "simulation tick length, ms")
	flag.Int64Var(&o.maxPingMS, "max-ping", 200, "worst tolerated remote RTT, ms")
	flag.Parse()

	return o
}

// arenaState is the entire deterministic simulation: a position per player.
type arenaState struct {
	pos [2]int32
}

// button masks, one bit per direction.
const (
	btnUp   uint8 = 1 << 0
	btnDown uint8 = 1 << 1
)

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(log.Printf)); err != nil {
		log.Printf("[WARN] failed to set GOMAXPROCS: %s", err)
	}

	log.Printf("[INFO] available system memory: %d MiB", memory.TotalMemory()/(1024*1024))

	o := parseOpts()

	if o.listenAddr == "" && o.connectTo == "" {
		log.Printf("[ERROR] one of -listen or -connect is required")
		os.Exit(1)
	}

	conn, isServer, err := dial(o)
	if err != nil {
		log.Printf("[ERROR] %s", err)
		os.Exit(1)
	}
	defer conn.Close()

	log.Printf("[INFO] %s connected via %s", windowTitle, o.transport)

	runHost(o, conn, isServer)
}

func dial(o *opts) (transport.Conn, bool, error) {
	switch o.transport {
	case "tcp":
		if o.listenAddr != "" {
			conn, err := transport.ListenTCP(o.listenAddr)
			return conn, true, err
		}
		conn, err := transport.DialTCP(o.connectTo)
		return conn, false, err

	case "ws":
		if o.listenAddr != "" {
			conn, err := transport.ListenWS(o.listenAddr, "/rollback")
			return conn, true, err
		}
		conn, err := transport.DialWS(o.connectTo)
		return conn, false, err

	default:
		return nil, false, fmt.Errorf("unknown transport %q (want tcp or ws)", o.transport)
	}
}

// runHost wires a rollback.Session to conn and runs the toy arena at the
// configured tick rate until the peer disconnects.
func runHost(o *opts, conn transport.Conn, isServer bool) {
	state := arenaState{}

	sess, err := rollback.NewSession[arenaState, uint8](rollback.SessionSettings{
		UpdateIntervalMS: o.intervalMS,
		MaxRemotePingMS:  o.maxPingMS,
	}, rollback.Host[arenaState, uint8]{
		Save: func() arenaState { return state },
		Load: func(s arenaState) { state = s },
		Simulate: func(inputs []uint8) {
			for i, in := range inputs {
				if in&btnUp != 0 {
					state.pos[i]++
				}
				if in&btnDown != 0 {
					state.pos[i]--
				}
			}
		},
		Broadcast: func(handle rollback.PlayerHandle, step int64, input uint8) {
			conn.Send(transport.Message{Type: transport.MsgInput, Step: step, Payload: []byte{input}})
		},
	})
	if err != nil {
		log.Printf("[ERROR] failed to create session: %s", err)
		os.Exit(1)
	}

	var local, remote rollback.PlayerHandle
	if isServer {
		local = sess.AddPlayer(rollback.Local)
		remote = sess.AddPlayer(rollback.Remote)
	} else {
		remote = sess.AddPlayer(rollback.Remote)
		local = sess.AddPlayer(rollback.Local)
	}

	inbox := make(chan transport.Message, 64)
	go func() {
		defer close(inbox)
		for {
			msg, ok := conn.Recv()
			if !ok {
				return
			}
			inbox <- msg
		}
	}()

	ticker := time.NewTicker(time.Duration(o.intervalMS) * time.Millisecond)
	defer ticker.Stop()

	lastTick := time.Now()
	pingDeadline := time.Now()

	for {
		select {
		case msg, ok := <-inbox:
			if !ok {
				log.Printf("[INFO] peer disconnected at step %d", sess.CurrentStep())
				return
			}
			handleMessage(sess, remote, msg)

		case now := <-ticker.C:
			deltaMS := float64(now.Sub(lastTick).Microseconds()) / 1000.0
			lastTick = now

			sess.AddLocalInput(local, pollInput())
			sess.Update(deltaMS)

			if now.After(pingDeadline) {
				pingDeadline = now.Add(time.Second)
				conn.Send(transport.Message{Type: transport.MsgPing, Payload: encodePing(sess.GetPing(remote))})
			}
		}
	}
}

// handleMessage applies an inbound wire Message to sess.
func handleMessage(sess *rollback.Session[arenaState, uint8], remote rollback.PlayerHandle, msg transport.Message) {
	switch msg.Type {
	case transport.MsgInput:
		if len(msg.Payload) != 1 {
			log.Printf("[WARN] dropping malformed input message at step %d", msg.Step)
			return
		}
		sess.AddRemoteInput(remote, msg.Step, msg.Payload[0])

	case transport.MsgPing:
		if len(msg.Payload) != 4 {
			return
		}
		sess.SetPing(remote, int64(binary.LittleEndian.Uint32(msg.Payload)))
	}
}

func encodePing(pingMS int64) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(pingMS))
	return buf
}

// pollInput stands in for real input polling, which this demo deliberately
// has none of: a real host wires this to a keyboard/gamepad library.
func pollInput() uint8 {
	return 0
}
