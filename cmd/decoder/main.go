// Command decoder connects to an upstream broker feed (real or
// cmd/brokersim) and prints every internal/wire frame in human-readable
// form: connect, log in, read loop, per-frame-type print switch.
//
// Usage:
//
//	decoder                                    # connect to localhost:8100/broker
//	decoder --url ws://host:8100/broker --token t
//	decoder --subscribe NSE_FO|NIFTY250626500CE
//	decoder --hex                               # also dump raw hex per frame
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/relayforge/optionrelay/internal/wire"
)

func main() {
	var (
		url           string
		token         string
		subscribe     string
		statsInterval int
		showHex       bool
	)

	root := &cobra.Command{
		Use:   "decoder",
		Short: "Dump decoded internal/wire frames from an upstream broker feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			decode(url, token, subscribe, statsInterval, showHex)
			return nil
		},
	}
	fs := root.Flags()
	fs.StringVar(&url, "url", "ws://localhost:8100/broker", "Upstream broker WebSocket endpoint")
	fs.StringVar(&token, "token", "decoder-token", "Login token")
	fs.StringVar(&subscribe, "subscribe", "", "Comma-separated instrument keys to subscribe to")
	fs.IntVar(&statsInterval, "stats", 0, "Print frame rate stats every N seconds (0 = off)")
	fs.BoolVar(&showHex, "hex", false, "Print raw hex dump alongside decoded output")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func decode(url, token, subscribe string, statsInterval int, showHex bool) {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	log.Printf("connecting to %s", url)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	log.Println("connected")

	login := wire.LoginRequest{Method: "login", Token: token}
	if err := conn.WriteJSON(login); err != nil {
		log.Fatalf("login: %v", err)
	}

	if subscribe != "" {
		keys := strings.Split(subscribe, ",")
		b, err := wire.EncodeSubscribe(keys, "full")
		if err != nil {
			log.Fatalf("encode subscribe: %v", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
			log.Fatalf("subscribe: %v", err)
		}
		log.Printf("subscribed to %s", subscribe)
	}

	var frameCount uint64
	if statsInterval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
			defer ticker.Stop()
			var last uint64
			for range ticker.C {
				cur := atomic.LoadUint64(&frameCount)
				delta := cur - last
				rate := float64(delta) / float64(statsInterval)
				log.Printf("[stats] %d frames total | %.1f frames/sec", cur, rate)
				last = cur
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(200 * time.Millisecond)
		os.Exit(0)
	}()

	reader := bufio.NewReader(&wsMessageReader{conn: conn})
	for {
		f, err := wire.ReadFrame(reader)
		if err != nil {
			if _, ok := err.(*wire.ErrMalformed); ok {
				log.Printf("malformed frame: %v", err)
				continue
			}
			log.Fatalf("read: %v", err)
		}
		atomic.AddUint64(&frameCount, 1)
		printFrame(f, showHex)
	}
}

// wsMessageReader adapts gorilla/websocket's message-oriented Read API to
// an io.Reader, mirroring internal/broker/ws.go's wsMessageReader so
// wire.ReadFrame can reassemble envelopes that straddle distinct
// websocket messages.
type wsMessageReader struct {
	conn *websocket.Conn
	cur  io.Reader
}

func (r *wsMessageReader) Read(p []byte) (int, error) {
	for {
		if r.cur != nil {
			n, err := r.cur.Read(p)
			if n > 0 {
				return n, nil
			}
			if err != nil && err != io.EOF {
				return 0, err
			}
			r.cur = nil
		}
		_, reader, err := r.conn.NextReader()
		if err != nil {
			return 0, err
		}
		r.cur = reader
	}
}

func printFrame(f *wire.Frame, showHex bool) {
	switch f.Type {
	case wire.FrameTick:
		t := f.Tick
		fmt.Printf("TICK     key=%-28s seq=%-8d ltp=%-10s bid=%-10s ask=%-10s iv=%-8s delta=%-8s\n",
			f.InstrumentKey, t.Seq, optDecimalStr(t.LTP), optDecimalStr(t.Bid), optDecimalStr(t.Ask),
			optFloatStr(t.IV), optFloatStr(t.Delta))
	case wire.FrameMarketInfo:
		for _, seg := range f.Segments {
			fmt.Printf("MKTINFO  segment=%-10s status=%s\n", seg.Segment, seg.Status)
		}
	case wire.FrameHeartbeat:
		fmt.Println("HEARTBEAT")
	case wire.FrameAuthAck:
		fmt.Println("AUTH_ACK")
	case wire.FrameAuthReject:
		fmt.Printf("AUTH_REJECT  kind=%s msg=%s\n", f.ErrorKind, f.ErrorMsg)
	case wire.FrameEntitlementReject:
		fmt.Printf("ENTITLEMENT_REJECT  kind=%s msg=%s\n", f.ErrorKind, f.ErrorMsg)
	case wire.FrameMarketClosed:
		fmt.Println("MARKET_CLOSED")
	case wire.FrameError:
		fmt.Printf("ERROR  kind=%s msg=%s\n", f.ErrorKind, f.ErrorMsg)
	default:
		fmt.Printf("UNKNOWN  type=%c\n", f.Type)
	}
	if showHex {
		printHex(f)
	}
}

func printHex(f *wire.Frame) {
	var buf bytes.Buffer
	if err := wire.WriteFrame(&buf, f); err != nil {
		return
	}
	var sb strings.Builder
	sb.WriteString("         hex: ")
	for i, b := range buf.Bytes() {
		if i > 0 && i%16 == 0 {
			sb.WriteString("\n              ")
		}
		fmt.Fprintf(&sb, "%02x ", b)
	}
	fmt.Println(sb.String())
}

func optDecimalStr(o wire.OptDecimal) string {
	if !o.Set {
		return "-"
	}
	return o.Value.String()
}

func optFloatStr(o wire.OptFloat64) string {
	if !o.Set {
		return "-"
	}
	return fmt.Sprintf("%.4f", o.Value)
}
