package mockserver

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/framing"
	"github.com/moka-remote/mokactl/internal/logging"
)

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Address = "127.0.0.1:0"
	s := New(cfg, logging.NewTestLogger(t))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame reads one END_OF_MESSAGE terminated reply.
func readFrame(t *testing.T, r *bufio.Reader, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var sb strings.Builder
	for !strings.HasSuffix(sb.String(), framing.MessageTerminator) {
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("read reply: %v (got %q)", err, sb.String())
		}
		sb.WriteByte(b)
	}
	return strings.TrimSuffix(sb.String(), framing.MessageTerminator)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestServerAnswersQueries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Events = domain.EventList{{Timestamp: "2024-01-01 10:00", Status: "Traité", Voice: "Papa"}}
	s := startServer(t, cfg)
	conn := dial(t, s)
	r := bufio.NewReader(conn)

	conn.Write([]byte("REQUEST_APP_STATE"))
	if got := readFrame(t, r, conn); got != "1" {
		t.Errorf("app state = %q, want 1", got)
	}

	conn.Write([]byte("REQUEST_PARAMETERS"))
	want := "noise_threshold: 10.0, resemblance_threshold: 0.7, cooldown: 120.0, delay: 2.0"
	if got := readFrame(t, r, conn); got != want {
		t.Errorf("parameters = %q, want %q", got, want)
	}

	conn.Write([]byte("REQUEST_LAST_BARKS"))
	if got := readFrame(t, r, conn); got != "2024-01-01 10:00;Traité;Papa" {
		t.Errorf("events = %q", got)
	}
}

func TestServerSplitsCoalescedCommands(t *testing.T) {
	s := startServer(t, DefaultConfig())
	conn := dial(t, s)
	r := bufio.NewReader(conn)

	conn.Write([]byte("03 [5.0, 0.5, 90.0, 1.0]2 HéloïseREQUEST_APP_STATE"))
	if got := readFrame(t, r, conn); got != "0" {
		t.Errorf("app state = %q, want 0", got)
	}

	want := domain.Parameters{NoiseThreshold: 5, ResemblanceThreshold: 0.5, Cooldown: 90, Delay: 1}
	if got := s.Parameters(); got != want {
		t.Errorf("Parameters() = %+v, want %+v", got, want)
	}
	if got := s.Triggers(); len(got) != 1 || got[0] != "Héloïse" {
		t.Errorf("Triggers() = %v", got)
	}
	if events := s.Events(); len(events) != 1 || events[0].Voice != "Héloïse" {
		t.Errorf("Events() = %+v", events)
	}
}

func TestServerHandlesSplitTokens(t *testing.T) {
	s := startServer(t, DefaultConfig())
	conn := dial(t, s)
	r := bufio.NewReader(conn)

	conn.Write([]byte("REQUEST_PAR"))
	time.Sleep(20 * time.Millisecond)
	conn.Write([]byte("AMETERS"))
	if got := readFrame(t, r, conn); !strings.HasPrefix(got, "noise_threshold") {
		t.Errorf("parameters = %q", got)
	}

	conn.Write([]byte("2 Os"))
	time.Sleep(20 * time.Millisecond)
	conn.Write([]byte("car"))
	eventually(t, func() bool { return len(s.Triggers()) == 1 })
	if got := s.Triggers()[0]; got != "Oscar" {
		t.Errorf("trigger voice = %q, want Oscar", got)
	}
}

func TestServerReceivesUpload(t *testing.T) {
	s := startServer(t, DefaultConfig())
	conn := dial(t, s)

	data := []byte("RIFF....WAVEfmt some audio bytes")
	conn.Write([]byte(framing.FileStart))
	conn.Write(data)
	conn.Write([]byte(framing.FileEndPrefix + "Maman"))
	conn.Write([]byte("1"))

	eventually(t, func() bool { return len(s.Uploads()) == 1 })
	up := s.Uploads()[0]
	if up.Voice != "Maman" || string(up.Data) != string(data) {
		t.Errorf("upload = %q from %q", up.Data, up.Voice)
	}
	eventually(t, s.On)
}

func TestServerLengthPrefixed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = framing.ModeLengthPrefixed
	s := startServer(t, cfg)
	conn := dial(t, s)

	codec := framing.NewCodec(framing.ModeLengthPrefixed, 0)
	writes, err := codec.Encode(framing.Text("REQUEST_APP_STATE"))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	for _, w := range writes {
		conn.Write(w)
	}

	dec := codec.NewDecoder()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		frames, _ := dec.Feed(buf[:n])
		if len(frames) > 0 {
			if frames[0].Payload != "1" {
				t.Errorf("payload = %q, want 1", frames[0].Payload)
			}
			return
		}
	}
}

func TestServerSilentAndPush(t *testing.T) {
	s := startServer(t, DefaultConfig())
	conn := dial(t, s)
	r := bufio.NewReader(conn)

	eventually(t, func() bool { return s.Connections() == 1 })
	s.SetSilent(true)
	conn.Write([]byte("REQUEST_APP_STATE"))
	eventually(t, func() bool { return len(s.Commands()) == 1 })

	if err := s.Push("unsolicited"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if got := readFrame(t, r, conn); got != "unsolicited" {
		t.Errorf("frame = %q, want the pushed payload", got)
	}
}

func TestServerEventHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEvents = 2
	s := startServer(t, cfg)
	conn := dial(t, s)

	conn.Write([]byte("2 Papa"))
	conn.Write([]byte("2 Maman"))
	conn.Write([]byte("2 Oscar"))
	eventually(t, func() bool { return len(s.Triggers()) == 3 })

	events := s.Events()
	if len(events) != 2 || events[0].Voice != "Maman" || events[1].Voice != "Oscar" {
		t.Errorf("Events() = %+v", events)
	}
}
