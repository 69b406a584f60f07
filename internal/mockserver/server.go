// Package mockserver provides a fake Moka appliance for local testing. It
// speaks the same socket protocol as the device: requests come in unframed
// (or length-prefixed in compatibility mode) and every reply is terminated
// with END_OF_MESSAGE.
package mockserver

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/framing"
	"github.com/moka-remote/mokactl/internal/logging"
)

const (
	DefaultListenAddress = "127.0.0.1:8081"
	defaultMaxEvents     = 10
	statusTriggered      = "Traité"
)

// Config describes the initial appliance state and test knobs.
type Config struct {
	Address       string
	Mode          framing.Mode
	MaxFrameSize  int
	On            bool
	Parameters    domain.Parameters
	Events        domain.EventList
	MaxEvents     int
	ResponseDelay time.Duration
}

// DefaultConfig starts powered on with factory parameters and no history.
func DefaultConfig() Config {
	return Config{
		Address:      DefaultListenAddress,
		Mode:         framing.ModeDelimited,
		MaxFrameSize: framing.DefaultMaxFrameSize,
		On:           true,
		Parameters:   domain.DefaultParameters(),
		MaxEvents:    defaultMaxEvents,
	}
}

// Upload is one recording received from a client.
type Upload struct {
	Voice      string
	Data       []byte
	ReceivedAt time.Time
}

// Server is a fake appliance. It is safe for concurrent use.
type Server struct {
	cfg    Config
	codec  *framing.Codec
	logger *zap.Logger

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	on       bool
	params   domain.Parameters
	events   domain.EventList
	uploads  []Upload
	triggers []string
	commands []string
	silent   bool
	closed   bool

	wg sync.WaitGroup
}

// New creates a server. Call Start or Serve to accept connections.
func New(cfg Config, logger *logging.Logger) *Server {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = framing.DefaultMaxFrameSize
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	if cfg.Parameters == (domain.Parameters{}) {
		cfg.Parameters = domain.DefaultParameters()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if logger.Component() != "mockserver" {
		logger = logger.WithComponent("mockserver")
	}
	return &Server{
		cfg:    cfg,
		codec:  framing.NewCodec(cfg.Mode, cfg.MaxFrameSize),
		logger: logger.Zap(),
		conns:  make(map[net.Conn]struct{}),
		on:     cfg.On,
		params: cfg.Parameters,
		events: append(domain.EventList(nil), cfg.Events...),
	}
}

// Start listens on the configured address and accepts in the background.
func (s *Server) Start() error {
	addr := s.cfg.Address
	if addr == "" {
		addr = DefaultListenAddress
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("Mock appliance listening",
		zap.String("address", ln.Addr().String()),
		zap.Stringer("framing", s.cfg.Mode))

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Serve starts the server and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close stops accepting and drops every client.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Mock appliance stopped")
	return err
}

// SetSilent makes the server swallow requests without replying.
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// Push sends an unsolicited frame to every connected client.
func (s *Server) Push(payload string) error {
	frame, err := s.codec.EncodeFrame(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		if _, err := conn.Write(frame); err != nil {
			s.logger.Warn("Push failed", zap.Error(err))
		}
	}
	return nil
}

// DropConnections closes every client connection but keeps listening.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

// Connections returns the number of connected clients.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// On reports the power flag.
func (s *Server) On() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// Parameters returns the current detection parameters.
func (s *Server) Parameters() domain.Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Events returns the detection history, oldest first.
func (s *Server) Events() domain.EventList {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(domain.EventList(nil), s.events...)
}

// Uploads returns every recording received so far.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// Triggers returns the voices of manual triggers, "" for a bare trigger.
func (s *Server) Triggers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.triggers...)
}

// Commands returns every command token received, in order. Upload bodies are
// summarised.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !stderrors.Is(err, net.ErrClosed) {
				s.logger.Warn("Accept failed", zap.Error(err))
			}
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.logger.Info("Client connected", zap.String("remote", conn.RemoteAddr().String()))
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.logger.Info("Client disconnected", zap.String("remote", conn.RemoteAddr().String()))
	}()

	sess := &session{server: s, conn: conn}
	if s.cfg.Mode == framing.ModeLengthPrefixed {
		sess.decoder = s.codec.NewDecoder()
	}

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			sess.feed(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// session holds the per-connection parse state.
type session struct {
	server  *Server
	conn    net.Conn
	decoder *framing.Decoder

	buf       []byte
	receiving bool
	file      []byte
}

func (ss *session) feed(chunk []byte) {
	if ss.decoder != nil {
		frames, err := ss.decoder.Feed(chunk)
		if err != nil {
			ss.server.logger.Warn("Malformed request frame", zap.Error(err))
		}
		for _, f := range frames {
			ss.unit(f.Payload)
		}
		return
	}

	ss.buf = append(ss.buf, chunk...)
	ss.scan(false)
	// A lone short command at the end of a read is complete.
	ss.scan(true)
}

// unit handles one length-prefixed unit.
func (ss *session) unit(payload string) {
	if ss.receiving {
		if voice, ok := strings.CutPrefix(payload, framing.FileEndPrefix); ok {
			ss.finishUpload(voice)
			return
		}
		ss.file = append(ss.file, payload...)
		return
	}
	if payload == framing.FileStart {
		ss.receiving = true
		ss.file = nil
		return
	}
	ss.server.handle(ss.conn, payload)
}

var requestTokens = []string{
	"REQUEST_APP_STATE",
	"REQUEST_PARAMETERS",
	"REQUEST_LAST_BARKS",
	framing.FileStart,
}

// scan consumes every complete token at the head of the buffer. Requests are
// not delimited on the wire, so tokens are recognised by their shape.
func (ss *session) scan(flush bool) {
	for len(ss.buf) > 0 {
		if ss.receiving {
			if !ss.scanFile() {
				return
			}
			continue
		}

		consumed, wait := ss.scanCommand(flush)
		if wait {
			return
		}
		ss.buf = ss.buf[consumed:]
	}
}

func (ss *session) scanFile() bool {
	idx := bytes.Index(ss.buf, []byte(framing.FileEndPrefix))
	if idx < 0 {
		keep := len(framing.FileEndPrefix) - 1
		if len(ss.buf) > keep {
			ss.file = append(ss.file, ss.buf[:len(ss.buf)-keep]...)
			ss.buf = ss.buf[len(ss.buf)-keep:]
		}
		return false
	}

	rest := ss.buf[idx+len(framing.FileEndPrefix):]
	voice, n, wait := matchVoice(rest)
	if wait {
		return false
	}
	ss.file = append(ss.file, ss.buf[:idx]...)
	ss.buf = rest[n:]
	ss.finishUpload(voice)
	return true
}

func (ss *session) finishUpload(voice string) {
	ss.receiving = false
	data := ss.file
	ss.file = nil
	ss.server.recordUpload(voice, data)
}

// scanCommand returns how many bytes the head command used, or wait when more
// input is needed to tell.
func (ss *session) scanCommand(flush bool) (consumed int, wait bool) {
	buf := ss.buf
	text := string(buf)

	for _, tok := range requestTokens {
		if strings.HasPrefix(text, tok) {
			if tok == framing.FileStart {
				ss.receiving = true
				ss.file = nil
			} else {
				ss.server.handle(ss.conn, tok)
			}
			return len(tok), false
		}
		if strings.HasPrefix(tok, text) {
			return 0, true
		}
	}

	switch buf[0] {
	case '0', '1':
		ss.server.handle(ss.conn, text[:1])
		return 1, false
	case '3':
		end := strings.IndexByte(text, ']')
		if end < 0 {
			return 0, true
		}
		ss.server.handle(ss.conn, text[:end+1])
		return end + 1, false
	case '2':
		if len(buf) == 1 {
			if flush {
				ss.server.handle(ss.conn, "2")
				return 1, false
			}
			return 0, true
		}
		if buf[1] != ' ' {
			ss.server.handle(ss.conn, "2")
			return 1, false
		}
		voice, n, more := matchVoice(buf[2:])
		if more {
			return 0, true
		}
		ss.server.handle(ss.conn, "2 "+voice)
		return 2 + n, false
	}

	ss.server.logger.Warn("Skipping unknown request byte", zap.String("byte", text[:1]))
	return 1, false
}

// matchVoice recognises a voice name at the head of b. more is set when b is
// empty or a strict prefix of a known voice. Unknown names consume the whole
// buffer.
func matchVoice(b []byte) (voice string, n int, more bool) {
	s := string(b)
	if s == "" {
		return "", 0, true
	}
	for _, v := range domain.Voices {
		name := v.String()
		if strings.HasPrefix(s, name) {
			return name, len(name), false
		}
		if len(s) < len(name) && strings.HasPrefix(name, s) {
			more = true
		}
	}
	if more {
		return "", 0, true
	}
	return s, len(s), false
}

// handle applies one request and replies when it is a query.
func (s *Server) handle(conn net.Conn, cmd string) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	silent := s.silent
	var reply string
	query := true

	switch {
	case cmd == "REQUEST_APP_STATE":
		reply = "0"
		if s.on {
			reply = "1"
		}
	case cmd == "REQUEST_PARAMETERS":
		reply = domain.FormatParameterSet(s.params.ParameterSet())
	case cmd == "REQUEST_LAST_BARKS":
		reply = domain.FormatEvents(s.events)
	case cmd == "1" || cmd == "0":
		query = false
		s.on = cmd == "1"
	case strings.HasPrefix(cmd, "2"):
		query = false
		voice := strings.TrimSpace(strings.TrimPrefix(cmd, "2"))
		s.triggers = append(s.triggers, voice)
		s.appendEvent(voice)
	case strings.HasPrefix(cmd, "3 "):
		query = false
		params, err := domain.ParseParameterList(strings.TrimPrefix(cmd, "3 "))
		if err != nil {
			s.logger.Warn("Ignoring malformed parameter update", zap.String("command", cmd), zap.Error(err))
			break
		}
		s.params = params
	default:
		query = false
		s.logger.Warn("Unknown command", zap.String("command", cmd))
	}
	s.mu.Unlock()

	s.logger.Debug("Command handled", zap.String("command", cmd), zap.Bool("query", query))
	if !query || silent {
		return
	}
	s.reply(conn, reply)
}

func (s *Server) appendEvent(voice string) {
	if voice == "" {
		voice = "None"
	}
	s.events = append(s.events, domain.EventRecord{
		Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		Status:    statusTriggered,
		Voice:     voice,
	})
	if len(s.events) > s.cfg.MaxEvents {
		s.events = s.events[len(s.events)-s.cfg.MaxEvents:]
	}
}

func (s *Server) recordUpload(voice string, data []byte) {
	s.mu.Lock()
	s.uploads = append(s.uploads, Upload{Voice: voice, Data: data, ReceivedAt: time.Now()})
	s.commands = append(s.commands, fmt.Sprintf("%s(%d bytes)%s%s", framing.FileStart, len(data), framing.FileEndPrefix, voice))
	s.mu.Unlock()
	s.logger.Info("Recording received", zap.String("voice", voice), zap.Int("bytes", len(data)))
}

func (s *Server) reply(conn net.Conn, payload string) {
	if s.cfg.ResponseDelay > 0 {
		time.Sleep(s.cfg.ResponseDelay)
	}
	frame, err := s.codec.EncodeFrame(payload)
	if err != nil {
		s.logger.Error("Failed to encode reply", zap.Error(err))
		return
	}
	if _, err := conn.Write(frame); err != nil {
		s.logger.Warn("Reply failed", zap.Error(err))
	}
}
