package recording

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/errors"
	"github.com/moka-remote/mokactl/internal/history"
	"github.com/moka-remote/mokactl/internal/logging"
	"github.com/moka-remote/mokactl/internal/mockserver"
	"github.com/moka-remote/mokactl/internal/protocol"
	"github.com/moka-remote/mokactl/internal/transport"
)

type fakeSender struct {
	data  []byte
	voice domain.Voice
	err   error
}

func (f *fakeSender) UploadRecording(_ context.Context, data []byte, voice domain.Voice) error {
	f.data, f.voice = data, voice
	return f.err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "bark.wav", "RIFF audio")
	rec, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.Name() != "bark.wav" || string(rec.Data) != "RIFF audio" {
		t.Errorf("Load() = %+v", rec)
	}
	if len(rec.Digest) != 64 || rec.Digest != Digest([]byte("RIFF audio")) {
		t.Errorf("Digest = %q", rec.Digest)
	}
	if Digest([]byte("a")) == Digest([]byte("b")) {
		t.Error("different content has the same digest")
	}

	for name, p := range map[string]string{
		"missing":   filepath.Join(t.TempDir(), "nope.wav"),
		"empty":     writeFile(t, "empty.wav", ""),
		"directory": t.TempDir(),
	} {
		if _, err := Load(p); !errors.IsKind(err, errors.KindFileIO) {
			t.Errorf("%s: Load() error = %v, want file I/O error", name, err)
		}
	}
}

func TestUploadDeletesFileAndRecordsHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	defer store.Close()

	sender := &fakeSender{}
	u := NewUploader(sender, store, "home", logging.NewTestLogger(t))

	path := writeFile(t, "bark.wav", "woof")
	res, err := u.Upload(context.Background(), path, "maman", false)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if sender.voice != domain.VoiceMaman || string(sender.data) != "woof" {
		t.Errorf("sent %q as %q", sender.data, sender.voice)
	}
	if !res.Deleted || res.Previous != nil {
		t.Errorf("Upload() = %+v", res)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("recording still on disk: %v", err)
	}

	// Same content again, kept this time.
	again := writeFile(t, "copy.wav", "woof")
	res, err = u.Upload(context.Background(), again, domain.VoiceOscar, true)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if res.Deleted {
		t.Error("kept recording was deleted")
	}
	if res.Previous == nil || res.Previous.FileName != "bark.wav" {
		t.Errorf("Previous = %+v, want the first upload", res.Previous)
	}
	if _, err := os.Stat(again); err != nil {
		t.Errorf("kept recording missing: %v", err)
	}
}

func TestUploadFailureKeepsFile(t *testing.T) {
	sender := &fakeSender{err: transport.ErrNotConnected}
	u := NewUploader(sender, nil, "home", logging.NewTestLogger(t))

	path := writeFile(t, "bark.wav", "woof")
	_, err := u.Upload(context.Background(), path, domain.VoicePapa, false)
	if !stderrors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("Upload() error = %v, want ErrNotConnected", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("recording removed after failed upload: %v", err)
	}

	if _, err := u.Upload(context.Background(), path, "Rex", false); err == nil {
		t.Error("Upload() accepted an unknown voice")
	}
}

func TestUploadToMockAppliance(t *testing.T) {
	cfg := mockserver.DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	s := mockserver.New(cfg, logging.NewTestLogger(t))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	m, err := transport.NewManager(transport.DefaultOptions(s.Addr()), logging.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	client, err := protocol.NewClient(m, time.Second, logging.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	path := writeFile(t, "bark.wav", "RIFF\x00\x01binary audio")
	if _, err := NewUploader(client, nil, "mock", logging.NewTestLogger(t)).Upload(context.Background(), path, domain.VoiceHeloise, false); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(s.Uploads()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	uploads := s.Uploads()
	if len(uploads) != 1 || uploads[0].Voice != "Héloïse" || string(uploads[0].Data) != "RIFF\x00\x01binary audio" {
		t.Errorf("appliance received %+v", uploads)
	}
}
