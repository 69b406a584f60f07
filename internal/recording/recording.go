// Package recording loads audio files for upload and sends them to the
// appliance. A recording is deleted once its upload has been written, unless
// the caller asks to keep it.
package recording

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/errors"
	"github.com/moka-remote/mokactl/internal/interfaces"
	"github.com/moka-remote/mokactl/internal/logging"
)

// MaxSize bounds the files accepted for upload.
const MaxSize = 32 << 20

// Recording is an audio file read into memory.
type Recording struct {
	Path   string
	Data   []byte
	Digest string
}

// Name returns the file's base name.
func (r *Recording) Name() string {
	return filepath.Base(r.Path)
}

// Load reads the file at path. Empty and oversized files are rejected.
func Load(path string) (*Recording, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.FileIO("load_recording", path, err)
	}
	if info.IsDir() {
		return nil, errors.FileIO("load_recording", path, fmt.Errorf("is a directory"))
	}
	if info.Size() == 0 {
		return nil, errors.FileIO("load_recording", path, fmt.Errorf("file is empty"))
	}
	if info.Size() > MaxSize {
		return nil, errors.FileIO("load_recording", path, fmt.Errorf("file is %d bytes, limit is %d", info.Size(), MaxSize))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.FileIO("load_recording", path, err)
	}
	return &Recording{Path: path, Data: data, Digest: Digest(data)}, nil
}

// Digest returns the hex BLAKE2b-256 of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sender is the part of the appliance client the uploader needs.
type Sender interface {
	UploadRecording(ctx context.Context, data []byte, voice domain.Voice) error
}

// Result describes a completed upload.
type Result struct {
	Recording *Recording
	Voice     domain.Voice
	Duration  time.Duration
	Deleted   bool
	// DeleteErr is set when the file could not be removed after upload.
	DeleteErr error
	// Previous is the last upload of identical content, if history is kept.
	Previous *interfaces.StoredUpload
}

// Uploader sends recordings and keeps the upload history.
type Uploader struct {
	sender  Sender
	history interfaces.HistoryStore
	profile string
	logger  *logging.Logger
}

// NewUploader creates an uploader. history may be nil.
func NewUploader(sender Sender, history interfaces.HistoryStore, profile string, logger *logging.Logger) *Uploader {
	if logger == nil {
		logger = logging.GetRecordingLogger()
	}
	return &Uploader{sender: sender, history: history, profile: profile, logger: logger}
}

// Upload sends the file at path tagged with voice. When keep is false the
// file is deleted after the write completes; a failed delete is reported in
// the result and logged, not returned.
func (u *Uploader) Upload(ctx context.Context, path string, voice domain.Voice, keep bool) (Result, error) {
	voice, err := domain.ParseVoice(voice.String())
	if err != nil {
		return Result{}, err
	}

	rec, err := Load(path)
	if err != nil {
		return Result{}, err
	}
	result := Result{Recording: rec, Voice: voice}

	if u.history != nil {
		prev, err := u.history.FindUploadByDigest(u.profile, rec.Digest)
		if err != nil {
			u.logger.Warn("Upload history lookup failed", "error", err.Error())
		} else if prev != nil {
			result.Previous = prev
			u.logger.Info("Recording was uploaded before",
				"file", rec.Name(), "previous_voice", prev.Voice, "uploaded_at", prev.UploadedAt)
		}
	}

	start := time.Now()
	err = u.logger.WithField("file", rec.Name()).LogOperation("upload_recording", func() error {
		return u.sender.UploadRecording(ctx, rec.Data, voice)
	})
	if err != nil {
		return result, fmt.Errorf("failed to upload %s: %w", rec.Name(), err)
	}
	result.Duration = time.Since(start)
	u.logger.Info("Recording uploaded",
		"file", rec.Name(), "voice", voice.String(), "bytes", len(rec.Data), "duration", result.Duration)

	if u.history != nil {
		_, err := u.history.RecordUpload(interfaces.StoredUpload{
			Profile:  u.profile,
			Voice:    voice.String(),
			FileName: rec.Name(),
			Size:     int64(len(rec.Data)),
			Digest:   rec.Digest,
		})
		if err != nil {
			u.logger.Warn("Failed to record upload", "error", err.Error())
		}
	}

	if keep {
		return result, nil
	}
	if err := os.Remove(rec.Path); err != nil {
		result.DeleteErr = errors.FileIO("delete_recording", rec.Path, err)
		u.logger.Warn("Failed to delete recording", "path", rec.Path, "error", err.Error())
		return result, nil
	}
	result.Deleted = true
	return result, nil
}
