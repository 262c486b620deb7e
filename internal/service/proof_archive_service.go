package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	"github.com/noah-isme/olympiad-registration-bot/pkg/jobs"
)

// ProofSource downloads a stored proof image by its transport reference.
type ProofSource interface {
	Fetch(ctx context.Context, ref string) (io.ReadCloser, error)
}

type proofStorage interface {
	Save(filename string, data []byte) (string, error)
}

// ProofArchiveConfig tunes proof archiving.
type ProofArchiveConfig struct {
	MaxDimension int
	JPEGQuality  int
	Workers      int
	Retries      int
	RetryDelay   time.Duration
}

type proofJob struct {
	RegistrationID  int64
	ChargeReference string
	ImageRef        string
}

// ProofArchiveService copies payment screenshots into local storage in the
// background, downscaled and re-encoded as JPEG.
type ProofArchiveService struct {
	source  ProofSource
	storage proofStorage
	cfg     ProofArchiveConfig
	queue   *jobs.Queue
	logger  *zap.Logger
}

// NewProofArchiveService wires the archive queue. Call Start before Archive.
func NewProofArchiveService(source ProofSource, store proofStorage, cfg ProofArchiveConfig, logger *zap.Logger) *ProofArchiveService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = 1600
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	svc := &ProofArchiveService{source: source, storage: store, cfg: cfg, logger: logger}
	svc.queue = jobs.NewQueue("proof-archive", svc.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return svc
}

// Start launches the workers.
func (s *ProofArchiveService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop waits for in-flight archive jobs to exit.
func (s *ProofArchiveService) Stop() {
	s.queue.Stop()
}

// Archive schedules reg's proof image for download. Registrations without a
// proof are ignored.
func (s *ProofArchiveService) Archive(reg *models.Registration) {
	if reg == nil || reg.ProofImageRef == nil || *reg.ProofImageRef == "" {
		return
	}
	job := jobs.Job{
		ID:   uuid.NewString(),
		Key:  strconv.FormatInt(reg.ID, 10),
		Type: "proof_archive",
		Payload: proofJob{
			RegistrationID:  reg.ID,
			ChargeReference: reg.ChargeRef(),
			ImageRef:        *reg.ProofImageRef,
		},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to schedule proof archive", zap.Int64("registration_id", reg.ID), zap.Error(err))
	}
}

func (s *ProofArchiveService) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(proofJob)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}

	body, err := s.source.Fetch(ctx, payload.ImageRef)
	if err != nil {
		return fmt.Errorf("fetch proof %s: %w", payload.ImageRef, err)
	}
	defer body.Close()

	data, err := s.normalize(body)
	if err != nil {
		return fmt.Errorf("normalize proof %s: %w", payload.ImageRef, err)
	}

	path, err := s.storage.Save(proofFileName(payload), data)
	if err != nil {
		return fmt.Errorf("store proof: %w", err)
	}
	s.logger.Info("proof archived",
		zap.Int64("registration_id", payload.RegistrationID),
		zap.String("path", path),
		zap.Int("bytes", len(data)))
	return nil
}

func (s *ProofArchiveService) normalize(r io.Reader) ([]byte, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	img = fitWithin(img, s.cfg.MaxDimension)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(s.cfg.JPEGQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fitWithin(img image.Image, max int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= max && bounds.Dy() <= max {
		return img
	}
	return imaging.Fit(img, max, max, imaging.Lanczos)
}

func proofFileName(job proofJob) string {
	name := strconv.FormatInt(job.RegistrationID, 10)
	if ref := alphanumericWithUnderscore(job.ChargeReference); ref != "" {
		name = ref
	}
	return "proof_" + name + ".jpg"
}

func alphanumericWithUnderscore(value string) string {
	out := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out = append(out, c)
		}
	}
	return string(out)
}
