package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	"github.com/noah-isme/olympiad-registration-bot/pkg/storage"
)

type stubProofSource struct {
	mu       sync.Mutex
	data     []byte
	failures int
	calls    int
}

func (s *stubProofSource) Fetch(_ context.Context, ref string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("telegram unavailable")
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("file %s was not written", path)
}

func paidRegistration() *models.Registration {
	ref := "7_Ivanov_Ivan_5"
	proof := "photo-file-id"
	return &models.Registration{ID: 7, ChargeReference: &ref, ProofImageRef: &proof, PaymentConfirmed: true}
}

func TestProofArchiveDownscalesAndStores(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	source := &stubProofSource{data: pngFixture(t, 400, 200)}

	svc := NewProofArchiveService(source, store, ProofArchiveConfig{MaxDimension: 100}, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Archive(paidRegistration())

	path := store.Path("proof_7_Ivanov_Ivan_5.jpg")
	waitForFile(t, path)
	img, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestProofArchiveRetriesFailedDownload(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	source := &stubProofSource{data: pngFixture(t, 20, 20), failures: 2}

	svc := NewProofArchiveService(source, store, ProofArchiveConfig{Retries: 3, RetryDelay: 5 * time.Millisecond}, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Archive(paidRegistration())

	waitForFile(t, store.Path("proof_7_Ivanov_Ivan_5.jpg"))
	source.mu.Lock()
	assert.Equal(t, 3, source.calls)
	source.mu.Unlock()
}

func TestProofArchiveIgnoresRegistrationWithoutProof(t *testing.T) {
	source := &stubProofSource{}
	svc := NewProofArchiveService(source, nil, ProofArchiveConfig{}, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Archive(&models.Registration{ID: 3})
	svc.Archive(nil)

	time.Sleep(20 * time.Millisecond)
	source.mu.Lock()
	assert.Zero(t, source.calls)
	source.mu.Unlock()
}

func TestProofFileNameFallsBackToID(t *testing.T) {
	assert.Equal(t, "proof_12.jpg", proofFileName(proofJob{RegistrationID: 12}))
	assert.Equal(t, "proof_12_A_B_3.jpg", proofFileName(proofJob{RegistrationID: 12, ChargeReference: "12_A_B_3"}))
}

type recordingArchiver struct {
	archived []int64
}

func (r *recordingArchiver) Archive(reg *models.Registration) {
	r.archived = append(r.archived, reg.ID)
}

func TestConfirmPaymentHandsProofToArchiver(t *testing.T) {
	svc := newTestRegistrationService(newStubRegistrationRepo())
	archiver := &recordingArchiver{}
	svc.SetProofArchiver(archiver)

	reg, err := svc.Register(context.Background(), sampleRegistrationInput("attempt-archive"))
	require.NoError(t, err)

	_, err = svc.ConfirmPayment(context.Background(), reg.ID, "photo-1")
	require.NoError(t, err)
	_, err = svc.ConfirmPayment(context.Background(), reg.ID, "photo-2")
	require.NoError(t, err)

	assert.Equal(t, []int64{reg.ID}, archiver.archived)
}
