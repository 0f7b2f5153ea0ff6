package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/crisp_call/lib/logger/sl"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is one 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: 48000,
	Channels:  2,
}

func newAudioTrack(streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(opusCapability, "audio-"+uuid.NewString(), streamID)
}

// SilenceSource yields a single Opus track that carries silence. It stands in
// for a microphone on devices without one.
type SilenceSource struct {
	log *slog.Logger
}

func NewSilenceSource(log *slog.Logger) *SilenceSource {
	if log == nil {
		log = slog.Default()
	}
	return &SilenceSource{log: log}
}

func (s *SilenceSource) Capture(ctx context.Context) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := "local-" + uuid.NewString()
	track, err := newAudioTrack(streamID)
	if err != nil {
		return nil, errors.Join(ErrCaptureFailed, err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if !writeFrame(s.log, track, opusSilence, frameDuration) {
					return
				}
			}
		}
	}()

	return NewLocalStream(streamID, []webrtc.TrackLocal{track}, func() {
		close(done)
		wg.Wait()
	}), nil
}

// writeFrame reports false once the track can no longer take samples.
func writeFrame(log *slog.Logger, track *webrtc.TrackLocalStaticSample, data []byte, d time.Duration) bool {
	err := track.WriteSample(media.Sample{Data: data, Duration: d})
	if err == nil {
		return true
	}
	if errors.Is(err, io.ErrClosedPipe) {
		return false
	}
	log.Debug("failed to write audio sample", slog.String("track_id", track.ID()), sl.Err(err))
	return true
}
