package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/crisp_call/lib/logger/sl"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
)

// OggSource plays an Ogg/Opus file in a loop as the microphone. Silence is
// sent while the stream is muted.
type OggSource struct {
	path string
	log  *slog.Logger
}

func NewOggSource(path string, log *slog.Logger) *OggSource {
	if log == nil {
		log = slog.Default()
	}
	return &OggSource{path: path, log: log}
}

func (s *OggSource) Capture(ctx context.Context) (*LocalStream, error) {
	const op = "media.ogg.capture"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader, file, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, errors.Join(ErrCaptureFailed, err))
	}

	streamID := "local-" + uuid.NewString()
	track, err := newAudioTrack(streamID)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", op, errors.Join(ErrCaptureFailed, err))
	}

	log := s.log.With(slog.String("op", op), slog.String("path", s.path))
	done := make(chan struct{})
	var wg sync.WaitGroup
	stream := NewLocalStream(streamID, []webrtc.TrackLocal{track}, func() {
		close(done)
		wg.Wait()
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pump(log, reader, file, track, stream.Muted, done)
	}()
	return stream, nil
}

func (s *OggSource) open() (*oggreader.OggReader, *os.File, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, nil, err
	}
	reader, _, err := oggreader.NewWith(file)
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	return reader, file, nil
}

func (s *OggSource) pump(log *slog.Logger, reader *oggreader.OggReader, file *os.File, track *webrtc.TrackLocalStaticSample, muted func() bool, done <-chan struct{}) {
	defer func() { _ = file.Close() }()

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			_ = file.Close()
			reader, file, err = s.open()
			if err != nil {
				log.Warn("failed to rewind microphone file", sl.Err(err))
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			log.Warn("failed to read ogg page", sl.Err(err))
			return
		}

		d := frameDuration
		if header.GranulePosition > lastGranule {
			samples := header.GranulePosition - lastGranule
			d = time.Duration(float64(samples)/48000*1000) * time.Millisecond
		}
		lastGranule = header.GranulePosition

		data := page
		if muted() {
			data = opusSilence
		}
		if !writeFrame(log, track, data, d) {
			return
		}
	}
}
