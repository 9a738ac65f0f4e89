package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

const (
	oggPageDuration   = 20 * time.Millisecond
	opusSampleRate    = 48000
	defaultFrameDelay = 33 * time.Millisecond
)

// FileSource plays an Ogg/Opus file as audio and an IVF file as video,
// looping both until the tracks are stopped. A path left empty yields no
// track of that kind.
type FileSource struct {
	AudioPath string
	VideoPath string
}

func (s FileSource) Acquire(ctx context.Context) (*Tracks, error) {
	if s.AudioPath == "" && s.VideoPath == "" {
		return nil, fmt.Errorf("%w: no media files configured", ErrAccessDenied)
	}

	stream := uuid.NewString()
	tracks := &Tracks{}

	if s.AudioPath != "" {
		if err := probeOgg(s.AudioPath); err != nil {
			return nil, fmt.Errorf("%w: audio: %v", ErrAccessDenied, err)
		}
		t, err := NewTrack(webrtc.MimeTypeOpus, "audio", stream)
		if err != nil {
			return nil, err
		}
		tracks.Audio = t
	}

	var header *ivfreader.IVFFileHeader
	if s.VideoPath != "" {
		h, err := probeIVF(s.VideoPath)
		if err != nil {
			return nil, fmt.Errorf("%w: video: %v", ErrAccessDenied, err)
		}
		mime, err := videoMimeType(h.FourCC)
		if err != nil {
			return nil, fmt.Errorf("%w: video: %v", ErrAccessDenied, err)
		}
		t, err := NewTrack(mime, "video", stream)
		if err != nil {
			return nil, err
		}
		tracks.Video = t
		header = h
	}

	if err := ctx.Err(); err != nil {
		tracks.Stop()
		return nil, err
	}

	if tracks.Audio != nil {
		go loop(tracks.Audio, s.AudioPath, playOgg)
	}
	if tracks.Video != nil {
		log.Debug().Str("codec", header.FourCC).Uint16("width", header.Width).Uint16("height", header.Height).Msg("Video file opened")
		go loop(tracks.Video, s.VideoPath, playIVF)
	}
	return tracks, nil
}

func probeOgg(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _, err = oggreader.NewWith(f)
	return err
}

func probeIVF(path string) (*ivfreader.IVFFileHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	_, header, err := ivfreader.NewWith(f)
	return header, err
}

func videoMimeType(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	default:
		return "", fmt.Errorf("unsupported codec %q", fourCC)
	}
}

type playFunc func(t *Track, r io.Reader) error

// loop replays path onto t until t is stopped.
func loop(t *Track, path string, play playFunc) {
	for !t.Stopped() {
		f, err := os.Open(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to open media file")
			return
		}
		err = play(t, f)
		f.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			log.Error().Err(err).Str("path", path).Msg("Media playback stopped")
			return
		}

		select {
		case <-time.After(defaultFrameDelay):
		case <-t.Done():
		}
	}
}

func playOgg(t *Track, r io.Reader) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		page, header, err := ogg.ParseNextPage()
		if err != nil {
			return err
		}
		// Header pages carry no samples
		if header.GranulePosition > lastGranule {
			samples := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			d := time.Duration(samples) * time.Second / opusSampleRate
			if _, err := t.WriteSample(pionmedia.Sample{Data: page, Duration: d}); err != nil {
				return err
			}
		}

		select {
		case <-ticker.C:
		case <-t.Done():
			return nil
		}
	}
}

func playIVF(t *Track, r io.Reader) error {
	ivf, header, err := ivfreader.NewWith(r)
	if err != nil {
		return err
	}

	delay := defaultFrameDelay
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		delay = time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)
	}
	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		frame, _, err := ivf.ParseNextFrame()
		if err != nil {
			return err
		}
		if _, err := t.WriteSample(pionmedia.Sample{Data: frame, Duration: delay}); err != nil {
			return err
		}

		select {
		case <-ticker.C:
		case <-t.Done():
			return nil
		}
	}
}
