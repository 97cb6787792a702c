package stt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pion/opus"
	"github.com/pion/opus/pkg/oggreader"
	"github.com/zeozeozeo/gomplerate"

	. "github.com/roelfdiedericks/discordbridge/internal/logging"
)

const (
	targetSampleRate = 16000 // whisper.cpp input rate
	maxFrameSize     = 5760  // max Opus frame (120ms at 48kHz)
)

// Converter turns arbitrary audio into whisper's input format.
type Converter struct {
	// FFmpegPath is the ffmpeg binary; empty means "ffmpeg" on PATH.
	FFmpegPath string
}

func (c *Converter) ffmpeg() string {
	if c.FFmpegPath == "" {
		return "ffmpeg"
	}
	return c.FFmpegPath
}

// FFmpegAvailable reports whether the converter binary can be found.
func (c *Converter) FFmpegAvailable() bool {
	_, err := exec.LookPath(c.ffmpeg())
	return err == nil
}

// Samples decodes the audio file at src to 16kHz mono float32 in [-1, 1].
// With ffmpeg the file is transcoded to a 16-bit PCM WAV next to src;
// without it, OGG/Opus is decoded in pure Go.
func (c *Converter) Samples(ctx context.Context, src string) ([]float32, error) {
	if c.FFmpegAvailable() {
		wav := strings.TrimSuffix(src, filepath.Ext(src)) + ".16k.wav"
		if err := c.ToWAV(ctx, src, wav); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(wav)
		if err != nil {
			return nil, fmt.Errorf("read converted audio: %w", err)
		}
		return DecodeWAV(data)
	}

	switch strings.ToLower(filepath.Ext(src)) {
	case ".ogg", ".opus", ".oga":
		L_debug("stt: ffmpeg not found, decoding OGG/Opus in Go", "file", src)
		samples, err := decodeOggOpusSafe(src)
		if err != nil {
			return nil, fmt.Errorf("OGG decoding failed (%v) - install ffmpeg for reliable audio conversion", err)
		}
		return samples, nil
	}
	return nil, fmt.Errorf("unsupported audio format %s (install ffmpeg)", filepath.Ext(src))
}

// ToWAV transcodes src to a mono 16kHz 16-bit PCM WAV file at dst.
func (c *Converter) ToWAV(ctx context.Context, src, dst string) error {
	// #nosec G204 - src and dst are temp paths created by the pipeline
	cmd := exec.CommandContext(ctx, c.ffmpeg(),
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-ar", fmt.Sprint(targetSampleRate),
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		"-y", dst,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		L_debug("stt: ffmpeg output", "output", string(out))
		return fmt.Errorf("ffmpeg conversion failed: %w", err)
	}
	return nil
}

// DecodeWAV reads a RIFF/WAVE 16-bit PCM file. Multi-channel audio is
// averaged to mono and other sample rates are resampled to 16kHz.
func DecodeWAV(data []byte) ([]float32, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errors.New("not a WAV file")
	}

	var (
		format, channels, bits uint16
		rate                   uint32
		pcm                    []byte
		haveFmt                bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) {
			// ffmpeg writing to a pipe leaves sizes unset; take what is there
			end = len(data)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, errors.New("short fmt chunk")
			}
			format = binary.LittleEndian.Uint16(data[body:])
			channels = binary.LittleEndian.Uint16(data[body+2:])
			rate = binary.LittleEndian.Uint32(data[body+4:])
			bits = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			pcm = data[body:end]
		}
		off = end + size%2
	}

	switch {
	case !haveFmt:
		return nil, errors.New("WAV has no fmt chunk")
	case format != 1 || bits != 16:
		return nil, fmt.Errorf("unsupported WAV encoding (format %d, %d-bit)", format, bits)
	case channels == 0:
		return nil, errors.New("WAV has zero channels")
	case len(pcm) < 2:
		return nil, errors.New("WAV has no samples")
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:])) // #nosec G115 - PCM sample bits
	}
	samples = toMono(samples, int(channels))
	samples = resampleInt16(samples, int(rate), targetSampleRate)
	return int16ToFloat32(samples), nil
}

// decodeOggOpusSafe recovers from pion/opus panics on unusual streams.
func decodeOggOpusSafe(path string) (samples []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			L_warn("stt: opus decoder panicked, recovered", "panic", r)
			samples, err = nil, fmt.Errorf("decoder panic: %v", r)
		}
	}()
	return decodeOggOpus(path)
}

func decodeOggOpus(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	ogg, header, err := oggreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("parse OGG container: %w", err)
	}

	decoder := opus.NewDecoder()
	out := make([]byte, maxFrameSize*int(header.Channels)*2)
	var all []int16
	stereo := false

	for {
		segments, _, err := ogg.ParseNextPage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse OGG page: %w", err)
		}
		for _, seg := range segments {
			if len(seg) == 0 {
				continue
			}
			clear(out)
			_, isStereo, err := decoder.Decode(seg, out)
			if err != nil {
				L_trace("stt: skipping opus packet", "error", err, "len", len(seg))
				continue
			}
			stereo = stereo || isStereo
			all = append(all, pcmPrefix(out)...)
		}
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no audio samples decoded from %s", path)
	}

	if stereo {
		all = toMono(all, 2)
	}
	all = resampleInt16(all, int(header.SampleRate), targetSampleRate)
	return int16ToFloat32(all), nil
}

// pcmPrefix returns the little-endian samples in buf up to the trailing
// run of zero bytes the decoder left unused.
func pcmPrefix(buf []byte) []int16 {
	end := len(buf) &^ 1
	for end >= 2 && buf[end-1] == 0 && buf[end-2] == 0 {
		end -= 2
	}
	samples := make([]int16, end/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:])) // #nosec G115 - PCM sample bits
	}
	return samples
}

// toMono averages interleaved channels.
func toMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(samples[i*channels+ch])
		}
		mono[i] = int16(sum / int32(channels)) // #nosec G115 - average stays in range
	}
	return mono
}

func resampleInt16(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 {
		return samples
	}
	r, err := gomplerate.NewResampler(1, fromRate, toRate)
	if err != nil {
		L_warn("stt: resampler creation failed, skipping resample", "error", err)
		return samples
	}
	return r.ResampleInt16(samples)
}

// int16ToFloat32 normalizes to [-1, 1].
func int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
