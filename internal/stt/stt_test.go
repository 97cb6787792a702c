package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecognizer struct {
	text   string
	err    error
	closed bool
}

func (f *fakeRecognizer) Recognize(ctx context.Context, samples []float32) (string, error) {
	return f.text, f.err
}

func (f *fakeRecognizer) Close() error {
	f.closed = true
	return nil
}

type fakeFetcher struct {
	data []byte
	err  error
	path string
}

func (f *fakeFetcher) FetchToFile(ctx context.Context, url, path string) error {
	f.path = path
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(path, f.data, 0600)
}

type fakeDecoder struct {
	samples []float32
	err     error
	seen    string
}

func (f *fakeDecoder) Samples(ctx context.Context, path string) ([]float32, error) {
	f.seen = path
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return f.samples, f.err
}

func buildWAV(rate uint32, channels uint16, samples []int16) []byte {
	var pcm bytes.Buffer
	for _, s := range samples {
		_ = binary.Write(&pcm, binary.LittleEndian, s)
	}
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+pcm.Len()))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&b, binary.LittleEndian, channels)
	_ = binary.Write(&b, binary.LittleEndian, rate)
	_ = binary.Write(&b, binary.LittleEndian, rate*uint32(channels)*2)
	_ = binary.Write(&b, binary.LittleEndian, channels*2)
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(pcm.Len()))
	b.Write(pcm.Bytes())
	return b.Bytes()
}

func TestDecodeWAVMono16k(t *testing.T) {
	samples, err := DecodeWAV(buildWAV(16000, 1, []int16{0, 16384, -32768, 32767}))
	require.NoError(t, err)
	require.Len(t, samples, 4)
	assert.Equal(t, float32(0), samples[0])
	assert.InDelta(t, 0.5, samples[1], 0.0001)
	assert.InDelta(t, -1.0, samples[2], 0.0001)
	assert.InDelta(t, 1.0, samples[3], 0.0001)
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	samples, err := DecodeWAV(buildWAV(16000, 2, []int16{1000, 3000, -2000, -4000}))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.InDelta(t, 2000.0/32768, samples[0], 0.0001)
	assert.InDelta(t, -3000.0/32768, samples[1], 0.0001)
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	_, err := DecodeWAV([]byte("definitely not audio"))
	assert.Error(t, err)

	// 8-bit PCM is not supported
	wav := buildWAV(16000, 1, []int16{1, 2})
	binary.LittleEndian.PutUint16(wav[34:], 8)
	_, err = DecodeWAV(wav)
	assert.Error(t, err)
}

func TestLoaderSharesInFlightLoad(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	rec := &fakeRecognizer{text: "hi"}
	l := NewLoader(func() (Recognizer, error) {
		calls.Add(1)
		<-release
		return rec, nil
	})

	var wg sync.WaitGroup
	results := make([]Recognizer, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := l.Get(context.Background())
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Same(t, rec, r)
	}
	assert.True(t, l.Loaded())

	require.NoError(t, l.Close())
	assert.True(t, rec.closed)
	assert.False(t, l.Loaded())
}

func TestLoaderRetriesAfterFailure(t *testing.T) {
	var calls atomic.Int32
	l := NewLoader(func() (Recognizer, error) {
		if calls.Add(1) == 1 {
			return nil, ErrModelUnavailable
		}
		return &fakeRecognizer{}, nil
	})

	_, err := l.Get(context.Background())
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.False(t, l.Loaded())

	r, err := l.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, r)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoaderWaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	l := NewLoader(func() (Recognizer, error) {
		<-release
		return &fakeRecognizer{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newTestPipeline(t *testing.T, f *fakeFetcher, d *fakeDecoder, rec *fakeRecognizer) *Pipeline {
	t.Helper()
	p := NewPipeline(f, d, NewLoader(func() (Recognizer, error) { return rec, nil }))
	p.tempDir = t.TempDir()
	return p
}

func TestPipelineTranscribes(t *testing.T) {
	f := &fakeFetcher{data: []byte("OggS")}
	d := &fakeDecoder{samples: []float32{0.1, 0.2}}
	p := newTestPipeline(t, f, d, &fakeRecognizer{text: "  hello there \n"})

	text, err := p.Transcribe(context.Background(), "https://cdn.example/voice-message.ogg", "voice-message.ogg")
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, ".ogg", filepath.Ext(d.seen))

	// temp dir removed after the call
	_, err = os.Stat(filepath.Dir(f.path))
	assert.True(t, os.IsNotExist(err))
}

func TestPipelineCleansUpOnFailure(t *testing.T) {
	f := &fakeFetcher{data: []byte("x")}
	d := &fakeDecoder{err: errors.New("bad audio")}
	p := newTestPipeline(t, f, d, &fakeRecognizer{text: "never"})

	_, err := p.Transcribe(context.Background(), "u", "a.ogg")
	assert.ErrorContains(t, err, "bad audio")
	_, statErr := os.Stat(filepath.Dir(f.path))
	assert.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(p.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPipelineNoSpeech(t *testing.T) {
	for _, text := range []string{"", "   ", "[BLANK_AUDIO]", "(wind blowing)"} {
		p := newTestPipeline(t, &fakeFetcher{data: []byte("x")}, &fakeDecoder{samples: []float32{0}}, &fakeRecognizer{text: text})
		_, err := p.Transcribe(context.Background(), "u", "a.ogg")
		assert.ErrorIs(t, err, ErrNoSpeech, "text %q", text)
	}
}

func TestPipelineDownloadError(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{err: errors.New("HTTP 404")}, &fakeDecoder{}, &fakeRecognizer{})
	_, err := p.Transcribe(context.Background(), "u", "")
	assert.ErrorContains(t, err, "download voice message")
}

func TestPipelineModelUnavailable(t *testing.T) {
	f := &fakeFetcher{data: []byte("x")}
	d := &fakeDecoder{samples: []float32{0.3}}
	p := NewPipeline(f, d, NewLoader(func() (Recognizer, error) { return nil, ErrModelUnavailable }))
	p.tempDir = t.TempDir()

	_, err := p.Transcribe(context.Background(), "u", "a.ogg")
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestOpenWhisperMissingModel(t *testing.T) {
	_, err := OpenWhisper(WhisperConfig{ModelsDir: t.TempDir(), Model: "ggml-base.en.bin"})
	assert.ErrorIs(t, err, ErrModelUnavailable)

	_, err = OpenWhisper(WhisperConfig{})
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestModelCatalog(t *testing.T) {
	m := GetModel("ggml-base.en.bin")
	require.NotNil(t, m)
	assert.Contains(t, m.URL(), "ggml-base.en.bin")
	assert.Nil(t, GetModel("nope.bin"))

	dir := t.TempDir()
	assert.False(t, IsModelDownloaded(dir, m.Name))
	require.NoError(t, os.WriteFile(filepath.Join(dir, m.Name), []byte("x"), 0600))
	assert.True(t, IsModelDownloaded(dir, m.Name))
}

func TestDownloadModel(t *testing.T) {
	payload := bytes.Repeat([]byte("w"), 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ggml-tiny.bin" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	old := modelBaseURL
	modelBaseURL = srv.URL + "/"
	defer func() { modelBaseURL = old }()

	dir := t.TempDir()
	var last int64
	path, err := DownloadModel(context.Background(), srv.Client(), GetModel("ggml-tiny.bin"), dir, func(done, total int64) {
		last = done
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ggml-tiny.bin"), path)
	assert.Equal(t, int64(len(payload)), last)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// failed download leaves nothing behind
	_, err = DownloadModel(context.Background(), srv.Client(), &WhisperModel{Name: "missing.bin"}, dir, nil)
	assert.Error(t, err)
	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1)
}
