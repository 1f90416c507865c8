package main

import (
	"fmt"
	"io"
	"sync"

	microphone "github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"
)

// micDevice adapts the portaudio-backed microphone to the capture side's
// chunked pull model. Stream pushes into a pipe; a drain goroutine moves
// bytes into a bounded buffer that Read serves without blocking.
type micDevice struct {
	sampleRate int

	mu     sync.Mutex
	mic    *microphone.Microphone
	buf    []byte
	pr     *io.PipeReader
	closed bool
}

func newMicDevice(sampleRate int) *micDevice {
	return &micDevice{sampleRate: sampleRate}
}

func (d *micDevice) Start() error {
	mic, err := microphone.New(microphone.AudioConfig{
		InputChannels: 1,
		SamplingRate:  float32(d.sampleRate),
	})
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	if err := mic.Start(); err != nil {
		return fmt.Errorf("start microphone: %w", err)
	}

	pr, pw := io.Pipe()

	d.mu.Lock()
	d.mic = mic
	d.pr = pr
	d.buf = nil
	d.closed = false
	d.mu.Unlock()

	go func() {
		_ = mic.Stream(pw)
		_ = pw.Close()
	}()
	go d.drain(pr)

	return nil
}

func (d *micDevice) drain(pr *io.PipeReader) {
	chunk := make([]byte, 4096)
	for {
		n, err := pr.Read(chunk)
		if n > 0 {
			d.mu.Lock()
			// cap pending audio at roughly two seconds of linear16
			if len(d.buf) < d.sampleRate*4 {
				d.buf = append(d.buf, chunk[:n]...)
			}
			d.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (d *micDevice) Read(max int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, io.EOF
	}
	if len(d.buf) == 0 {
		return nil, nil
	}

	n := max
	if n > len(d.buf) {
		n = len(d.buf)
	}
	out := make([]byte, n)
	copy(out, d.buf[:n])
	d.buf = d.buf[n:]
	return out, nil
}

func (d *micDevice) Stop() error {
	d.mu.Lock()
	mic := d.mic
	pr := d.pr
	d.mic = nil
	d.closed = true
	d.buf = nil
	d.mu.Unlock()

	if pr != nil {
		_ = pr.Close()
	}
	if mic == nil {
		return nil
	}
	return mic.Stop()
}
