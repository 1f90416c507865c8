package capture

import (
	"context"
	"errors"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/sirupsen/logrus"

	"github.com/vvou01/interview-pilot/internal/transcript"
)

// DeepgramTransport connects to Deepgram live transcription with
// diarization on. Connection parameters are fixed at connect time.
type DeepgramTransport struct {
	apiKey     string
	sampleRate int
	log        *logrus.Entry

	mu     sync.Mutex
	client *client.WSCallback
}

func NewDeepgramTransport(apiKey string, sampleRate int, log *logrus.Entry) *DeepgramTransport {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &DeepgramTransport{apiKey: apiKey, sampleRate: sampleRate, log: log}
}

func (t *DeepgramTransport) Connect(ctx context.Context, h StreamHandler) error {
	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:       "nova-2",
		Language:    "en-US",
		Diarize:     true,
		Punctuate:   true,
		SmartFormat: true,
		Encoding:    "linear16",
		SampleRate:  t.sampleRate,
		Channels:    1,
	}

	dg, err := client.NewWSUsingCallback(ctx, t.apiKey, cOptions, tOptions, deepgramCallback{handler: h, log: t.log})
	if err != nil {
		return err
	}
	if ok := dg.Connect(); !ok {
		return errors.New("deepgram connect failed")
	}

	t.mu.Lock()
	t.client = dg
	t.mu.Unlock()
	return nil
}

func (t *DeepgramTransport) Send(chunk []byte) error {
	t.mu.Lock()
	dg := t.client
	t.mu.Unlock()
	if dg == nil {
		return errors.New("deepgram transport not connected")
	}
	_, err := dg.Write(chunk)
	return err
}

func (t *DeepgramTransport) Close() error {
	t.mu.Lock()
	dg := t.client
	t.client = nil
	t.mu.Unlock()
	if dg != nil {
		dg.Stop()
	}
	return nil
}

// deepgramCallback adapts the SDK callback surface to StreamHandler. A
// malformed message from the service is logged and skipped; it never tears
// down the socket.
type deepgramCallback struct {
	handler StreamHandler
	log     *logrus.Entry
}

func (c deepgramCallback) Open(*api.OpenResponse) error {
	c.handler.Opened()
	return nil
}

func (c deepgramCallback) Message(mr *api.MessageResponse) error {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		if c.log != nil {
			c.log.Debug("deepgram: skipping malformed message")
		}
		return nil
	}

	alt := mr.Channel.Alternatives[0]
	tags := make([]int, 0, len(alt.Words))
	for _, word := range alt.Words {
		if word.Speaker != nil {
			tags = append(tags, *word.Speaker)
		}
	}

	c.handler.Fragment(transcript.Fragment{
		Text:    alt.Transcript,
		IsFinal: mr.IsFinal,
		Tags:    tags,
	})
	return nil
}

func (c deepgramCallback) UtteranceEnd(*api.UtteranceEndResponse) error {
	c.handler.Boundary()
	return nil
}

func (c deepgramCallback) Close(*api.CloseResponse) error {
	c.handler.Closed()
	return nil
}

func (c deepgramCallback) Error(er *api.ErrorResponse) error {
	if c.log != nil && er != nil {
		c.log.WithField("code", er.ErrCode).Warnf("deepgram error: %s", er.Description)
	}
	return nil
}

func (c deepgramCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c deepgramCallback) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c deepgramCallback) UnhandledEvent([]byte) error { return nil }
