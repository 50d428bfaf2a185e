// Package vai provides the Vai Call SDK for Go.
//
// A Client holds the connection settings for one conversation server. From it,
// NewSimulator opens a turn-based simulated call (text plus synthesized audio
// over the message channel) and NewRoom opens a live audio call in a media
// room.
package vai

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-call/pkg/call/api"
	"github.com/vango-go/vai-call/pkg/call/branding"
	"github.com/vango-go/vai-call/pkg/call/capture"
	"github.com/vango-go/vai-call/pkg/call/capture/microphone"
	"github.com/vango-go/vai-call/pkg/call/channel"
	"github.com/vango-go/vai-call/pkg/call/config"
	"github.com/vango-go/vai-call/pkg/call/metrics"
	"github.com/vango-go/vai-call/pkg/call/playback"
	"github.com/vango-go/vai-call/pkg/call/playback/speaker"
	"github.com/vango-go/vai-call/pkg/call/room"
	"github.com/vango-go/vai-call/pkg/call/room/livekit"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultBaseURL = "http://localhost:5001"

// Client is the main entry point for the SDK.
type Client struct {
	// API is the REST client for conversation history, uploads and rooms.
	API *api.Client

	baseURL        string
	socketURL      string
	token          string
	userID         string
	userName       string
	httpClient     *http.Client
	timeout        time.Duration
	connectTimeout time.Duration
	writeTimeout   time.Duration

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics

	dialer        channel.Dialer
	mic           capture.MicrophoneSource
	recognizer    capture.SpeechRecognizer
	captureFormat capture.Format
	speaker       playback.Sink
	speakerRate   int
	branding      *branding.Table
	connector     room.Connector
	trackSink     room.TrackSink
}

// NewClient creates a new client. Unset options fall back to a local server,
// the default microphone and speaker, and a LiveKit room connector.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:       defaultBaseURL,
		logger:        slog.Default(),
		captureFormat: capture.DefaultFormat(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.applyDefaults()

	apiOpts := []api.Option{api.WithLogger(c.logger), api.WithToken(c.token)}
	if c.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(c.httpClient))
	}
	if c.timeout > 0 {
		apiOpts = append(apiOpts, api.WithTimeout(c.timeout))
	}
	c.API = api.New(c.baseURL, apiOpts...)
	return c
}

// NewClientFromConfig creates a client from loaded configuration. opts are
// applied after the configuration.
func NewClientFromConfig(cfg config.Config, opts ...ClientOption) *Client {
	base := []ClientOption{
		WithBaseURL(cfg.APIURL),
		WithSocketURL(cfg.SocketURL),
		WithToken(cfg.APIToken),
		WithUser(cfg.UserID, cfg.UserName),
		WithTimeout(cfg.HTTPTimeout),
		WithConnectTimeout(cfg.ConnectTimeout),
		WithWriteTimeout(cfg.WriteTimeout),
		WithCaptureFormat(capture.Format{SampleRate: cfg.MicSampleRate, Channels: cfg.MicChannels, BitsPerSample: 16}),
		WithSpeakerSampleRate(cfg.PlaybackSampleRate),
	}
	return NewClient(append(base, opts...)...)
}

func (c *Client) applyDefaults() {
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer("")
	}
	c.baseURL = strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if strings.TrimSpace(c.socketURL) == "" {
		if derived, err := config.SocketURLFor(c.baseURL); err == nil {
			c.socketURL = derived
		}
	}
	if strings.TrimSpace(c.userID) == "" {
		c.userID = "guest-" + uuid.NewString()
	}
	if strings.TrimSpace(c.userName) == "" {
		c.userName = "Caller"
	}
	if c.dialer == nil {
		header := http.Header{}
		if c.token != "" {
			header.Set("Authorization", "Bearer "+c.token)
		}
		c.dialer = &channel.WebSocketDialer{
			URL:    c.socketURL,
			Header: header,
			Dialer: &websocket.Dialer{
				Proxy:            http.ProxyFromEnvironment,
				HandshakeTimeout: c.connectTimeout,
			},
			WriteTimeout: c.writeTimeout,
		}
	}
	if c.mic == nil {
		c.mic = &microphone.Malgo{Format: c.captureFormat}
	}
	var device *speaker.Device
	if c.speaker == nil || c.trackSink == nil {
		device = speaker.NewDevice(c.speakerRate, c.logger)
	}
	if c.speaker == nil {
		c.speaker = speaker.NewClipSink(device, c.httpClient, c.logger)
	}
	if c.branding == nil {
		c.branding = branding.Default().WithLogger(c.logger)
	}
	if c.connector == nil {
		c.connector = livekit.NewConnector(c.logger,
			livekit.WithMicrophone(&microphone.Malgo{Format: livekit.MicrophoneFormat()}),
		)
	}
	if c.trackSink == nil {
		c.trackSink = livekit.NewSpeakerSink(device, c.logger)
	}
}

// UserID returns the calling user's identity.
func (c *Client) UserID() string {
	return c.userID
}

// UserName returns the calling user's display name.
func (c *Client) UserName() string {
	return c.userName
}

// Branding returns the company branding table.
func (c *Client) Branding() *branding.Table {
	return c.branding
}

// NewRoom returns a disconnected live room session.
func (c *Client) NewRoom() *room.Session {
	return room.New(c.API, c.connector,
		room.WithTrackSink(c.trackSink),
		room.WithLogger(c.logger),
		room.WithMetrics(c.metrics),
		room.WithTracer(c.tracer),
	)
}
