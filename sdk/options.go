package vai

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-go/vai-call/pkg/call/branding"
	"github.com/vango-go/vai-call/pkg/call/capture"
	"github.com/vango-go/vai-call/pkg/call/channel"
	"github.com/vango-go/vai-call/pkg/call/metrics"
	"github.com/vango-go/vai-call/pkg/call/playback"
	"github.com/vango-go/vai-call/pkg/call/room"
	"go.opentelemetry.io/otel/trace"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the conversation server's REST base URL. Relative audio
// URLs are resolved against it.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithSocketURL sets the message channel websocket URL. When unset it is
// derived from the base URL.
func WithSocketURL(url string) ClientOption {
	return func(c *Client) {
		c.socketURL = url
	}
}

// WithToken sets the bearer token sent on REST and websocket requests.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithUser sets the calling user's stable identity and display name.
func WithUser(id, name string) ClientOption {
	return func(c *Client) {
		c.userID = id
		c.userName = name
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout bounds REST requests that carry no deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithConnectTimeout bounds the websocket handshake.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.connectTimeout = d
	}
}

// WithWriteTimeout bounds each websocket write.
func WithWriteTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.writeTimeout = d
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTracer sets the OpenTelemetry tracer for the client.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithMetrics records engine metrics into m.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithDialer replaces the websocket dialer used by simulators.
func WithDialer(d channel.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithMicrophone sets the microphone used for recorded turns.
func WithMicrophone(mic capture.MicrophoneSource) ClientOption {
	return func(c *Client) {
		c.mic = mic
	}
}

// WithRecognizer sets the speech recognizer that transcribes recorded turns.
func WithRecognizer(r capture.SpeechRecognizer) ClientOption {
	return func(c *Client) {
		c.recognizer = r
	}
}

// WithCaptureFormat sets the PCM format requested from the microphone.
func WithCaptureFormat(f capture.Format) ClientOption {
	return func(c *Client) {
		c.captureFormat = f
	}
}

// WithSpeaker sets the sink that plays agent audio.
func WithSpeaker(sink playback.Sink) ClientOption {
	return func(c *Client) {
		c.speaker = sink
	}
}

// WithSpeakerSampleRate sets the output rate of the default speaker. It has
// no effect when WithSpeaker is used.
func WithSpeakerSampleRate(hz int) ClientOption {
	return func(c *Client) {
		c.speakerRate = hz
	}
}

// WithBranding sets the company branding table.
func WithBranding(t *branding.Table) ClientOption {
	return func(c *Client) {
		c.branding = t
	}
}

// WithRoomConnector sets the media transport for live rooms.
func WithRoomConnector(conn room.Connector) ClientOption {
	return func(c *Client) {
		c.connector = conn
	}
}

// WithTrackSink sets where remote room audio is played.
func WithTrackSink(sink room.TrackSink) ClientOption {
	return func(c *Client) {
		c.trackSink = sink
	}
}
