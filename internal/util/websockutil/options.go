package websockutil

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
)

type Options struct {
	BufferSize    int           `toml:"buffer-size"`
	WriteDeadline time.Duration `toml:"write-deadline"`
	PingInterval  time.Duration `toml:"ping-interval"`
	PingTimeout   time.Duration `toml:"ping-timeout"`
	ReadMsgLimit  int64         `toml:"read-msg-limit"`
	// Origins accepted besides the request host. "*" accepts any origin.
	AllowedOrigins []string `toml:"allowed-origins"`
}

func (o *Options) FillDefaults() {
	if o.BufferSize == 0 {
		o.BufferSize = 2048
	}
	if o.WriteDeadline == 0 {
		o.WriteDeadline = 30 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PingTimeout == 0 {
		o.PingTimeout = 1 * time.Minute
	}
	if o.ReadMsgLimit == 0 {
		o.ReadMsgLimit = 4096
	}
}

func (o *Options) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" || slices.Contains(o.AllowedOrigins, "*") || slices.Contains(o.AllowedOrigins, origin) {
		return true
	}
	return origin == "http://"+req.Host || origin == "https://"+req.Host
}

func (o *Options) Upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  o.BufferSize,
		WriteBufferSize: o.BufferSize,
		CheckOrigin:     o.checkOrigin,
	}
}
