// Package bridge forwards isolate messages between processes over
// HTTP/3. An incoming envelope becomes an ordinary data message posted
// to the local loop; delivery to a closed port is dropped there like any
// other post. The core owns no wire format: the bridge is an embedder
// adapter around it.
package bridge

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	http3 "github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"

	"github.com/loam-lang/loam/internal/runtime/loop"
	"github.com/loam-lang/loam/internal/runtime/rtlog"
)

// postPath is the single endpoint carrying envelopes.
const postPath = "/loam/post"

// Envelope is the transport-level wrapper for one forwarded message.
type Envelope struct {
	Port          uint64 `json:"port"`
	Payload       []byte `json:"payload"`
	SenderSalt    uint64 `json:"senderSalt,omitempty"`
	TimestampUnix int64  `json:"timestampUnix"`
}

// Poster accepts messages for local dispatch. loop.MessageLoop
// satisfies it.
type Poster interface {
	PostMessage(m *loop.IsolateMessage)
}

// Server accepts envelopes over HTTP/3 and posts them locally.
type Server struct {
	srv    *http3.Server
	pc     net.PacketConn
	addr   string
	poster Poster
	codec  Codec
	close  func() error
}

// NewServer creates a server bound to addr with the given TLS config,
// posting received envelopes to poster. A nil codec selects JSON.
func NewServer(addr string, tlsCfg *tls.Config, poster Poster, codec Codec) *Server {
	if codec == nil {
		codec = JSONCodec{}
	}
	s := &Server{addr: addr, poster: poster, codec: codec}
	mux := http.NewServeMux()
	mux.HandleFunc(postPath, s.handlePost)
	s.srv = &http3.Server{Addr: addr, TLSConfig: tlsCfg, Handler: mux}
	return s
}

// Start begins serving on an ephemeral UDP port if addr ends with ":0".
// It returns the actual bound address.
func (s *Server) Start() (string, error) {
	var err error
	s.pc, err = net.ListenPacket("udp", s.addr)
	if err != nil {
		return "", err
	}
	realAddr := s.pc.LocalAddr().String()
	done := make(chan struct{})
	go func() {
		_ = s.srv.Serve(s.pc)
		close(done)
	}()
	s.close = func() error {
		_ = s.pc.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return nil
	}
	return realAddr, nil
}

// Stop stops the server.
func (s *Server) Stop() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	var env Envelope
	if err := s.codec.Unmarshal(body, &env); err != nil {
		rtlog.Logger().Warn("bad envelope", zap.Error(err))
		http.Error(w, "bad envelope", http.StatusBadRequest)
		return
	}
	s.poster.PostMessage(loop.NewDataMessage(loop.Port(env.Port), env.Payload))
	w.WriteHeader(http.StatusAccepted)
}

// Client sends envelopes to remote bridges.
type Client struct {
	http  *http.Client
	codec Codec
}

// NewClient returns a client using an HTTP/3 round tripper with the
// given TLS config. A nil codec selects JSON.
func NewClient(tlsCfg *tls.Config, timeout time.Duration, codec Codec) *Client {
	if codec == nil {
		codec = JSONCodec{}
	}
	tr := &http3.Transport{TLSClientConfig: tlsCfg}
	return &Client{http: &http.Client{Transport: tr, Timeout: timeout}, codec: codec}
}

// Send posts env to the bridge at addr.
func (c *Client) Send(addr string, env Envelope) error {
	if env.TimestampUnix == 0 {
		env.TimestampUnix = time.Now().UnixNano()
	}
	data, err := c.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	resp, err := c.http.Post("https://"+addr+postPath, c.codec.ContentType(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("bridge returned %s", resp.Status)
	}
	return nil
}

// Close shuts down the client's round tripper.
func (c *Client) Close() {
	if tr, ok := c.http.Transport.(*http3.Transport); ok {
		_ = tr.Close()
	}
}
