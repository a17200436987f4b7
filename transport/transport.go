// Package transport performs the single request/response exchange behind
// each fetch and reports its progress as events.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// Handler receives the events of one exchange, in order: OnResponse once,
// then any number of OnData, then OnComplete. OnFailure may replace any of
// these. If a handler method returns an error the transport stops and
// delivers nothing more.
type Handler interface {
	// OnResponse receives the status and headers. The body must not be read.
	OnResponse(res *http.Response) error
	// OnData receives the next chunk of the body. The chunk is owned by the handler.
	OnData(chunk []byte) error
	OnComplete()
	OnFailure(err error)
}

// Transport starts exchanges. Start must not block; events are delivered
// from another goroutine. Cancelling ctx aborts the exchange, after which
// OnFailure may still be delivered.
type Transport interface {
	Start(ctx context.Context, req *http.Request, h Handler)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *http.Request, h Handler)

func (f TransportFunc) Start(ctx context.Context, req *http.Request, h Handler) {
	f(ctx, req, h)
}

const DefaultChunkSize = 32 * 1024

// HTTPTransport runs exchanges with an http.Client.
type HTTPTransport struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client
	// ChunkSize is the maximum size of each OnData chunk.
	ChunkSize int
	Logger    *zerolog.Logger
}

func (t *HTTPTransport) Start(ctx context.Context, req *http.Request, h Handler) {
	go t.run(ctx, req, h)
}

func (t *HTTPTransport) run(ctx context.Context, req *http.Request, h Handler) {
	log := zerolog.Nop()
	if t.Logger != nil {
		log = *t.Logger
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	log.Trace().Str("method", req.Method).Str("url", req.URL.String()).Msg("Sending request")
	res, err := client.Do(req.WithContext(ctx))
	if err != nil {
		h.OnFailure(err)
		return
	}
	defer res.Body.Close()
	log.Trace().Int("status", res.StatusCode).Str("url", req.URL.String()).Msg("Received response")

	if err := h.OnResponse(res); err != nil {
		return
	}
	if err := stream(ctx, res.Body, t.chunkSize(), h); err != nil && !errors.Is(err, errHandlerStopped) {
		h.OnFailure(err)
	}
}

func (t *HTTPTransport) chunkSize() int {
	if t.ChunkSize > 0 {
		return t.ChunkSize
	}
	return DefaultChunkSize
}

var errHandlerStopped = errors.New("handler stopped the exchange")

// stream delivers src to h chunk by chunk and signals completion.
func stream(ctx context.Context, src io.Reader, size int, h Handler) error {
	buf := make([]byte, size)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if hErr := h.OnData(chunk); hErr != nil {
				return errHandlerStopped
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				h.OnComplete()
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
}
