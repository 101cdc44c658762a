package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	keepAliveInterval = 20 * time.Second
	wsWriteTimeout    = 5 * time.Second
)

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	c, ok := s.subscribe("sse")
	if !ok {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.unsubscribe(c)
	defer s.metrics.TrackLiveClient("sse")()

	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case ev, ok := <-c.ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: journey\ndata: %s\n\n", data)
			flusher.Flush()
			s.metrics.LiveEvent("sse", true)
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if s.cors != nil {
		if s.cors.allowAll {
			opts.InsecureSkipVerify = true
		} else {
			for origin := range s.cors.origins {
				opts.OriginPatterns = append(opts.OriginPatterns, hostOf(origin))
			}
		}
	}
	conn, err := websocket.Accept(baseWriter(w), r, opts)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c, ok := s.subscribe("ws")
	if !ok {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.unsubscribe(c)
	defer s.metrics.TrackLiveClient("ws")()

	// clients only listen; CloseRead handles their control frames
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case ev, ok := <-c.ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				return
			}
			s.metrics.LiveEvent("ws", true)
		}
	}
}

func hostOf(origin string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if len(origin) > len(prefix) && origin[:len(prefix)] == prefix {
			return origin[len(prefix):]
		}
	}
	return origin
}
