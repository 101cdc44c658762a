package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

type devMessage struct {
	ID             int64   `json:"id"`
	Timestamp      int64   `json:"timestamp"`
	Content        string  `json:"content"`
	SenderID       int64   `json:"sender_id"`
	SenderFullName string  `json:"sender_full_name"`
	AvatarURL      *string `json:"avatar_url"`
	Stream         string  `json:"display_recipient"`
	Topic          string  `json:"subject"`
}

// realm is an in-memory stand-in for the parts of the Zulip REST API the
// message adapter calls.
type realm struct {
	mu       sync.Mutex
	nextID   int64
	messages []devMessage
	senders  map[string]int64
	email    string
	apiKey   string
	now      func() time.Time
}

func newRealm(email, apiKey string) *realm {
	return &realm{nextID: 1, senders: make(map[string]int64), email: email, apiKey: apiKey, now: time.Now}
}

type emitReq struct {
	Stream    string    `json:"stream"`
	Topic     string    `json:"topic"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Ts        time.Time `json:"ts,omitempty"`
}

func (rl *realm) add(req emitReq) devMessage {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if req.Ts.IsZero() {
		req.Ts = rl.now().UTC()
	}
	if req.Sender == "" {
		req.Sender = req.Topic
	}
	senderID, ok := rl.senders[req.Sender]
	if !ok {
		senderID = int64(len(rl.senders) + 1)
		rl.senders[req.Sender] = senderID
	}
	msg := devMessage{
		ID:             rl.nextID,
		Timestamp:      req.Ts.Unix(),
		Content:        req.Content,
		SenderID:       senderID,
		SenderFullName: req.Sender,
		Stream:         req.Stream,
		Topic:          req.Topic,
	}
	if req.AvatarURL != "" {
		avatar := req.AvatarURL
		msg.AvatarURL = &avatar
	}
	rl.nextID++
	rl.messages = append(rl.messages, msg)
	return msg
}

// query returns at most numBefore of the newest messages matching stream and
// topic, oldest first.
func (rl *realm) query(stream, topic string, numBefore int) []devMessage {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	var out []devMessage
	for _, m := range rl.messages {
		if m.Stream == stream && m.Topic == topic {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if numBefore >= 0 && len(out) > numBefore {
		out = out[len(out)-numBefore:]
	}
	return out
}

func (rl *realm) authorized(r *http.Request) bool {
	if rl.email == "" && rl.apiKey == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	return ok && user == rl.email && pass == rl.apiKey
}

func (rl *realm) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /emit", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req emitReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Stream == "" || req.Topic == "" || req.Content == "" {
			http.Error(w, "stream, topic, content required", http.StatusBadRequest)
			return
		}
		msg := rl.add(req)
		writeResult(w, http.StatusOK, map[string]any{"result": "success", "id": msg.ID})
	})

	mux.HandleFunc("GET /api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		if !rl.authorized(r) {
			writeResult(w, http.StatusUnauthorized, map[string]any{"result": "error", "msg": "Invalid API key"})
			return
		}
		q := r.URL.Query()
		var narrow []struct {
			Operator string `json:"operator"`
			Operand  string `json:"operand"`
		}
		if err := json.Unmarshal([]byte(q.Get("narrow")), &narrow); err != nil {
			writeResult(w, http.StatusBadRequest, map[string]any{"result": "error", "msg": "Invalid narrow"})
			return
		}
		var stream, topic string
		for _, term := range narrow {
			switch term.Operator {
			case "stream", "channel":
				stream = term.Operand
			case "topic":
				topic = term.Operand
			}
		}
		if stream == "" {
			writeResult(w, http.StatusOK, map[string]any{"result": "error", "msg": "Invalid stream"})
			return
		}
		numBefore, err := strconv.Atoi(q.Get("num_before"))
		if err != nil {
			numBefore = 100
		}
		writeResult(w, http.StatusOK, map[string]any{
			"result":   "success",
			"msg":      "",
			"messages": rl.query(stream, topic, numBefore),
		})
	})

	mux.HandleFunc("GET /api/v1/users/me", func(w http.ResponseWriter, r *http.Request) {
		if !rl.authorized(r) {
			writeResult(w, http.StatusUnauthorized, map[string]any{"result": "error", "msg": "Invalid API key"})
			return
		}
		writeResult(w, http.StatusOK, map[string]any{"result": "success", "full_name": "Dev Bot", "email": rl.email})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func writeResult(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
