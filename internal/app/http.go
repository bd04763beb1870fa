package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatfeed/pkg/backend"
	"chatfeed/pkg/logger"
	"chatfeed/pkg/models"
)

// Router builds the HTTP surface:
//   - POST /v1/messages: durable write (tolerant row-field names accepted)
//   - GET  /v1/feed: the current reconciled timeline
//   - GET  /v1/stream: SSE stream of durable rows
//   - GET  /v1/avatars/{account}: resolved avatar URL or 404-with-retry
//   - PUT  /v1/profiles/{account}: upsert identity record
//   - /healthz, /readyz, /metrics
func (a *App) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/messages", a.postMessage).Methods(http.MethodPost)
	r.HandleFunc("/v1/feed", a.getFeed).Methods(http.MethodGet)
	r.HandleFunc("/v1/stream", a.streamRows).Methods(http.MethodGet)
	r.HandleFunc("/v1/avatars/{account}", a.getAvatar).Methods(http.MethodGet)
	r.HandleFunc("/v1/avatars/{account}", a.avatarFailed).Methods(http.MethodDelete)
	r.HandleFunc("/v1/profiles/{account}", a.putProfile).Methods(http.MethodPut)
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// startHTTP starts the HTTP server in a goroutine and returns a channel
// that will carry any server error.
func (a *App) startHTTP() <-chan error {
	a.srv = &http.Server{Addr: a.eff.Addr, Handler: a.Router()}
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// postMessage validates the per-account cooldown and issues the durable
// write. A send inside the cooldown window is rejected before any write.
func (a *App) postMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, `{"error":"read body"}`, http.StatusBadRequest)
		return
	}
	var req struct {
		Account string `json:"account"`
		Sender  string `json:"sender"`
		Level   int    `json:"level"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Text == "" || req.Account == "" {
		http.Error(w, `{"error":"account and text are required"}`, http.StatusBadRequest)
		return
	}

	guard := a.guards.Guard(req.Account)
	now := time.Now()
	if !guard.CanSend(now) {
		left := guard.Remaining(now)
		w.Header().Set("Retry-After", strconv.Itoa(int(left.Seconds())+1))
		http.Error(w, `{"error":"cooldown active"}`, http.StatusTooManyRequests)
		return
	}
	guard.RecordSend(now)

	row, err := a.store.Write(r.Context(), backend.WriteRequest{
		Account: req.Account,
		Sender:  req.Sender,
		Level:   req.Level,
		Text:    req.Text,
	})
	if err != nil {
		logger.Error("write_failed", "account", req.Account, "error", err)
		http.Error(w, `{"error":"write failed"}`, http.StatusInternalServerError)
		return
	}
	logger.Info("message_created", "durable_id", row.ID, "account", row.Account)
	_ = json.NewEncoder(w).Encode(row)
}

// getFeed returns the app session's reconciled timeline.
func (a *App) getFeed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	msgs := a.feed.Messages()
	_ = json.NewEncoder(w).Encode(struct {
		Messages []models.Message `json:"messages"`
		Cooldown string           `json:"cooldown_remaining"`
	}{Messages: msgs, Cooldown: a.feed.Remaining().String()})
}

// streamRows re-exports the realtime push channel as server-sent events.
func (a *App) streamRows(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	rows, cancel, err := a.store.Subscribe(r.Context())
	if err != nil {
		http.Error(w, `{"error":"subscribe failed"}`, http.StatusServiceUnavailable)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	for row := range rows {
		b, merr := json.Marshal(row)
		if merr != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		fl.Flush()
	}
}

// getAvatar resolves the avatar for an account. While unresolved it
// returns 404 with a Retry-After hint; the fetch proceeds in background.
func (a *App) getAvatar(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	account := mux.Vars(r)["account"]
	if url, ok := a.feed.Avatar(account); ok {
		_ = json.NewEncoder(w).Encode(map[string]string{"account": account, "avatar_url": url})
		return
	}
	w.Header().Set("Retry-After", "2")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":"not resolved yet"}`))
}

// avatarFailed reports a render-time image load failure, purging the
// cached URL and scheduling a retry.
func (a *App) avatarFailed(w http.ResponseWriter, r *http.Request) {
	a.feed.AvatarFailed(mux.Vars(r)["account"])
	w.WriteHeader(http.StatusNoContent)
}

// putProfile upserts the identity record for an account.
func (a *App) putProfile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	account := mux.Vars(r)["account"]
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, `{"error":"read body"}`, http.StatusBadRequest)
		return
	}
	p, err := backend.DecodeProfile(account, body)
	if err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if err := a.store.SetProfile(p); err != nil {
		http.Error(w, `{"error":"persist failed"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readyzHandler reports readiness of the backing store.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.store == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	_, _ = w.Write([]byte(`{"status":"ok","version":"` + ver + `"}`))
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
