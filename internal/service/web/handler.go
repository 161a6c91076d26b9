package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	manager "freenode_sieve/nodepool"
	"freenode_sieve/nodepool/model"
)

// StatusProvider defines what the web handler reads from the node pool manager.
// This decouples the web package from the scheduler.
type StatusProvider interface {
	LastSummary() *manager.RunSummary
	Accepted() []*model.Node
}

type Handler struct {
	provider StatusProvider
	hub      *Hub
	started  time.Time
}

func NewHandler(provider StatusProvider, hub *Hub) *Handler {
	return &Handler{provider: provider, hub: hub, started: time.Now()}
}

// HandleStatus 处理 GET /api/status 请求
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	type StatusResponse struct {
		Uptime     string              `json:"uptime"`
		LastRun    *manager.RunSummary `json:"last_run"`
		Accepted   int                 `json:"accepted"`
		WebClients int                 `json:"web_clients"`
	}

	resp := StatusResponse{
		Uptime:   time.Since(h.started).Truncate(time.Second).String(),
		LastRun:  h.provider.LastSummary(),
		Accepted: len(h.provider.Accepted()),
	}
	if h.hub != nil {
		resp.WebClients = h.hub.ClientCount()
	}
	writeJSON(w, resp)
}

// HandleNodes 处理 GET /api/nodes 请求。
// 可选参数: target 只返回能访问该目标的节点, limit 限制数量。
func (h *Handler) HandleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	target := r.URL.Query().Get("target")

	nodes := make([]*model.Node, 0)
	for _, n := range h.provider.Accepted() {
		if target != "" && !n.StreamingAccess[target] {
			continue
		}
		nodes = append(nodes, n)
		if limit > 0 && len(nodes) == limit {
			break
		}
	}
	writeJSON(w, nodes)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
