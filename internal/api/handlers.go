package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jvasek/meshbot/internal/plugin"
	"github.com/jvasek/meshbot/internal/sysinfo"
)

// StatusResponse is the payload for GET /api/status and the watch TUI.
type StatusResponse struct {
	Status              string  `json:"status"`
	Channel             int     `json:"channel"`
	UptimeSeconds       int64   `json:"uptime_seconds"`
	SystemUptimeSeconds int64   `json:"system_uptime_seconds,omitempty"`
	Commands            int     `json:"commands"`
	PluginsLoaded       int     `json:"plugins_loaded"`
	NodesKnown          int     `json:"nodes_known"`
	MailboxRecipients   int     `json:"mailbox_recipients"`
	MailboxPending      int     `json:"mailbox_pending"`
	TxAirtimePct        float64 `json:"tx_airtime_pct"`
	RxAirtimePct        float64 `json:"rx_airtime_pct"`
	ChannelUtilPct      float64 `json:"channel_util_pct"`
	HasTelemetry        bool    `json:"has_telemetry"`
}

// HealthzResponse is the payload for GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// CommandInfo describes one registered command.
type CommandInfo struct {
	Name   string `json:"name"`
	Help   string `json:"help"`
	Source string `json:"source"`
}

// NodeResponse describes one node directory entry.
type NodeResponse struct {
	ID        string    `json:"id"`
	ShortName string    `json:"short_name,omitempty"`
	LongName  string    `json:"long_name,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}

// MailboxStatsResponse is the payload for GET /api/mailbox/stats.
type MailboxStatsResponse struct {
	Recipients int `json:"recipients"`
	Pending    int `json:"pending"`
}

// PluginInfo describes one plugin load outcome.
type PluginInfo struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	Commands []string `json:"commands"`
	Skipped  []string `json:"skipped,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	recipients, pending := s.box.Stats()

	resp := StatusResponse{
		Status:            "ok",
		Channel:           s.channel,
		UptimeSeconds:     int64(snap.BotUptime.Seconds()),
		Commands:          len(s.registry.All()),
		PluginsLoaded:     countLoaded(s.plugins),
		NodesKnown:        len(s.radio.Nodes()),
		MailboxRecipients: recipients,
		MailboxPending:    pending,
		TxAirtimePct:      snap.TxAirtimePct,
		RxAirtimePct:      snap.RxAirtimePct,
		ChannelUtilPct:    snap.ChannelUtilPct,
		HasTelemetry:      snap.HasSample,
	}
	if sys, err := sysinfo.HostUptime(); err == nil {
		resp.SystemUptimeSeconds = int64(sys.Seconds())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	all := s.registry.All()
	out := make([]CommandInfo, 0, len(all))
	for _, d := range all {
		out = append(out, CommandInfo{Name: d.Name, Help: d.Help, Source: string(d.Source)})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.radio.Nodes()
	out := make([]NodeResponse, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeResponse{
			ID:        string(n.ID),
			ShortName: n.ShortName,
			LongName:  n.LongName,
			LastSeen:  n.LastSeen,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMailboxStats(w http.ResponseWriter, r *http.Request) {
	recipients, pending := s.box.Stats()
	s.writeJSON(w, http.StatusOK, MailboxStatsResponse{Recipients: recipients, Pending: pending})
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	out := make([]PluginInfo, 0, len(s.plugins))
	for _, rep := range s.plugins {
		out = append(out, PluginInfo{
			Name:     rep.Name,
			Path:     rep.Path,
			Commands: rep.Commands,
			Skipped:  rep.Skipped,
			Error:    rep.Error(),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func countLoaded(reports []plugin.LoadReport) int {
	n := 0
	for _, r := range reports {
		if r.Err == nil {
			n++
		}
	}
	return n
}
