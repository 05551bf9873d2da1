// Package ui provides the agent's local status page and input surface.
package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"mime"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"labwatch/internal/bridge"
	"labwatch/internal/config"
	"labwatch/internal/network"
)

// Server serves the local UI on the loopback interface
type Server struct {
	configMgr *config.Manager
	bridge    *bridge.Bridge
	listener  net.Listener
	srv       *http.Server
}

// NewServer creates a new UI server
func NewServer(cfgMgr *config.Manager, br *bridge.Bridge) *Server {
	return &Server{
		configMgr: cfgMgr,
		bridge:    br,
	}
}

// Handler returns the UI routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/discover", s.handleDiscover)
	mux.HandleFunc("/api/test-remote", s.handleTestRemote)
	mux.HandleFunc("/api/input/move", s.handleMove)
	mux.HandleFunc("/api/input/click", s.handleClick)
	mux.HandleFunc("/api/input/scroll", s.handleScroll)
	mux.HandleFunc("/api/input/drag", s.handleDrag)
	mux.HandleFunc("/api/input/key", s.handleKey)
	return localOnly(mux)
}

// localOnly rejects requests a page from another site could make through
// the user's browser. The Host must be a loopback name, so DNS rebinding
// fails. Writes must be JSON, which browsers cannot send cross-site
// without a preflight, and any Origin must be this UI.
func localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !loopbackHost(r.Host) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			if origin := r.Header.Get("Origin"); origin != "" && origin != "http://"+r.Host {
				http.Error(w, "Cross-origin request refused", http.StatusForbidden)
				return
			}
			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "application/json" {
				http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func loopbackHost(hostport string) bool {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

// Start listens on addr and serves until Stop. It returns the bound URL.
func (s *Server) Start(addr string, openInBrowser bool) (string, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.listener = listener

	port := listener.Addr().(*net.TCPAddr).Port
	url := fmt.Sprintf("http://127.0.0.1:%d", port)
	log.Printf("UI: serving at %s", url)

	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("UI: server error: %v", err)
		}
	}()

	if openInBrowser {
		go OpenBrowser(url)
	}
	return url, nil
}

// Stop stops the UI server
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// OpenBrowser opens url with the platform's default handler
func OpenBrowser(url string) {
	var err error
	switch runtime.GOOS {
	case "darwin":
		err = exec.Command("open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		err = exec.Command("xdg-open", url).Start()
	}
	if err != nil {
		log.Printf("UI: failed to open browser: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	tmpl.Execute(w, s.bridge.State())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.State())
}

// handleEvents streams state snapshots as server-sent events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	states, cancel := s.bridge.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			data, _ := json.Marshal(st)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.configMgr.Get().Redacted())
	case http.MethodPost:
		var cfg config.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		keepSecrets(&cfg, s.configMgr.Get())
		if err := cfg.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.configMgr.Set(&cfg)
		if err := s.configMgr.Save(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// keepSecrets carries over secrets that GET /api/config blanked and the
// client posted back empty.
func keepSecrets(cfg, current *config.Config) {
	if cfg.General.DeviceToken == "" {
		cfg.General.DeviceToken = current.General.DeviceToken
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = current.Auth.JWTSecret
	}
	if cfg.Redis.Password == "" {
		cfg.Redis.Password = current.Redis.Password
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = current.Database.DSN
	}
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	port := 8080
	if _, p, err := net.SplitHostPort(s.configMgr.Get().General.ListenAddr); err == nil {
		fmt.Sscanf(p, "%d", &port)
	}
	servers, err := network.ScanLAN(r.Context(), port)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if servers == nil {
		servers = []network.DiscoveredServer{}
	}
	writeJSON(w, http.StatusOK, servers)
}

// handleTestRemote checks that a lab server answers at addr
func (s *Server) handleTestRemote(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("addr")
	if addr == "" {
		http.Error(w, "Missing addr", http.StatusBadRequest)
		return
	}

	log.Printf("UI: Testing lab server %s", addr)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		http.Error(w, fmt.Sprintf("Remote returned status %d", resp.StatusCode), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// inputHandler decodes a POSTed payload of type T and applies it.
func inputHandler[T any](apply func(T) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var p T
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := apply(p); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	inputHandler(s.bridge.SendPointerMove)(w, r)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	inputHandler(s.bridge.SendPointerClick)(w, r)
}

func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	inputHandler(s.bridge.SendPointerScroll)(w, r)
}

func (s *Server) handleDrag(w http.ResponseWriter, r *http.Request) {
	inputHandler(s.bridge.SendPointerDrag)(w, r)
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	inputHandler(s.bridge.SendKey)(w, r)
}

var tmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Labwatch Agent</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: linear-gradient(135deg, #1a1a2e 0%, #16213e 100%);
            color: #e2e8f0;
            min-height: 100vh;
            padding: 2rem;
        }
        .container { max-width: 640px; margin: 0 auto; }
        h1 { font-size: 1.75rem; margin-bottom: 1.5rem; color: #a5b4fc; }
        .card {
            background: rgba(255,255,255,0.05);
            border: 1px solid rgba(255,255,255,0.1);
            border-radius: 16px;
            padding: 1.5rem;
            margin-bottom: 1.5rem;
        }
        dt { font-size: 0.8rem; color: #94a3b8; margin-top: 0.75rem; }
        dd { font-size: 1.1rem; font-family: ui-monospace, monospace; }
        .dot { display: inline-block; width: 10px; height: 10px; border-radius: 50%; margin-right: 0.5rem; }
        .on { background: #22c55e; }
        .off { background: #ef4444; }
    </style>
</head>
<body>
<div class="container">
    <h1>Labwatch Agent</h1>
    <div class="card">
        <dl>
            <dt>Connection</dt>
            <dd><span id="dot" class="dot {{if .Connected}}on{{else}}off{{end}}"></span><span id="conn">{{if .Connected}}connected{{else}}offline{{end}}</span></dd>
            <dt>Hardware address</dt>
            <dd id="hw">{{.HardwareAddress}}</dd>
            <dt>Device id</dt>
            <dd id="device">{{if .DeviceID}}{{.DeviceID}}{{else}}unregistered{{end}}</dd>
            <dt>Checked-in user</dt>
            <dd id="user">{{if .BoundUserName}}{{.BoundUserName}}{{else if .BoundUser}}{{.BoundUser}}{{else}}nobody{{end}}</dd>
        </dl>
    </div>
</div>
<script>
    const events = new EventSource('/api/events');
    events.onmessage = (e) => {
        const s = JSON.parse(e.data);
        document.getElementById('dot').className = 'dot ' + (s.connected ? 'on' : 'off');
        document.getElementById('conn').textContent = s.connected ? 'connected' : 'offline';
        document.getElementById('hw').textContent = s.hardware_address;
        document.getElementById('device').textContent = s.device_id || 'unregistered';
        document.getElementById('user').textContent = s.bound_user_name || s.bound_user || 'nobody';
    };
</script>
</body>
</html>
`))
