// Package dashboard serves the monitoring page for a running model server:
// accuracy and F1 trends of the validation history, live updates over a
// websocket, the structure of the loaded model and the spread of its
// predicted probabilities.
//
// The dashboard holds no global state. The history, model and distribution
// it shows are passed in through Sources.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"jamwatch/internal/evaluate"
	"jamwatch/internal/ml"
	"jamwatch/internal/treeviz"
)

// HistorySource is the validation history shown on the page.
type HistorySource interface {
	Snapshot() []evaluate.Sample
	Since(n int) []evaluate.Sample
}

// ModelSource returns the model currently served.
type ModelSource interface {
	Model() (ml.Model, bool)
}

// Sources are the read-only views the dashboard renders. Model and
// Distribution are optional.
type Sources struct {
	History      HistorySource
	Model        ModelSource
	Distribution *Distribution
}

// Config configures the dashboard server.
type Config struct {
	Port int
	// Batch reference lines drawn dashed on the charts; zero hides them.
	BatchAccuracy float64
	BatchF1       float64
	Interval      time.Duration // broadcast period
	StructureTTL  time.Duration // lifetime of a rendered tree
}

// Update is pushed to websocket clients. Samples holds the samples appended
// since the previous update, or the whole history on the first message.
type Update struct {
	Timestamp time.Time         `json:"timestamp"`
	Total     int               `json:"total"`
	Samples   []evaluate.Sample `json:"samples"`
	Model     string            `json:"model,omitempty"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Dashboard is the monitoring web server.
type Dashboard struct {
	src      Sources
	cfg      Config
	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader
	svgCache *cache.Cache

	clients          map[*client]bool
	clientsMu        sync.RWMutex
	broadcastChannel chan Update
	stopChannel      chan struct{}
	stopOnce         sync.Once
	sent             int
}

// New creates a dashboard. It does not start serving.
func New(src Sources, cfg Config) *Dashboard {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.StructureTTL <= 0 {
		cfg.StructureTTL = 30 * time.Second
	}

	d := &Dashboard{
		src:              src,
		cfg:              cfg,
		router:           mux.NewRouter(),
		upgrader:         websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		svgCache:         cache.New(cfg.StructureTTL, 2*cfg.StructureTTL),
		clients:          make(map[*client]bool),
		broadcastChannel: make(chan Update, 100),
		stopChannel:      make(chan struct{}),
	}

	d.router.HandleFunc("/", d.handleDashboard).Methods("GET")
	d.router.HandleFunc("/api/history", d.handleHistory).Methods("GET")
	d.router.HandleFunc("/ws", d.handleWebSocket).Methods("GET")
	d.router.HandleFunc("/structure", d.handleStructure).Methods("GET")
	d.router.HandleFunc("/distribution", d.handleDistribution).Methods("GET")

	d.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           d.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return d
}

// Handler returns the router.
func (d *Dashboard) Handler() http.Handler { return d.router }

// Start runs the broadcaster and serves until Stop.
func (d *Dashboard) Start() error {
	d.startLoops()
	log.Info().Str("address", d.server.Addr).Msg("Starting dashboard server")
	if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (d *Dashboard) startLoops() {
	go d.collector()
	go d.broadcaster()
}

// Stop closes every websocket and shuts the server down.
func (d *Dashboard) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stopChannel) })

	d.clientsMu.Lock()
	for c := range d.clients {
		c.conn.Close()
	}
	d.clients = make(map[*client]bool)
	d.clientsMu.Unlock()

	if err := d.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown dashboard: %w", err)
	}
	log.Info().Msg("Dashboard stopped")
	return nil
}

// collector takes what was appended since the last tick.
func (d *Dashboard) collector() {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			u := d.collect()
			select {
			case d.broadcastChannel <- u:
			default:
				// broadcaster is behind, skip this update
			}
		case <-d.stopChannel:
			return
		}
	}
}

func (d *Dashboard) collect() Update {
	fresh := d.src.History.Since(d.sent)
	d.sent += len(fresh)
	return Update{
		Timestamp: time.Now().UTC(),
		Total:     d.sent,
		Samples:   fresh,
		Model:     d.modelName(),
	}
}

func (d *Dashboard) modelName() string {
	if d.src.Model == nil {
		return ""
	}
	if m, ok := d.src.Model.Model(); ok {
		return m.Name()
	}
	return ""
}

func (d *Dashboard) broadcaster() {
	for {
		select {
		case u := <-d.broadcastChannel:
			d.broadcastToClients(u)
		case <-d.stopChannel:
			return
		}
	}
}

func (d *Dashboard) broadcastToClients(u Update) {
	data, err := json.Marshal(u)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal dashboard update")
		return
	}

	d.clientsMu.RLock()
	var dead []*client
	for c := range d.clients {
		if err := c.send(data); err != nil {
			log.Debug().Err(err).Msg("Dropping websocket client")
			dead = append(dead, c)
		}
	}
	d.clientsMu.RUnlock()

	if len(dead) == 0 {
		return
	}
	d.clientsMu.Lock()
	for _, c := range dead {
		c.conn.Close()
		delete(d.clients, c)
	}
	d.clientsMu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (d *Dashboard) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.src.History.Snapshot())
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}
	c := &client{conn: conn}
	defer func() {
		d.clientsMu.Lock()
		delete(d.clients, c)
		d.clientsMu.Unlock()
		conn.Close()
	}()

	d.clientsMu.Lock()
	d.clients[c] = true
	d.clientsMu.Unlock()

	history := d.src.History.Snapshot()
	initial := Update{Timestamp: time.Now().UTC(), Total: len(history), Samples: history, Model: d.modelName()}
	if data, err := json.Marshal(initial); err == nil {
		if err := c.send(data); err != nil {
			return
		}
	}

	// reads only detect the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

// handleStructure renders one tree of the served model as SVG.
func (d *Dashboard) handleStructure(w http.ResponseWriter, r *http.Request) {
	tree, err := intParam(r, "tree", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	depth, err := intParam(r, "depth", 4)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var m ml.Model
	if d.src.Model != nil {
		m, _ = d.src.Model.Model()
	}
	if m == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no model loaded"})
		return
	}

	key := fmt.Sprintf("%s/%p/%d/%d", m.Name(), m, tree, depth)
	if svg, ok := d.svgCache.Get(key); ok {
		writeSVG(w, svg.([]byte))
		return
	}

	view, err := ml.Inspect(m, tree, depth)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	svg, err := treeviz.SVG(r.Context(), view)
	if err != nil {
		log.Error().Err(err).Str("model", m.Name()).Msg("Failed to render tree")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "render failed"})
		return
	}
	d.svgCache.SetDefault(key, svg)
	writeSVG(w, svg)
}

func writeSVG(w http.ResponseWriter, svg []byte) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write(svg)
}

func (d *Dashboard) handleDistribution(w http.ResponseWriter, r *http.Request) {
	if d.src.Distribution == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, d.src.Distribution.Summary())
}

type pageData struct {
	BatchAccuracy float64
	BatchF1       float64
}

func (d *Dashboard) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := pageData{BatchAccuracy: d.cfg.BatchAccuracy, BatchF1: d.cfg.BatchF1}
	if math.IsNaN(data.BatchAccuracy) {
		data.BatchAccuracy = 0
	}
	if math.IsNaN(data.BatchF1) {
		data.BatchF1 = 0
	}
	w.Header().Set("Content-Type", "text/html")
	if err := pageTemplate.Execute(w, data); err != nil {
		log.Error().Err(err).Msg("Failed to render dashboard page")
	}
}

var pageTemplate = template.Must(template.New("dashboard").Parse(pageHTML))
