package simulator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/backtesting-org/sitewatch/internal/config"
	"github.com/backtesting-org/sitewatch/pkg/websocket/base"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	peerBuffer     = 64
)

const (
	refreshType = "refresh"
	sitesType   = "sites"
)

// Server simulates the monitoring backend: the two REST endpoints and the
// two socket endpoints over an in-memory site table.
type Server struct {
	cfg    config.SimulatorConfig
	clock  clock.WithTicker
	logger *zap.Logger

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	sites []Site
	index map[string]int
	rng   *rand.Rand
	peers map[*peer]struct{}

	hits sync.Map
}

type peer struct {
	conn   *websocket.Conn
	siteID string
	send   chan []byte
	once   sync.Once
}

func (p *peer) close() {
	p.once.Do(func() { close(p.send) })
}

// NewServer creates a simulator seeded with cfg.Sites sites
func NewServer(cfg config.SimulatorConfig, clk clock.WithTicker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	seed := uint64(cfg.Seed)
	if seed == 0 {
		seed = uint64(clk.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1))

	s := &Server{
		cfg:    cfg,
		clock:  clk,
		logger: logger.Named("simulator"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		index: make(map[string]int),
		rng:   rng,
		peers: make(map[*peer]struct{}),
	}
	for n := 1; n <= cfg.Sites; n++ {
		site := newSite(n, rng)
		s.index[site.ID] = len(s.sites)
		s.sites = append(s.sites, site)
	}
	return s
}

// Router returns the backend routes
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.count)

	router.GET("/api/site/sites", s.listSites)
	router.GET("/api/sites/site/:id", s.getSite)
	router.GET("/ws/sites", func(c *gin.Context) { s.serveSocket(c, "") })
	router.GET("/ws/site/:id", func(c *gin.Context) { s.serveSocket(c, c.Param("id")) })

	return router
}

// Sites returns a copy of the site table
func (s *Server) Sites() []Site {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Site(nil), s.sites...)
}

// Hits returns how many requests a route pattern has served
func (s *Server) Hits(route string) int {
	v, ok := s.hits.Load(route)
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int64).Load())
}

// Peers returns the number of connected socket clients
func (s *Server) Peers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Set replaces or adds a site and pushes it to socket clients
func (s *Server) Set(site Site) {
	s.mu.Lock()
	if i, ok := s.index[site.ID]; ok {
		s.sites[i] = site
	} else {
		s.index[site.ID] = len(s.sites)
		s.sites = append(s.sites, site)
	}
	s.mu.Unlock()

	s.broadcast([]Site{site})
}

// Mutate advances every site by one step and pushes the changes
func (s *Server) Mutate() []Site {
	s.mu.Lock()
	changed := make([]Site, len(s.sites))
	for i := range s.sites {
		s.sites[i] = step(s.sites[i], s.rng)
		changed[i] = s.sites[i]
	}
	s.mu.Unlock()

	s.broadcast(changed)
	return changed
}

// Run mutates the table every MutateInterval until ctx is done
func (s *Server) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.MutateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			changed := s.Mutate()
			s.logger.Debug("Sites mutated", zap.Int("sites", len(changed)))
		}
	}
}

// DropPeers closes every socket with code, as a restarting backend would
func (s *Server) DropPeers(code int, reason string) {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
		delete(s.peers, p)
	}
	s.mu.Unlock()

	message := websocket.FormatCloseMessage(code, reason)
	for _, p := range peers {
		_ = p.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
		_ = p.conn.Close()
		p.close()
	}
}

// ListenAndServe serves the router on the configured address until ctx is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}
	s.logger.Info("Simulator listening",
		zap.String("address", listener.Addr().String()),
		zap.Int("sites", s.cfg.Sites))

	go s.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.DropPeers(websocket.CloseGoingAway, "simulator stopping")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) count(c *gin.Context) {
	c.Next()
	route := c.FullPath()
	if route == "" {
		return
	}
	v, _ := s.hits.LoadOrStore(route, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (s *Server) listSites(c *gin.Context) {
	s.mu.RLock()
	records := make([]map[string]any, 0, len(s.sites))
	for _, site := range s.sites {
		records = append(records, site.Record())
	}
	s.mu.RUnlock()

	s.writeJSON(c, http.StatusOK, records)
}

func (s *Server) getSite(c *gin.Context) {
	site, ok := s.site(c.Param("id"))
	if !ok {
		s.writeJSON(c, http.StatusNotFound, map[string]string{"error": "site not found"})
		return
	}
	s.writeJSON(c, http.StatusOK, site.Record())
}

func (s *Server) site(id string) (Site, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Site{}, false
	}
	return s.sites[i], true
}

func (s *Server) writeJSON(c *gin.Context, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(code, "application/json; charset=utf-8", body)
}

func (s *Server) serveSocket(c *gin.Context, siteID string) {
	if siteID != "" {
		if _, ok := s.site(siteID); !ok {
			s.writeJSON(c, http.StatusNotFound, map[string]string{"error": "site not found"})
			return
		}
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	p := &peer{conn: conn, siteID: siteID, send: make(chan []byte, peerBuffer)}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("Socket client connected",
		zap.String("remote_addr", conn.RemoteAddr().String()),
		zap.String("site_id", siteID))

	go s.writePump(p)
	s.sendSnapshot(p)
	go s.readPump(p)
}

func (s *Server) sendSnapshot(p *peer) {
	if p.siteID != "" {
		if site, ok := s.site(p.siteID); ok {
			s.enqueue(p, site.Record())
		}
		return
	}

	s.mu.RLock()
	records := make([]map[string]any, 0, len(s.sites))
	for _, site := range s.sites {
		records = append(records, site.Record())
	}
	s.mu.RUnlock()
	s.enqueue(p, records)
}

// broadcast pushes changed sites: the overview peers get the changed
// records in a data envelope, detail peers get their own site. Bare arrays
// are reserved for the full table.
func (s *Server) broadcast(changed []Site) {
	if len(changed) == 0 {
		return
	}
	records := make([]map[string]any, 0, len(changed))
	byID := make(map[string]Site, len(changed))
	for _, site := range changed {
		records = append(records, site.Record())
		byID[site.ID] = site
	}
	delta := map[string]any{"type": sitesType, "data": records}

	s.mu.RLock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	for _, p := range peers {
		if p.siteID == "" {
			s.enqueue(p, delta)
			continue
		}
		if site, ok := byID[p.siteID]; ok {
			s.enqueue(p, site.Record())
		}
	}
}

func (s *Server) enqueue(p *peer, v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode frame", zap.Error(err))
		return
	}
	s.enqueueRaw(p, frame)
}

func (s *Server) enqueueRaw(p *peer, frame []byte) {
	s.mu.RLock()
	_, live := s.peers[p]
	if live {
		select {
		case p.send <- frame:
		default:
			s.logger.Warn("Peer send buffer full, dropping frame")
		}
	}
	s.mu.RUnlock()
}

func (s *Server) removePeer(p *peer) {
	s.mu.Lock()
	_, ok := s.peers[p]
	delete(s.peers, p)
	if ok {
		p.close()
	}
	s.mu.Unlock()
}

func (s *Server) readPump(p *peer) {
	defer func() {
		s.removePeer(p)
		_ = p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			return
		}

		if base.IsHeartbeat(message) {
			s.enqueueRaw(p, base.HeartbeatFrame)
			continue
		}

		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(bytes.TrimSpace(message), &frame); err == nil && frame.Type == refreshType {
			s.sendSnapshot(p)
			continue
		}

		s.logger.Debug("Ignoring client frame", zap.ByteString("frame", message))
	}
}

func (s *Server) writePump(p *peer) {
	defer func() { _ = p.conn.Close() }()

	for frame := range p.send {
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.removePeer(p)
			return
		}
	}
}
