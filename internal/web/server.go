package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"compressr-go/internal/batch"
	"compressr-go/internal/compressor"
	"compressr-go/internal/config"
	"compressr-go/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	processor  compressor.Compressor
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	// Current batch state
	operationMutex sync.RWMutex
	isRunning      bool
	currentBatch   string
	currentStats   *statistics.Statistics
	lastReport     *batch.BatchReport
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CompressRequest is the JSON body of POST /api/compress. Omitted fields
// fall back to the configured compression defaults.
type CompressRequest struct {
	Inputs           []string `json:"inputs"`
	Output           string   `json:"output"`
	Quality          *int     `json:"quality,omitempty"`
	Format           string   `json:"format,omitempty"`
	ScalePercent     *int     `json:"scale_percent,omitempty"`
	Width            *int     `json:"width,omitempty"`
	Height           *int     `json:"height,omitempty"`
	MaxWidth         *int     `json:"max_width,omitempty"`
	MaxHeight        *int     `json:"max_height,omitempty"`
	Threads          *int     `json:"threads,omitempty"`
	DeleteOriginal   *bool    `json:"delete_original,omitempty"`
	PreserveMetadata *bool    `json:"preserve_metadata,omitempty"`
}

type FormatInfo struct {
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Lossless  bool   `json:"lossless"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, processor compressor.Compressor) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		processor: processor,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/parallelism", s.handleParallelism).Methods("GET")
	api.HandleFunc("/images", s.handleListImages).Methods("GET")
	api.HandleFunc("/formats", s.handleFormats).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	batchID := s.currentBatch
	stats := s.currentStats
	s.operationMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = stats.Snapshot()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"batch_id":   batchID,
			"statistics": statsData,
		},
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	stats := s.currentStats
	report := s.lastReport
	s.operationMutex.RUnlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{
			Success: true,
			Data:    nil,
		})
		return
	}

	data := map[string]interface{}{
		"summary":    stats.GetSummary(),
		"statistics": stats.Snapshot(),
	}
	if report != nil {
		data["failures"] = failureMessages(report)
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var body CompressRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req, err := s.buildRequest(body)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Batch already in progress", http.StatusConflict)
		return
	}
	s.isRunning = true
	s.currentBatch = ""
	s.currentStats = statistics.NewStatistics()
	stats := s.currentStats
	s.operationMutex.Unlock()

	go s.runBatchAsync(req, stats)

	s.writeJSONStatus(w, http.StatusAccepted, APIResponse{
		Success: true,
		Message: "Batch started",
	})
}

func (s *Server) buildRequest(body CompressRequest) (batch.Request, error) {
	cc := s.cfg.Compression
	req := batch.Request{
		Inputs:           body.Inputs,
		Output:           body.Output,
		Quality:          intOr(body.Quality, cc.Quality),
		Threads:          intOr(body.Threads, cc.Threads),
		DeleteOriginal:   boolOr(body.DeleteOriginal, cc.DeleteOriginal),
		PreserveMetadata: boolOr(body.PreserveMetadata, cc.PreserveMetadata),
		Resize: compressor.ResizePolicy{
			ScalePercent: intOr(body.ScalePercent, cc.ScalePercent),
			Width:        intOr(body.Width, cc.Width),
			Height:       intOr(body.Height, cc.Height),
			MaxWidth:     intOr(body.MaxWidth, cc.MaxWidth),
			MaxHeight:    intOr(body.MaxHeight, cc.MaxHeight),
		},
		Format: s.cfg.OutputFormat(),
	}
	if body.Format != "" {
		f, err := compressor.ParseFormat(body.Format)
		if err != nil {
			return req, err
		}
		req.Format = f
	}
	return req, req.Validate()
}

func (s *Server) runBatchAsync(req batch.Request, stats *statistics.Statistics) {
	runner := batch.NewRunner(s.log, s.processor,
		batch.WithStatistics(stats),
		batch.WithStartHook(func(id string, files, workers int) {
			s.operationMutex.Lock()
			s.currentBatch = id
			s.operationMutex.Unlock()

			s.broadcastWSMessage("batch_started", map[string]interface{}{
				"batch_id": id,
				"files":    files,
				"workers":  workers,
				"format":   req.Format.Name(),
			})
		}),
		batch.WithOutcomeHook(func(id string, o batch.FileOutcome) {
			data := map[string]interface{}{
				"batch_id": id,
				"input":    o.InputPath,
				"success":  o.Success(),
			}
			if o.Success() {
				data["output"] = o.OutputPath
				data["original_size"] = o.OriginalSize
				data["compressed_size"] = o.CompressedSize
			} else {
				data["kind"] = o.Err.Kind.String()
				data["error"] = o.Err.Error()
			}
			s.broadcastWSMessage("file_completed", data)
		}),
	)

	report, err := runner.Run(req)

	s.operationMutex.Lock()
	s.isRunning = false
	if report != nil {
		s.currentBatch = report.ID
		s.lastReport = report
	}
	s.operationMutex.Unlock()

	if err != nil {
		s.log.WithField("operation", "compress").WithError(err).Error("Batch rejected")
		s.broadcastWSMessage("batch_error", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.broadcastWSMessage("batch_completed", map[string]interface{}{
		"batch_id":   report.ID,
		"succeeded":  report.Succeeded(),
		"failed":     len(report.Failures()),
		"failures":   failureMessages(report),
		"statistics": stats.GetSummary(),
	})
}

func (s *Server) handleParallelism(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"available": batch.AvailableParallelism(),
		},
	})
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("dir")
	if dir == "" {
		s.writeError(w, "dir is required", http.StatusBadRequest)
		return
	}

	images, err := batch.ListImages(dir)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, compressor.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		s.writeError(w, err.Error(), status)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    images,
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	formats := make([]FormatInfo, 0, len(compressor.AllFormats()))
	for _, f := range compressor.AllFormats() {
		formats = append(formats, FormatInfo{
			Name:      f.Name(),
			Extension: f.Extension(),
			Lossless:  f.Lossless(),
		})
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"output": formats,
			"input":  append(batch.SupportedExtensions(), "svg"),
		},
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithFields(logrus.Fields{"operation": "websocket", "remote": r.RemoteAddr}).
			Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()
	return len(s.wsClients)
}

// broadcastWSMessage holds wsMutex for the whole fan-out; a connection
// supports only one concurrent writer.
func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSONStatus(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

func failureMessages(report *batch.BatchReport) []string {
	failed := report.Failures()
	msgs := make([]string, len(failed))
	for i, o := range failed {
		msgs[i] = o.Message()
	}
	return msgs
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
