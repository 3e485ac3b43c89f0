// Package server exposes the transaction API over HTTP and dispatches every
// request through the service registry.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	service_registry "github.com/SatoshiNakamoto1024/city-chain-project-4/srvreg"
)

// WebServer handles HTTP requests.
type WebServer struct {
	httpAddr        string
	server          *http.Server
	logger          cmtlog.Logger
	startTime       time.Time
	serviceRegistry *service_registry.ServiceRegistry
	continent       string
}

// NewWebServer creates a new web server.
func NewWebServer(httpPort string, requestTimeout time.Duration, continent string, logger cmtlog.Logger, serviceRegistry *service_registry.ServiceRegistry) *WebServer {
	mux := http.NewServeMux()

	if requestTimeout == 0 {
		requestTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = cmtlog.NewNopLogger()
	}
	ws := &WebServer{
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:         ":" + httpPort,
			Handler:      mux,
			ReadTimeout:  requestTimeout,
			WriteTimeout: requestTimeout,
		},
		logger:          logger,
		startTime:       time.Now(),
		serviceRegistry: serviceRegistry,
		continent:       continent,
	}

	mux.HandleFunc("/", ws.handleAPI)
	mux.HandleFunc("/health", ws.handleHealth)

	return ws
}

// Start starts the web server.
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting web server", "addr", ws.httpAddr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("web server error: ", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

// handleHealth reports node liveness.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "online",
		"continent": ws.continent,
		"uptime":    time.Since(ws.startTime).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(health); err != nil {
		JSONError(w, "Error encoding response: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleAPI dispatches transaction API requests through the service registry.
func (ws *WebServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		ws.handleRoot(w, r)
		return
	}

	requestID, err := generateRequestID()
	if err != nil {
		JSONError(w, "Internal Server Error", http.StatusInternalServerError)
		ws.logger.Error("Failed to generate request ID", "err", err)
		return
	}

	request, err := service_registry.ConvertHTTPRequest(r, requestID)
	if err != nil {
		JSONError(w, "Failed to convert request: "+err.Error(), http.StatusUnprocessableEntity)
		ws.logger.Error("Failed to convert HTTP request", "err", err)
		return
	}

	response, err := request.GenerateResponse(ws.serviceRegistry)
	if err != nil {
		ws.logger.Info("Request failed", "path", request.Path, "err", err)
	}

	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(response.StatusCode)
	if _, err := w.Write([]byte(response.Body)); err != nil {
		ws.logger.Error("Failed to write response", "err", err)
	}
}

// handleRoot shows node status.
func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte("<h1>Federated Transaction Node</h1>"))
	w.Write([]byte(fmt.Sprintf("<p>Continent: %s</p>", ws.continent)))
	w.Write([]byte(fmt.Sprintf("<p>Uptime: %s</p>", time.Since(ws.startTime))))
}

func generateRequestID() (string, error) {
	bytes := make([]byte, 16)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// JSONError sends a JSON formatted error response with the given status code and message.
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	errorResponse := struct {
		Error string `json:"error"`
	}{
		Error: message,
	}
	jsonBytes, err := json.Marshal(errorResponse)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(jsonBytes)
}
