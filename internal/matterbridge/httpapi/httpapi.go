// Package httpapi is the HTTP/WebSocket API Server (C13): the north-bound
// REST surface over the Device Registry, Commissioning Orchestrator, and
// Command Gateway, plus the /ws upgrade handled by the Notification
// Fan-Out.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/matterbridge/common/trace"
	"github.com/bdobrica/matterbridge/internal/matterbridge/commission"
	"github.com/bdobrica/matterbridge/internal/matterbridge/datamodel"
	"github.com/bdobrica/matterbridge/internal/matterbridge/gateway"
	"github.com/bdobrica/matterbridge/internal/matterbridge/registry"
	"github.com/bdobrica/matterbridge/internal/matterbridge/types"
)

// WebSocketHandler is satisfied by *fanout.Hub; kept as a narrow interface
// here so this package does not need to import fanout directly. OnCommission
// lets handleCommission push a freshly commissioned device's endpoints out to
// every connected WebSocket subscriber as soon as the registry write lands.
type WebSocketHandler interface {
	http.Handler
	OnCommission(devices []types.Device)
}

// Server wires the HTTP routes to the registry, gateway, and orchestrator.
type Server struct {
	reg  *registry.Registry
	gw   *gateway.Gateway
	orch *commission.Orchestrator
	dict datamodel.Dictionary
	ws   WebSocketHandler

	mux           *http.ServeMux
	deviceSchema  *jsonschema.Schema
	commandSchema *jsonschema.Schema
}

// New builds a Server and registers every route in spec §6.
func New(reg *registry.Registry, gw *gateway.Gateway, orch *commission.Orchestrator, dict datamodel.Dictionary, ws WebSocketHandler) (*Server, error) {
	deviceSchema, err := compileSchema(deviceRequestSchema)
	if err != nil {
		return nil, fmt.Errorf("httpapi: compile device schema: %w", err)
	}
	commandSchema, err := compileSchema(commandRequestSchema)
	if err != nil {
		return nil, fmt.Errorf("httpapi: compile command schema: %w", err)
	}

	s := &Server{
		reg:           reg,
		gw:            gw,
		orch:          orch,
		dict:          dict,
		ws:            ws,
		mux:           http.NewServeMux(),
		deviceSchema:  deviceSchema,
		commandSchema: commandSchema,
	}
	s.registerRoutes()
	return s, nil
}

func compileSchema(raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", mustReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// ServeHTTP implements http.Handler, applying the open CORS policy to every
// response before delegating to the route mux. Every request is stamped with
// a trace ID - generated fresh, or carried over from an incoming
// X-Trace-Id header - so a single command can be followed in the gateway's
// dispatch log.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = trace.GenerateID()
	}
	w.Header().Set("X-Trace-Id", traceID)
	r = r.WithContext(trace.WithTraceID(r.Context(), traceID))

	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /device", s.handleListDevices)
	s.mux.HandleFunc("POST /device", s.handleCommission)
	s.mux.HandleFunc("DELETE /device/{node}/{endpoint}", s.handleDeleteDevice)
	s.mux.HandleFunc("POST /device/{node}/{endpoint}/name", s.handleSetName)
	s.mux.HandleFunc("POST /device/{node}/{endpoint}/{cluster}/{attribute}", s.handleWriteAttribute)
	s.mux.HandleFunc("POST /command", s.handleCommand)
	s.mux.HandleFunc("GET /datamodel/cluster", s.handleDatamodelCluster)
	s.mux.HandleFunc("GET /datamodel/devicetype", s.handleDatamodelDeviceType)
	if s.ws != nil {
		s.mux.Handle("GET /ws", s.ws)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListDevices serves GET /device, optionally filtered by the query
// parameters spec §6 lists: node, endpoint, device_type, name, cluster,
// attribute, command. Only node/endpoint/device_type/name filter the
// device row itself; cluster/attribute/command are accepted as documented
// but matterbridge has no command-history index to filter against, so they
// are ignored on a pure device listing (a no-op narrower than "matches
// nothing").
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.reg.ListDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	q := r.URL.Query()
	var out []types.Device
	for _, d := range devices {
		if node := q.Get("node"); node != "" && string(d.NodeID) != node {
			continue
		}
		if ep := q.Get("endpoint"); ep != "" {
			if n, err := strconv.Atoi(ep); err != nil || types.Endpoint(n) != d.Endpoint {
				continue
			}
		}
		if dt := q.Get("device_type"); dt != "" && d.DeviceType != dt {
			continue
		}
		if name := q.Get("name"); name != "" && d.Name != name {
			continue
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCommission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ManualPairingCode string `json:"manual_pairing_code"`
	}
	if err := decodeValidated(r, s.deviceSchema, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.orch.Commission(r.Context(), commission.Request{SetupCode: body.ManualPairingCode})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.ws != nil {
		s.ws.OnCommission(result.Devices)
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	node, endpoint, err := pathDeviceKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.reg.DeleteDevice(r.Context(), node, endpoint); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetName(w http.ResponseWriter, r *http.Request) {
	node, endpoint, err := pathDeviceKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.reg.SetDeviceName(r.Context(), node, endpoint, body.Name); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWriteAttribute(w http.ResponseWriter, r *http.Request) {
	node, endpoint, err := pathDeviceKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cluster := r.PathValue("cluster")
	attribute := r.PathValue("attribute")

	if _, err := s.reg.GetDevice(r.Context(), node, endpoint); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("httpapi: device %s/%d not found", node, endpoint))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req := gateway.Request{NodeID: node, Endpoint: endpoint, Cluster: cluster, Command: "write", Args: []string{gateway.KebabCase(attribute), body.Value}}
	shaped, err := s.gw.Dispatch(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, shaped)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command  string   `json:"command"`
		Node     string   `json:"node"`
		Endpoint int      `json:"endpoint"`
		Cluster  string   `json:"cluster"`
		Args     []string `json:"args"`
	}
	if err := decodeValidated(r, s.commandSchema, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req := gateway.Request{
		NodeID:   types.NodeID(body.Node),
		Endpoint: types.Endpoint(body.Endpoint),
		Cluster:  body.Cluster,
		Command:  body.Command,
		Args:     body.Args,
	}
	shaped, err := s.gw.Dispatch(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, shaped)
}

func (s *Server) handleDatamodelCluster(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dict.ListClusters())
}

func (s *Server) handleDatamodelDeviceType(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dict.ListDeviceTypes())
}

func pathDeviceKey(r *http.Request) (types.NodeID, types.Endpoint, error) {
	node := r.PathValue("node")
	endpointStr := r.PathValue("endpoint")
	n, err := strconv.Atoi(endpointStr)
	if err != nil {
		return "", 0, fmt.Errorf("httpapi: invalid endpoint %q: %w", endpointStr, err)
	}
	return types.NodeID(node), types.Endpoint(n), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeValidated(r *http.Request, schema *jsonschema.Schema, dst any) error {
	var raw any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return fmt.Errorf("httpapi: decode request body: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return fmt.Errorf("httpapi: request body failed validation: %w", err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, dst)
}

// Serve runs the HTTP server until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("httpapi: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
