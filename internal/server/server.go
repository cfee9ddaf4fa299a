package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/fleetwatch/beacond/api"
	"github.com/fleetwatch/beacond/internal/beacon"
	"github.com/fleetwatch/beacond/internal/events"
	"github.com/fleetwatch/beacond/internal/fleet"
	"github.com/fleetwatch/beacond/internal/liveness"
	"github.com/fleetwatch/beacond/internal/logging"
	"github.com/fleetwatch/beacond/internal/models"
	"github.com/fleetwatch/beacond/internal/registry"
	"github.com/fleetwatch/beacond/internal/taskqueue"
)

// Deps are the core services the server exposes
type Deps struct {
	Registry  *registry.Registry
	Queue     *taskqueue.Queue
	Handler   *beacon.Handler
	Fleet     *fleet.Service
	Evaluator *liveness.Evaluator // optional, reported by /healthz
	Hub       *events.Hub         // optional, serves /events
	Journal   *events.Journal     // optional, serves /events/recent
}

// Server implements the BeaconService gRPC service and the operator HTTP endpoints
type Server struct {
	api.UnimplementedBeaconServiceServer
	deps    Deps
	started time.Time

	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
}

// NewServer creates a new server with OpenTelemetry instrumentation
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:    deps,
		started: time.Now(),
		health:  health.NewServer(),
	}

	s.grpcServer = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	api.RegisterBeaconServiceServer(s.grpcServer, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return s
}

// Start listens on port and serves gRPC until Stop
func (s *Server) Start(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve serves gRPC on lis until Stop
func (s *Server) Serve(lis net.Listener) error {
	log.Printf("gRPC server listening on %s", lis.Addr())
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the operator HTTP endpoints on addr until Stop
func (s *Server) StartHTTP(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("HTTP server listening on %s", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop marks the server not serving and drains in-flight calls
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// Beacon records a check-in and returns the implant's next tasks
func (s *Server) Beacon(ctx context.Context, req *api.BeaconRequest) (*api.BeaconResponse, error) {
	logging.Debugf("Beacon from %s", req.ImplantId)

	batch, err := s.deps.Handler.HandleBeacon(ctx, req.Event())
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.BeaconResponse{
		Implant: api.FromSnapshot(batch.Implant),
		Tasks:   api.FromTasks(batch.Tasks),
	}, nil
}

// ListImplants lists implants as of the last liveness sweep
func (s *Server) ListImplants(ctx context.Context, req *api.ListImplantsRequest) (*api.ListImplantsResponse, error) {
	snaps, err := s.deps.Fleet.ListImplants(ctx, req.IncludeInactive)
	if err != nil {
		return nil, toStatus(err)
	}

	implants := make([]*api.Implant, len(snaps))
	for i, snap := range snaps {
		implants[i] = api.FromSnapshot(snap)
	}
	return &api.ListImplantsResponse{Implants: implants}, nil
}

// GetImplant retrieves an implant by id
func (s *Server) GetImplant(ctx context.Context, req *api.GetImplantRequest) (*api.GetImplantResponse, error) {
	snap, err := s.deps.Fleet.Get(ctx, req.ImplantId)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.GetImplantResponse{Implant: api.FromSnapshot(snap)}, nil
}

// DeleteImplant removes an implant record
func (s *Server) DeleteImplant(ctx context.Context, req *api.DeleteImplantRequest) (*api.DeleteImplantResponse, error) {
	if err := s.deps.Registry.Delete(ctx, req.ImplantId); err != nil {
		return nil, toStatus(err)
	}
	return &api.DeleteImplantResponse{}, nil
}

// EnqueueTask queues a payload, or a typed task, for an implant
func (s *Server) EnqueueTask(ctx context.Context, req *api.EnqueueTaskRequest) (*api.EnqueueTaskResponse, error) {
	var (
		task *models.Task
		err  error
	)
	switch {
	case req.Type == "":
		task, err = s.deps.Queue.Enqueue(ctx, req.ImplantId, req.Payload)
	case req.Payload != "":
		return nil, status.Error(codes.InvalidArgument, "payload and type are mutually exclusive")
	default:
		task, err = s.deps.Queue.EnqueueTyped(ctx, req.ImplantId, req.Type, req.Params)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.EnqueueTaskResponse{
		TaskId: task.ID,
		Task:   api.FromTask(task),
	}, nil
}

// GetTask retrieves a task by id
func (s *Server) GetTask(ctx context.Context, req *api.GetTaskRequest) (*api.GetTaskResponse, error) {
	task, err := s.deps.Queue.Get(ctx, req.TaskId)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.GetTaskResponse{Task: api.FromTask(task)}, nil
}

// ListTasks lists an implant's tasks in enqueue order
func (s *Server) ListTasks(ctx context.Context, req *api.ListTasksRequest) (*api.ListTasksResponse, error) {
	tasks, err := s.deps.Queue.List(ctx, req.ImplantId, req.IncludeDispatched)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.ListTasksResponse{Tasks: api.FromTasks(tasks)}, nil
}

// CancelTask removes a task that has not been dispatched
func (s *Server) CancelTask(ctx context.Context, req *api.CancelTaskRequest) (*api.CancelTaskResponse, error) {
	if err := s.deps.Queue.Cancel(ctx, req.TaskId); err != nil {
		return nil, toStatus(err)
	}
	return &api.CancelTaskResponse{}, nil
}

// CreateTaskType adds an entry to the task type catalog
func (s *Server) CreateTaskType(ctx context.Context, req *api.CreateTaskTypeRequest) (*api.CreateTaskTypeResponse, error) {
	tt, err := s.deps.Queue.CreateType(ctx, req.Name, req.Params)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.CreateTaskTypeResponse{TaskType: api.FromTaskType(tt)}, nil
}

// ListTaskTypes lists the task type catalog by name
func (s *Server) ListTaskTypes(ctx context.Context, req *api.ListTaskTypesRequest) (*api.ListTaskTypesResponse, error) {
	types, err := s.deps.Queue.Types(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.ListTaskTypesResponse{TaskTypes: api.FromTaskTypes(types)}, nil
}

// DeleteTaskType removes an entry from the task type catalog
func (s *Server) DeleteTaskType(ctx context.Context, req *api.DeleteTaskTypeRequest) (*api.DeleteTaskTypeResponse, error) {
	if err := s.deps.Queue.DeleteType(ctx, req.Name); err != nil {
		return nil, toStatus(err)
	}
	return &api.DeleteTaskTypeResponse{}, nil
}
