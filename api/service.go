package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "beacond.v1.BeaconService"

const (
	BeaconService_Beacon_FullMethodName        = "/" + ServiceName + "/Beacon"
	BeaconService_ListImplants_FullMethodName  = "/" + ServiceName + "/ListImplants"
	BeaconService_GetImplant_FullMethodName    = "/" + ServiceName + "/GetImplant"
	BeaconService_DeleteImplant_FullMethodName = "/" + ServiceName + "/DeleteImplant"
	BeaconService_EnqueueTask_FullMethodName   = "/" + ServiceName + "/EnqueueTask"
	BeaconService_GetTask_FullMethodName       = "/" + ServiceName + "/GetTask"
	BeaconService_ListTasks_FullMethodName     = "/" + ServiceName + "/ListTasks"
	BeaconService_CancelTask_FullMethodName    = "/" + ServiceName + "/CancelTask"

	BeaconService_CreateTaskType_FullMethodName = "/" + ServiceName + "/CreateTaskType"
	BeaconService_ListTaskTypes_FullMethodName  = "/" + ServiceName + "/ListTaskTypes"
	BeaconService_DeleteTaskType_FullMethodName = "/" + ServiceName + "/DeleteTaskType"
)

// BeaconServiceServer is the server API for BeaconService
type BeaconServiceServer interface {
	Beacon(context.Context, *BeaconRequest) (*BeaconResponse, error)
	ListImplants(context.Context, *ListImplantsRequest) (*ListImplantsResponse, error)
	GetImplant(context.Context, *GetImplantRequest) (*GetImplantResponse, error)
	DeleteImplant(context.Context, *DeleteImplantRequest) (*DeleteImplantResponse, error)
	EnqueueTask(context.Context, *EnqueueTaskRequest) (*EnqueueTaskResponse, error)
	GetTask(context.Context, *GetTaskRequest) (*GetTaskResponse, error)
	ListTasks(context.Context, *ListTasksRequest) (*ListTasksResponse, error)
	CancelTask(context.Context, *CancelTaskRequest) (*CancelTaskResponse, error)
	CreateTaskType(context.Context, *CreateTaskTypeRequest) (*CreateTaskTypeResponse, error)
	ListTaskTypes(context.Context, *ListTaskTypesRequest) (*ListTaskTypesResponse, error)
	DeleteTaskType(context.Context, *DeleteTaskTypeRequest) (*DeleteTaskTypeResponse, error)
}

// UnimplementedBeaconServiceServer can be embedded to have forward compatible implementations
type UnimplementedBeaconServiceServer struct{}

func (UnimplementedBeaconServiceServer) Beacon(context.Context, *BeaconRequest) (*BeaconResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Beacon not implemented")
}
func (UnimplementedBeaconServiceServer) ListImplants(context.Context, *ListImplantsRequest) (*ListImplantsResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListImplants not implemented")
}
func (UnimplementedBeaconServiceServer) GetImplant(context.Context, *GetImplantRequest) (*GetImplantResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetImplant not implemented")
}
func (UnimplementedBeaconServiceServer) DeleteImplant(context.Context, *DeleteImplantRequest) (*DeleteImplantResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method DeleteImplant not implemented")
}
func (UnimplementedBeaconServiceServer) EnqueueTask(context.Context, *EnqueueTaskRequest) (*EnqueueTaskResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method EnqueueTask not implemented")
}
func (UnimplementedBeaconServiceServer) GetTask(context.Context, *GetTaskRequest) (*GetTaskResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetTask not implemented")
}
func (UnimplementedBeaconServiceServer) ListTasks(context.Context, *ListTasksRequest) (*ListTasksResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListTasks not implemented")
}
func (UnimplementedBeaconServiceServer) CancelTask(context.Context, *CancelTaskRequest) (*CancelTaskResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CancelTask not implemented")
}
func (UnimplementedBeaconServiceServer) CreateTaskType(context.Context, *CreateTaskTypeRequest) (*CreateTaskTypeResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CreateTaskType not implemented")
}
func (UnimplementedBeaconServiceServer) ListTaskTypes(context.Context, *ListTaskTypesRequest) (*ListTaskTypesResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListTaskTypes not implemented")
}
func (UnimplementedBeaconServiceServer) DeleteTaskType(context.Context, *DeleteTaskTypeRequest) (*DeleteTaskTypeResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method DeleteTaskType not implemented")
}

// RegisterBeaconServiceServer registers srv on s
func RegisterBeaconServiceServer(s grpc.ServiceRegistrar, srv BeaconServiceServer) {
	s.RegisterService(&BeaconService_ServiceDesc, srv)
}

// unaryHandler adapts a typed service method to a grpc.MethodHandler
func unaryHandler[Req any, Resp any](fullMethod string, call func(BeaconServiceServer, context.Context, *Req) (*Resp, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BeaconServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(BeaconServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// BeaconService_ServiceDesc is the grpc.ServiceDesc for BeaconService
var BeaconService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BeaconServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Beacon",
			Handler:    unaryHandler(BeaconService_Beacon_FullMethodName, BeaconServiceServer.Beacon),
		},
		{
			MethodName: "ListImplants",
			Handler:    unaryHandler(BeaconService_ListImplants_FullMethodName, BeaconServiceServer.ListImplants),
		},
		{
			MethodName: "GetImplant",
			Handler:    unaryHandler(BeaconService_GetImplant_FullMethodName, BeaconServiceServer.GetImplant),
		},
		{
			MethodName: "DeleteImplant",
			Handler:    unaryHandler(BeaconService_DeleteImplant_FullMethodName, BeaconServiceServer.DeleteImplant),
		},
		{
			MethodName: "EnqueueTask",
			Handler:    unaryHandler(BeaconService_EnqueueTask_FullMethodName, BeaconServiceServer.EnqueueTask),
		},
		{
			MethodName: "GetTask",
			Handler:    unaryHandler(BeaconService_GetTask_FullMethodName, BeaconServiceServer.GetTask),
		},
		{
			MethodName: "ListTasks",
			Handler:    unaryHandler(BeaconService_ListTasks_FullMethodName, BeaconServiceServer.ListTasks),
		},
		{
			MethodName: "CancelTask",
			Handler:    unaryHandler(BeaconService_CancelTask_FullMethodName, BeaconServiceServer.CancelTask),
		},
		{
			MethodName: "CreateTaskType",
			Handler:    unaryHandler(BeaconService_CreateTaskType_FullMethodName, BeaconServiceServer.CreateTaskType),
		},
		{
			MethodName: "ListTaskTypes",
			Handler:    unaryHandler(BeaconService_ListTaskTypes_FullMethodName, BeaconServiceServer.ListTaskTypes),
		},
		{
			MethodName: "DeleteTaskType",
			Handler:    unaryHandler(BeaconService_DeleteTaskType_FullMethodName, BeaconServiceServer.DeleteTaskType),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/beacon.proto",
}

// BeaconServiceClient is the client API for BeaconService
type BeaconServiceClient interface {
	Beacon(ctx context.Context, in *BeaconRequest, opts ...grpc.CallOption) (*BeaconResponse, error)
	ListImplants(ctx context.Context, in *ListImplantsRequest, opts ...grpc.CallOption) (*ListImplantsResponse, error)
	GetImplant(ctx context.Context, in *GetImplantRequest, opts ...grpc.CallOption) (*GetImplantResponse, error)
	DeleteImplant(ctx context.Context, in *DeleteImplantRequest, opts ...grpc.CallOption) (*DeleteImplantResponse, error)
	EnqueueTask(ctx context.Context, in *EnqueueTaskRequest, opts ...grpc.CallOption) (*EnqueueTaskResponse, error)
	GetTask(ctx context.Context, in *GetTaskRequest, opts ...grpc.CallOption) (*GetTaskResponse, error)
	ListTasks(ctx context.Context, in *ListTasksRequest, opts ...grpc.CallOption) (*ListTasksResponse, error)
	CancelTask(ctx context.Context, in *CancelTaskRequest, opts ...grpc.CallOption) (*CancelTaskResponse, error)
	CreateTaskType(ctx context.Context, in *CreateTaskTypeRequest, opts ...grpc.CallOption) (*CreateTaskTypeResponse, error)
	ListTaskTypes(ctx context.Context, in *ListTaskTypesRequest, opts ...grpc.CallOption) (*ListTaskTypesResponse, error)
	DeleteTaskType(ctx context.Context, in *DeleteTaskTypeRequest, opts ...grpc.CallOption) (*DeleteTaskTypeResponse, error)
}

type beaconServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewBeaconServiceClient creates a client that speaks the JSON codec
func NewBeaconServiceClient(cc grpc.ClientConnInterface) BeaconServiceClient {
	return &beaconServiceClient{cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in interface{}, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *beaconServiceClient) Beacon(ctx context.Context, in *BeaconRequest, opts ...grpc.CallOption) (*BeaconResponse, error) {
	return invoke[BeaconResponse](ctx, c.cc, BeaconService_Beacon_FullMethodName, in, opts)
}

func (c *beaconServiceClient) ListImplants(ctx context.Context, in *ListImplantsRequest, opts ...grpc.CallOption) (*ListImplantsResponse, error) {
	return invoke[ListImplantsResponse](ctx, c.cc, BeaconService_ListImplants_FullMethodName, in, opts)
}

func (c *beaconServiceClient) GetImplant(ctx context.Context, in *GetImplantRequest, opts ...grpc.CallOption) (*GetImplantResponse, error) {
	return invoke[GetImplantResponse](ctx, c.cc, BeaconService_GetImplant_FullMethodName, in, opts)
}

func (c *beaconServiceClient) DeleteImplant(ctx context.Context, in *DeleteImplantRequest, opts ...grpc.CallOption) (*DeleteImplantResponse, error) {
	return invoke[DeleteImplantResponse](ctx, c.cc, BeaconService_DeleteImplant_FullMethodName, in, opts)
}

func (c *beaconServiceClient) EnqueueTask(ctx context.Context, in *EnqueueTaskRequest, opts ...grpc.CallOption) (*EnqueueTaskResponse, error) {
	return invoke[EnqueueTaskResponse](ctx, c.cc, BeaconService_EnqueueTask_FullMethodName, in, opts)
}

func (c *beaconServiceClient) GetTask(ctx context.Context, in *GetTaskRequest, opts ...grpc.CallOption) (*GetTaskResponse, error) {
	return invoke[GetTaskResponse](ctx, c.cc, BeaconService_GetTask_FullMethodName, in, opts)
}

func (c *beaconServiceClient) ListTasks(ctx context.Context, in *ListTasksRequest, opts ...grpc.CallOption) (*ListTasksResponse, error) {
	return invoke[ListTasksResponse](ctx, c.cc, BeaconService_ListTasks_FullMethodName, in, opts)
}

func (c *beaconServiceClient) CancelTask(ctx context.Context, in *CancelTaskRequest, opts ...grpc.CallOption) (*CancelTaskResponse, error) {
	return invoke[CancelTaskResponse](ctx, c.cc, BeaconService_CancelTask_FullMethodName, in, opts)
}

func (c *beaconServiceClient) CreateTaskType(ctx context.Context, in *CreateTaskTypeRequest, opts ...grpc.CallOption) (*CreateTaskTypeResponse, error) {
	return invoke[CreateTaskTypeResponse](ctx, c.cc, BeaconService_CreateTaskType_FullMethodName, in, opts)
}

func (c *beaconServiceClient) ListTaskTypes(ctx context.Context, in *ListTaskTypesRequest, opts ...grpc.CallOption) (*ListTaskTypesResponse, error) {
	return invoke[ListTaskTypesResponse](ctx, c.cc, BeaconService_ListTaskTypes_FullMethodName, in, opts)
}

func (c *beaconServiceClient) DeleteTaskType(ctx context.Context, in *DeleteTaskTypeRequest, opts ...grpc.CallOption) (*DeleteTaskTypeResponse, error) {
	return invoke[DeleteTaskTypeResponse](ctx, c.cc, BeaconService_DeleteTaskType_FullMethodName, in, opts)
}
