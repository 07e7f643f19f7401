package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const serviceName = "fitbook.v1.Appointments"

type Appointment struct {
	ID        string                 `json:"id"`
	TrainerID int64                  `json:"trainer_id"`
	ServiceID int64                  `json:"service_id"`
	OwnerID   string                 `json:"owner_id"`
	StartTime *timestamppb.Timestamp `json:"start_time"`
	EndTime   *timestamppb.Timestamp `json:"end_time"`
	Status    string                 `json:"status"`
	Notes     string                 `json:"notes,omitempty"`
	CreatedAt *timestamppb.Timestamp `json:"created_at"`
	UpdatedAt *timestamppb.Timestamp `json:"updated_at"`
}

type CreateAppointmentRequest struct {
	ServiceID int64                  `json:"service_id"`
	TrainerID int64                  `json:"trainer_id"`
	StartTime *timestamppb.Timestamp `json:"start_time"`
	Notes     string                 `json:"notes,omitempty"`
}

type EditAppointmentRequest struct {
	AppointmentID string                 `json:"appointment_id"`
	ServiceID     int64                  `json:"service_id"`
	TrainerID     int64                  `json:"trainer_id"`
	StartTime     *timestamppb.Timestamp `json:"start_time"`
	Notes         string                 `json:"notes,omitempty"`
}

type DecideAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
	// Decision is "confirm" or "reject".
	Decision string `json:"decision"`
}

type CancelAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type GetAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type AppointmentResponse struct {
	Appointment *Appointment `json:"appointment"`
	Notice      string       `json:"notice,omitempty"`
}

// ListAppointmentsRequest lists the caller's own appointments unless All is
// set, which requires the admin role and honours the filters.
type ListAppointmentsRequest struct {
	All       bool   `json:"all,omitempty"`
	TrainerID int64  `json:"trainer_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Limit     int32  `json:"limit,omitempty"`
}

type ListAppointmentsResponse struct {
	Appointments []*Appointment `json:"appointments"`
}

type FindAvailableTrainersRequest struct {
	ServiceID       int64                  `json:"service_id"`
	StartTime       *timestamppb.Timestamp `json:"start_time"`
	DurationMinutes int32                  `json:"duration_minutes,omitempty"`
}

type AvailableTrainer struct {
	TrainerID              int64  `json:"trainer_id"`
	Name                   string `json:"name"`
	QualifiedServicesText  string `json:"qualified_services_text"`
	AvailabilityWindowText string `json:"availability_window_text"`
}

type FindAvailableTrainersResponse struct {
	Trainers []*AvailableTrainer `json:"trainers"`
}

type AppointmentsServiceServer interface {
	CreateAppointment(context.Context, *CreateAppointmentRequest) (*AppointmentResponse, error)
	EditAppointment(context.Context, *EditAppointmentRequest) (*AppointmentResponse, error)
	DecideAppointment(context.Context, *DecideAppointmentRequest) (*AppointmentResponse, error)
	CancelAppointment(context.Context, *CancelAppointmentRequest) (*AppointmentResponse, error)
	GetAppointment(context.Context, *GetAppointmentRequest) (*AppointmentResponse, error)
	ListAppointments(context.Context, *ListAppointmentsRequest) (*ListAppointmentsResponse, error)
	FindAvailableTrainers(context.Context, *FindAvailableTrainersRequest) (*FindAvailableTrainersResponse, error)
}

func unaryHandler[Req, Resp any](method string, call func(AppointmentsServiceServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AppointmentsServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(AppointmentsServiceServer), ctx, req.(*Req))
		})
	}
}

var AppointmentsServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AppointmentsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateAppointment", Handler: unaryHandler("CreateAppointment", AppointmentsServiceServer.CreateAppointment)},
		{MethodName: "EditAppointment", Handler: unaryHandler("EditAppointment", AppointmentsServiceServer.EditAppointment)},
		{MethodName: "DecideAppointment", Handler: unaryHandler("DecideAppointment", AppointmentsServiceServer.DecideAppointment)},
		{MethodName: "CancelAppointment", Handler: unaryHandler("CancelAppointment", AppointmentsServiceServer.CancelAppointment)},
		{MethodName: "GetAppointment", Handler: unaryHandler("GetAppointment", AppointmentsServiceServer.GetAppointment)},
		{MethodName: "ListAppointments", Handler: unaryHandler("ListAppointments", AppointmentsServiceServer.ListAppointments)},
		{MethodName: "FindAvailableTrainers", Handler: unaryHandler("FindAvailableTrainers", AppointmentsServiceServer.FindAvailableTrainers)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fitbook/v1/appointments",
}

func RegisterAppointmentsServiceServer(s grpc.ServiceRegistrar, srv AppointmentsServiceServer) {
	s.RegisterService(&AppointmentsServiceDesc, srv)
}

// AppointmentsClient calls the service over the JSON codec.
type AppointmentsClient struct {
	cc grpc.ClientConnInterface
}

func NewAppointmentsClient(cc grpc.ClientConnInterface) *AppointmentsClient {
	return &AppointmentsClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AppointmentsClient) CreateAppointment(ctx context.Context, in *CreateAppointmentRequest, opts ...grpc.CallOption) (*AppointmentResponse, error) {
	return invoke[AppointmentResponse](ctx, c.cc, "CreateAppointment", in, opts)
}

func (c *AppointmentsClient) EditAppointment(ctx context.Context, in *EditAppointmentRequest, opts ...grpc.CallOption) (*AppointmentResponse, error) {
	return invoke[AppointmentResponse](ctx, c.cc, "EditAppointment", in, opts)
}

func (c *AppointmentsClient) DecideAppointment(ctx context.Context, in *DecideAppointmentRequest, opts ...grpc.CallOption) (*AppointmentResponse, error) {
	return invoke[AppointmentResponse](ctx, c.cc, "DecideAppointment", in, opts)
}

func (c *AppointmentsClient) CancelAppointment(ctx context.Context, in *CancelAppointmentRequest, opts ...grpc.CallOption) (*AppointmentResponse, error) {
	return invoke[AppointmentResponse](ctx, c.cc, "CancelAppointment", in, opts)
}

func (c *AppointmentsClient) GetAppointment(ctx context.Context, in *GetAppointmentRequest, opts ...grpc.CallOption) (*AppointmentResponse, error) {
	return invoke[AppointmentResponse](ctx, c.cc, "GetAppointment", in, opts)
}

func (c *AppointmentsClient) ListAppointments(ctx context.Context, in *ListAppointmentsRequest, opts ...grpc.CallOption) (*ListAppointmentsResponse, error) {
	return invoke[ListAppointmentsResponse](ctx, c.cc, "ListAppointments", in, opts)
}

func (c *AppointmentsClient) FindAvailableTrainers(ctx context.Context, in *FindAvailableTrainersRequest, opts ...grpc.CallOption) (*FindAvailableTrainersResponse, error) {
	return invoke[FindAvailableTrainersResponse](ctx, c.cc, "FindAvailableTrainers", in, opts)
}
