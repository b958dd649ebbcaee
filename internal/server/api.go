package server

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "archive.transcription.v1.TranscriptionService"

const (
	MethodSubmit     = "/" + ServiceName + "/Submit"
	MethodListJobs   = "/" + ServiceName + "/ListJobs"
	MethodExportJobs = "/" + ServiceName + "/ExportJobs"
)

type SubmitRequest struct {
	ImageIDs    []string `json:"image_ids,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

type ImageOutcome struct {
	ImageID   string `json:"image_id"`
	Submitted bool   `json:"submitted"`
	JobID     string `json:"job_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type SubmitResponse struct {
	ResolvedImageIDs []string       `json:"resolved_image_ids"`
	Outcomes         []ImageOutcome `json:"outcomes"`
	TaskID           string         `json:"task_id,omitempty"`
}

type ListJobsRequest struct {
	// ImageIDs narrows the listing; empty means every job of the caller.
	ImageIDs []string `json:"image_ids,omitempty"`
	FromDate string   `json:"from_date,omitempty"`
	ToDate   string   `json:"to_date,omitempty"`
}

type Job struct {
	ID             string `json:"id"`
	ImageID        string `json:"image_id"`
	ExternalJobID  string `json:"external_job_id"`
	Status         string `json:"status"`
	TranscriptText string `json:"transcript_text,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type ListJobsResponse struct {
	Jobs []Job `json:"jobs"`
}

type ExportJobsRequest struct {
	FromDate string `json:"from_date,omitempty"`
	ToDate   string `json:"to_date,omitempty"`
}

type ExportJobsResponse struct {
	Xlsx []byte `json:"xlsx"`
}

// TranscriptionServer is the server API for the transcription service.
type TranscriptionServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	ListJobs(context.Context, *ListJobsRequest) (*ListJobsResponse, error)
	ExportJobs(context.Context, *ExportJobsRequest) (*ExportJobsResponse, error)
}

func RegisterTranscriptionServer(s grpc.ServiceRegistrar, srv TranscriptionServer) {
	s.RegisterService(&transcriptionServiceDesc, srv)
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SubmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TranscriptionServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodSubmit}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TranscriptionServer).Submit(ctx, req.(*SubmitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listJobsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListJobsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TranscriptionServer).ListJobs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodListJobs}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TranscriptionServer).ListJobs(ctx, req.(*ListJobsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func exportJobsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExportJobsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TranscriptionServer).ExportJobs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodExportJobs}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TranscriptionServer).ExportJobs(ctx, req.(*ExportJobsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var transcriptionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TranscriptionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "ListJobs", Handler: listJobsHandler},
		{MethodName: "ExportJobs", Handler: exportJobsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "archive/transcription/v1/transcription.proto",
}

// Client calls the transcription service over a connection using the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	out := new(SubmitResponse)
	if err := c.cc.Invoke(ctx, MethodSubmit, in, out, append(opts, grpc.CallContentSubtype(CodecName))...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListJobs(ctx context.Context, in *ListJobsRequest, opts ...grpc.CallOption) (*ListJobsResponse, error) {
	out := new(ListJobsResponse)
	if err := c.cc.Invoke(ctx, MethodListJobs, in, out, append(opts, grpc.CallContentSubtype(CodecName))...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ExportJobs(ctx context.Context, in *ExportJobsRequest, opts ...grpc.CallOption) (*ExportJobsResponse, error) {
	out := new(ExportJobsResponse)
	if err := c.cc.Invoke(ctx, MethodExportJobs, in, out, append(opts, grpc.CallContentSubtype(CodecName))...); err != nil {
		return nil, err
	}
	return out, nil
}
