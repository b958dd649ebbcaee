package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/joseph-ayodele/archive-transcriber/constants"
	"github.com/joseph-ayodele/archive-transcriber/internal/common"
	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
	"github.com/joseph-ayodele/archive-transcriber/internal/transcribe"
)

type fakeCoordinator struct {
	got      transcribe.SubmitRequest
	SubmitFn func(req transcribe.SubmitRequest) (*transcribe.SubmitResult, error)
}

func (f *fakeCoordinator) Submit(_ context.Context, req transcribe.SubmitRequest) (*transcribe.SubmitResult, error) {
	f.got = req
	return f.SubmitFn(req)
}

type fakeJobs struct {
	jobs     []*entity.TranscriptionJob
	user     uuid.UUID
	from, to *time.Time
	byImage  []uuid.UUID
}

func (f *fakeJobs) ListForUser(_ context.Context, userID uuid.UUID, from, to *time.Time) ([]*entity.TranscriptionJob, error) {
	f.user, f.from, f.to = userID, from, to
	return f.jobs, nil
}

func (f *fakeJobs) ListByImageIDs(_ context.Context, userID uuid.UUID, imageIDs []uuid.UUID, from, to *time.Time) ([]*entity.TranscriptionJob, error) {
	f.user, f.from, f.to, f.byImage = userID, from, to, imageIDs
	var out []*entity.TranscriptionJob
	for _, j := range f.jobs {
		for _, id := range imageIDs {
			if j.ImageID == id {
				out = append(out, j)
			}
		}
	}
	return out, nil
}

type fakeExporter struct{}

func (fakeExporter) JobsXLSX(_ context.Context, userID uuid.UUID, _, _ *time.Time) ([]byte, error) {
	return []byte("xlsx:" + userID.String()), nil
}

func startServer(t *testing.T, svc TranscriptionServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s, _ := NewGRPCServer(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func asUser(id uuid.UUID) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), MDUserID, id.String())
}

func TestSubmit_MapsResult(t *testing.T) {
	user, img, doc := uuid.New(), uuid.New(), uuid.New()
	jobID, taskID, dropped := uuid.New(), uuid.New(), uuid.New()
	coord := &fakeCoordinator{SubmitFn: func(req transcribe.SubmitRequest) (*transcribe.SubmitResult, error) {
		return &transcribe.SubmitResult{
			ResolvedImageIDs: []uuid.UUID{img, dropped},
			Outcomes: []transcribe.ImageOutcome{
				{ImageID: img, Submitted: true, JobID: jobID},
				{ImageID: dropped, Error: "fetch image: not found"},
			},
			TaskID: &taskID,
		}, nil
	}}
	client := NewClient(startServer(t, NewTranscriptionService(coord, &fakeJobs{}, nil, nil)))

	resp, err := client.Submit(asUser(user), &SubmitRequest{ImageIDs: []string{img.String()}, DocumentIDs: []string{doc.String()}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if coord.got.UserID != user || len(coord.got.ImageIDs) != 1 || coord.got.DocumentIDs[0] != doc {
		t.Errorf("coordinator got %+v", coord.got)
	}
	if resp.TaskID != taskID.String() || len(resp.ResolvedImageIDs) != 2 {
		t.Errorf("response = %+v", resp)
	}
	if !resp.Outcomes[0].Submitted || resp.Outcomes[0].JobID != jobID.String() {
		t.Errorf("outcome[0] = %+v", resp.Outcomes[0])
	}
	if resp.Outcomes[1].Submitted || resp.Outcomes[1].JobID != "" || resp.Outcomes[1].Error == "" {
		t.Errorf("outcome[1] = %+v", resp.Outcomes[1])
	}
}

func TestSubmit_ErrorCodes(t *testing.T) {
	user := uuid.New()
	tests := []struct {
		name string
		ctx  context.Context
		req  *SubmitRequest
		err  error
		want codes.Code
	}{
		{"no caller", context.Background(), &SubmitRequest{ImageIDs: []string{uuid.NewString()}}, nil, codes.Unauthenticated},
		{"bad uuid", asUser(user), &SubmitRequest{ImageIDs: []string{"nope"}}, nil, codes.InvalidArgument},
		{"empty", asUser(user), &SubmitRequest{}, fmt.Errorf("%w: empty", common.ErrInvalidInput), codes.InvalidArgument},
		{"forbidden", asUser(user), &SubmitRequest{ImageIDs: []string{uuid.NewString()}}, fmt.Errorf("%w: image", common.ErrForbidden), codes.PermissionDenied},
		{"credits", asUser(user), &SubmitRequest{ImageIDs: []string{uuid.NewString()}}, fmt.Errorf("%w: need 1", common.ErrInsufficientCredits), codes.FailedPrecondition},
		{"internal", asUser(user), &SubmitRequest{ImageIDs: []string{uuid.NewString()}}, fmt.Errorf("%w: enqueue", common.ErrInternal), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := &fakeCoordinator{SubmitFn: func(transcribe.SubmitRequest) (*transcribe.SubmitResult, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return &transcribe.SubmitResult{}, nil
			}}
			client := NewClient(startServer(t, NewTranscriptionService(coord, &fakeJobs{}, nil, nil)))
			_, err := client.Submit(tt.ctx, tt.req)
			if got := status.Code(err); got != tt.want {
				t.Errorf("code = %s, want %s (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestListJobs_FiltersByImage(t *testing.T) {
	user, a, b := uuid.New(), uuid.New(), uuid.New()
	reason := constants.FailureLocalTimeout
	text := "Hello"
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	jobs := &fakeJobs{jobs: []*entity.TranscriptionJob{
		{ID: uuid.New(), ImageID: a, Status: constants.JobStatusCompleted, TranscriptText: &text, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.New(), ImageID: b, Status: constants.JobStatusFailed, FailureReason: &reason, CreatedAt: now, UpdatedAt: now},
	}}
	client := NewClient(startServer(t, NewTranscriptionService(nil, jobs, nil, nil)))

	resp, err := client.ListJobs(asUser(user), &ListJobsRequest{ImageIDs: []string{b.String()}, FromDate: "2026-03-01", ToDate: "2026-03-04"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if jobs.user != user {
		t.Errorf("listed for %s, want %s", jobs.user, user)
	}
	if len(jobs.byImage) != 1 || jobs.byImage[0] != b {
		t.Errorf("image filter = %v, want [%s]", jobs.byImage, b)
	}
	if jobs.from == nil || !jobs.from.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from = %v", jobs.from)
	}
	if jobs.to == nil || !jobs.to.Equal(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("to = %v, want the day after to_date", jobs.to)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].ImageID != b.String() || resp.Jobs[0].FailureReason != "local_timeout" {
		t.Errorf("jobs = %+v", resp.Jobs)
	}
}

func TestListJobs_WithoutImageFilterListsEverything(t *testing.T) {
	user := uuid.New()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	jobs := &fakeJobs{jobs: []*entity.TranscriptionJob{
		{ID: uuid.New(), ImageID: uuid.New(), Status: constants.JobStatusInProgress, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.New(), ImageID: uuid.New(), Status: constants.JobStatusInProgress, CreatedAt: now, UpdatedAt: now},
	}}
	client := NewClient(startServer(t, NewTranscriptionService(nil, jobs, nil, nil)))

	resp, err := client.ListJobs(asUser(user), &ListJobsRequest{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if jobs.byImage != nil {
		t.Errorf("image filter used without image ids: %v", jobs.byImage)
	}
	if len(resp.Jobs) != 2 {
		t.Errorf("jobs = %d, want 2", len(resp.Jobs))
	}
}

func TestListJobs_BadDate(t *testing.T) {
	client := NewClient(startServer(t, NewTranscriptionService(nil, &fakeJobs{}, nil, nil)))
	_, err := client.ListJobs(asUser(uuid.New()), &ListJobsRequest{FromDate: "03/01/2026"})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("code = %s, want InvalidArgument", status.Code(err))
	}
}

func TestExportJobs(t *testing.T) {
	user := uuid.New()
	client := NewClient(startServer(t, NewTranscriptionService(nil, &fakeJobs{}, fakeExporter{}, nil)))
	resp, err := client.ExportJobs(asUser(user), &ExportJobsRequest{})
	if err != nil {
		t.Fatalf("ExportJobs: %v", err)
	}
	if string(resp.Xlsx) != "xlsx:"+user.String() {
		t.Errorf("xlsx = %q", resp.Xlsx)
	}
}

func TestHealth(t *testing.T) {
	conn := startServer(t, NewTranscriptionService(nil, &fakeJobs{}, nil, nil))
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %s", resp.GetStatus())
	}
}
