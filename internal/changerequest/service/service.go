// Package service is the Stage Transition Engine: it loads a change request, checks who may
// act on it at its current stage, applies the stage's side effects, persists the result
// with its audit entry in one transaction and notifies stakeholders after commit.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"changeflow/internal/changerequest/metrics"
	"changeflow/internal/changerequest/models"
	"changeflow/internal/changerequest/store"
	"changeflow/internal/changerequest/workflow"
	"changeflow/internal/notification"
	"changeflow/internal/sequence"
	dErrors "changeflow/pkg/domain-errors"
	"changeflow/pkg/platform/audit"
	"changeflow/pkg/platform/sentinel"
	"changeflow/pkg/requestcontext"
)

// crSequence names the counter behind CR numbers.
const crSequence = "change_request"

var tracer = otel.Tracer("changeflow/changerequest")

// ChangeRequestStore persists the aggregate root.
type ChangeRequestStore interface {
	Create(ctx context.Context, cr *models.ChangeRequest) error
	FindByID(ctx context.Context, id int64) (*models.ChangeRequest, error)
	FindForUpdate(ctx context.Context, id int64) (*models.ChangeRequest, error)
	Save(ctx context.Context, cr *models.ChangeRequest) error
	Search(ctx context.Context, filter models.SearchFilter) (*store.Page, error)
	Queue(ctx context.Context, q store.QueueQuery) ([]*models.ChangeRequest, error)
	Statistics(ctx context.Context) (*models.Statistics, error)
}

// SatelliteStore persists the child collections, keyed by change request id.
type SatelliteStore interface {
	AddApproval(ctx context.Context, a *models.Approval) error
	ListApprovals(ctx context.Context, crID int64) ([]models.Approval, error)
	AddTestingResults(ctx context.Context, results []models.TestingResult) error
	ListTestingResults(ctx context.Context, crID int64) ([]models.TestingResult, error)
	AddQAChecklists(ctx context.Context, items []models.QAChecklist) error
	ValidateQAChecklists(ctx context.Context, crID int64, at time.Time) (int, error)
	ListQAChecklists(ctx context.Context, crID int64) ([]models.QAChecklist, error)
	AddDeploymentTeamMember(ctx context.Context, m *models.DeploymentTeamMember) error
	ListDeploymentTeam(ctx context.Context, crID int64) ([]models.DeploymentTeamMember, error)
	AddAttachment(ctx context.Context, a *models.Attachment) error
	ListAttachments(ctx context.Context, crID int64) ([]models.Attachment, error)
}

type Store interface {
	ChangeRequestStore
	SatelliteStore
}

// HistoryRecorder appends audit entries inside the caller's transaction.
type HistoryRecorder interface {
	Record(ctx context.Context, entry audit.Entry) (*audit.Entry, error)
	List(ctx context.Context, changeRequestID int64) ([]audit.Entry, error)
}

// BlobStore keeps uploaded files.
type BlobStore interface {
	Validate(mime string, size int64, kind models.FileKind) error
	Save(ctx context.Context, data []byte, kind models.FileKind) (string, error)
}

// Notifier hands a notification off without waiting for delivery.
type Notifier interface {
	Send(ctx context.Context, n notification.Notification)
}

// Service is the change request engine.
type Service struct {
	store         Store
	tx            StoreTx
	history       HistoryRecorder
	sequence      sequence.Allocator
	blobs         BlobStore
	notifier      Notifier
	logger        *slog.Logger
	metrics       *metrics.Metrics
	closureWindow time.Duration
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClosureWindow overrides the post-deployment monitoring period.
func WithClosureWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.closureWindow = d
		}
	}
}

// WithTx replaces the in-process transaction runner, e.g. with a database transaction.
func WithTx(tx StoreTx) Option {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

func New(
	st Store,
	history HistoryRecorder,
	seq sequence.Allocator,
	blobs BlobStore,
	notifier Notifier,
	opts ...Option,
) *Service {
	s := &Service{
		store:         st,
		tx:            NewShardedTx(defaultTxTimeout),
		history:       history,
		sequence:      seq,
		blobs:         blobs,
		notifier:      notifier,
		logger:        slog.Default(),
		closureWindow: workflow.DefaultClosureWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// begin opens a span for op and returns the function that closes it with the final error.
func (s *Service) begin(ctx context.Context, op string, id int64) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "changerequest."+op,
		trace.WithAttributes(
			attribute.Int64("change_request.id", id),
			attribute.Int64("actor.id", requestcontext.ActorID(ctx)),
		),
	)
	return ctx, func(errp *error) {
		err := *errp
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		}
		span.End()
		s.metrics.ObserveOperation(op, start, err)
	}
}

// translate maps store sentinels to domain errors. Domain errors pass through.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, what+" was modified concurrently")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to process "+what)
	}
}

func requireActor(actor models.Actor) error {
	if actor.ID <= 0 {
		return dErrors.New(dErrors.CodeUnauthorized, "authenticated actor is required")
	}
	return nil
}

// load reads the current state of one change request outside any transaction.
func (s *Service) load(ctx context.Context, id int64) (*models.ChangeRequest, error) {
	if id <= 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid change request id")
	}
	cr, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "change request")
	}
	return cr, nil
}

// change is applied to the locked copy of a change request. It returns the notification to
// send once the transaction has committed, or nil.
type change func(ctx context.Context, cr *models.ChangeRequest) (*notification.Notification, error)

// mutate runs the load, check, lock, re-check, apply sequence shared by every write.
// check sees the unlocked snapshot; apply sees the locked row and only runs if the row still
// has the snapshot's stage, status and version.
func (s *Service) mutate(ctx context.Context, id int64, check func(*models.ChangeRequest) error, apply change) error {
	snapshot, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if check != nil {
		if err := check(snapshot); err != nil {
			return err
		}
	}

	var note *notification.Notification
	err = s.tx.RunInTx(ctx, id, func(txCtx context.Context) error {
		locked, err := s.store.FindForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if !locked.SameState(snapshot) {
			s.metrics.IncConflict()
			return dErrors.New(dErrors.CodeConflict,
				"change request "+locked.CRNumber+" changed since it was read; reload and retry")
		}
		note, err = apply(txCtx, locked)
		return err
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncConflict()
		}
		return translate(err, "change request")
	}

	s.notify(ctx, note)
	return nil
}

func (s *Service) notify(ctx context.Context, n *notification.Notification) {
	if n == nil || s.notifier == nil {
		return
	}
	n.RequestID = requestcontext.RequestID(ctx)
	s.notifier.Send(ctx, *n)
}

func (s *Service) newNotification(ctx context.Context, kind notification.Kind, cr *models.ChangeRequest, to notification.Recipients) *notification.Notification {
	n := notification.New(kind, cr, to, requestcontext.Now(ctx))
	return &n
}

// save appends the history entry for the move from before to cr, then persists cr. The
// entry goes first so a failed audit write leaves the request untouched even without
// rollback.
func (s *Service) save(ctx context.Context, cr *models.ChangeRequest, before models.ChangeRequest, actor models.Actor, action audit.Action, note string) error {
	cr.UpdatedAt = requestcontext.Now(ctx)
	if err := s.record(ctx, cr, before, actor, action, note); err != nil {
		return err
	}
	return s.store.Save(ctx, cr)
}

func (s *Service) record(ctx context.Context, cr *models.ChangeRequest, before models.ChangeRequest, actor models.Actor, action audit.Action, note string) error {
	_, err := s.history.Record(ctx, audit.Entry{
		ChangeRequestID: cr.ID,
		ActorID:         actor.ID,
		Action:          action,
		FromStage:       int(before.CurrentStage),
		ToStage:         int(cr.CurrentStage),
		FromStatus:      string(before.CurrentStatus),
		ToStatus:        string(cr.CurrentStatus),
		Note:            note,
	})
	return err
}

// aggregate loads a change request with every child collection.
func (s *Service) aggregate(ctx context.Context, id int64) (*models.Aggregate, error) {
	cr, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	agg := &models.Aggregate{ChangeRequest: *cr}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		agg.Approvals, err = s.store.ListApprovals(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		agg.TestingResults, err = s.store.ListTestingResults(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		agg.QAChecklists, err = s.store.ListQAChecklists(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		agg.DeploymentTeam, err = s.store.ListDeploymentTeam(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		agg.Attachments, err = s.store.ListAttachments(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		agg.History, err = s.history.List(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, translate(err, "change request")
	}
	return agg, nil
}
