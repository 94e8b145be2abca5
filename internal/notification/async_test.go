package notification_test

//go:generate mockgen -source=notification.go -destination=mocks/mocks.go -package=mocks Dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"changeflow/internal/changerequest/models"
	"changeflow/internal/notification"
	"changeflow/internal/notification/mocks"
	"changeflow/pkg/requestcontext"
)

func sampleCR() *models.ChangeRequest {
	return &models.ChangeRequest{
		ID:            1,
		CRNumber:      "CR-2026-0001",
		RequestedBy:   10,
		LineManagerID: 20,
		CurrentStage:  models.StageLineManager,
		CurrentStatus: models.StatusPendingLM,
	}
}

func TestAsync_SendDetachesFromRequestCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	dispatcher := mocks.NewMockDispatcher(ctrl)

	ctx, cancel := context.WithCancel(requestcontext.WithRequestID(context.Background(), "req-9"))
	n := notification.New(notification.KindCreated, sampleCR(), notification.To(20), time.Now())

	dispatcher.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, got notification.Notification) error {
			assert.NoError(t, ctx.Err())
			assert.Equal(t, "req-9", got.RequestID)
			assert.Equal(t, notification.KindCreated, got.Kind)
			assert.Equal(t, notification.Explicit{IDs: []int64{20}}, got.Recipients)
			return nil
		})

	async := notification.NewAsync(dispatcher)
	async.Send(ctx, n)
	cancel()
	async.Wait()
}

func TestAsync_FailureIsSwallowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	dispatcher := mocks.NewMockDispatcher(ctrl)
	dispatcher.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(errors.New("smtp down"))

	async := notification.NewAsync(dispatcher, notification.WithTimeout(time.Second))
	async.Send(context.Background(), notification.New(notification.KindClosed, sampleCR(), notification.To(10), time.Now()))
	async.Wait()
}

func TestAsync_NilSafe(t *testing.T) {
	var async *notification.Async
	async.Send(context.Background(), notification.Notification{})
	async.Wait()
}

func TestTo_DropsZeroAndDuplicates(t *testing.T) {
	got := notification.To(10, 0, 20, 10)
	require.Equal(t, []int64{10, 20}, got.IDs)
}
