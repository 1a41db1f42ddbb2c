package reporting

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"camunda-discovery/internal/common/errors"
	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/discovery"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupReports(t *testing.T) (*Reports, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	r, err := NewReports(rdb, logger.NewTestLogger(t), &Config{KeyPrefix: "reports", Retention: time.Hour, KeepLast: 2})
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC) }
	return r, mr
}

func TestReports_Generate(t *testing.T) {
	r, mr := setupReports(t)
	mr.HSet("reports:counter:usage", "api_calls", "120", "logins", "7", "broken", "n/a")

	rep, err := r.Generate(context.Background(), GenerateInput{Args: []any{"usage"}, ScheduleID: "usage-report"})
	require.NoError(t, err)
	assert.Equal(t, "usage", rep.Kind)
	assert.Equal(t, "json", rep.Format)
	assert.Equal(t, map[string]int64{"api_calls": 120, "logins": 7}, rep.Totals)
	assert.NotEmpty(t, rep.ID)

	stored, err := mr.Get("reports:report:" + rep.ID)
	require.NoError(t, err)
	var got Report
	require.NoError(t, json.Unmarshal([]byte(stored), &got))
	assert.Equal(t, rep, got)
	assert.Equal(t, time.Hour, mr.TTL("reports:report:"+rep.ID))

	ids, err := mr.List("reports:recent")
	require.NoError(t, err)
	assert.Equal(t, []string{rep.ID}, ids)
}

func TestReports_GenerateRejectsBadInput(t *testing.T) {
	r, _ := setupReports(t)

	_, err := r.Generate(context.Background(), GenerateInput{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeActivityInputInvalid))

	_, err = r.Generate(context.Background(), GenerateInput{Kind: "usage", Format: "docx"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeActivityInputInvalid))
}

func TestReports_Digest(t *testing.T) {
	r, mr := setupReports(t)
	ctx := context.Background()

	empty, err := r.Digest(ctx, DigestInput{})
	require.NoError(t, err)
	assert.Empty(t, empty.Reports)

	mr.HSet("reports:counter:usage", "api_calls", "10")
	first, err := r.Generate(ctx, GenerateInput{Kind: "usage"})
	require.NoError(t, err)
	mr.HSet("reports:counter:usage", "api_calls", "15")
	second, err := r.Generate(ctx, GenerateInput{Kind: "usage"})
	require.NoError(t, err)
	third, err := r.Generate(ctx, GenerateInput{Kind: "usage"})
	require.NoError(t, err)

	out, err := r.Digest(ctx, DigestInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID, second.ID}, out.Reports)
	assert.Equal(t, int64(30), out.Totals["api_calls"])
	assert.NotContains(t, out.Reports, first.ID)

	mr.Del("reports:report:" + third.ID)
	out, err = r.Digest(ctx, DigestInput{Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, out.Reports)
}

func TestReports_Declarations(t *testing.T) {
	r, _ := setupReports(t)
	res, err := discovery.NewExtractor(discovery.NewStructTagReader(), logger.NewNoOpLogger()).Extract(r, nil)
	require.NoError(t, err)
	require.Len(t, res.Schedules, 2)

	usage := res.Schedules[0]
	assert.Equal(t, "usage-report", usage.ID)
	assert.Equal(t, []string{"1h"}, usage.Intervals)
	assert.Equal(t, []string{"0 0 * * *"}, usage.Cron)
	assert.Equal(t, "Europe/Berlin", usage.Timezone)
	assert.Equal(t, []any{"usage"}, usage.Args)
	assert.Equal(t, "reports", usage.ResolveTaskQueue("default"))
	assert.NoError(t, usage.Validate())

	digest := res.Schedules[1]
	assert.True(t, digest.StartPaused)
	assert.True(t, digest.AutoStart)
	assert.Equal(t, "digests", digest.ResolveTaskQueue("default"))
	assert.Equal(t, "Weekly digest, enabled per tenant", digest.Description)
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, to []string, subject, body string) error {
	return m.Called(ctx, to, subject, body).Error(0)
}

func TestReports_DigestMailsRecipients(t *testing.T) {
	r, mr := setupReports(t)
	ctx := context.Background()
	mailer := new(mockMailer)
	r.WithMailer(mailer, []string{"ops@example.com"})

	out, err := r.Digest(ctx, DigestInput{})
	require.NoError(t, err)
	assert.Zero(t, out.Emailed, "empty digests are not mailed")

	mr.HSet("reports:counter:usage", "api_calls", "10", "logins", "2")
	rep, err := r.Generate(ctx, GenerateInput{Kind: "usage"})
	require.NoError(t, err)

	body := "Reports: " + rep.ID + "\n\napi_calls: 10\nlogins: 2\n"
	mailer.On("Send", mock.Anything, []string{"ops@example.com"}, "Report digest (1 reports)", body).Return(nil).Once()
	out, err = r.Digest(ctx, DigestInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Emailed)

	mailer.On("Send", mock.Anything, []string{"a@example.com", "b@example.com"}, mock.Anything, mock.Anything).Return(stderrors.New("rejected")).Once()
	_, err = r.Digest(ctx, DigestInput{Recipients: []string{"a@example.com", "b@example.com"}})
	assert.ErrorContains(t, err, "rejected")
	mailer.AssertExpectations(t)
}
