package discovery

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"camunda-discovery/internal/common/errors"
	"camunda-discovery/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reportRequest struct {
	Title string `json:"title"`
}

type reportResult struct {
	Path string
}

type ctxKey struct{}

type reportComponent struct {
	_ Activities `activity:"taskQueue=reports;retries=3"`
	_ Method     `method:"Generate" activity:"name=generate-report;timeout=30s" schedule:"id=daily-report;workflow=GenerateReport;cron=0 0 * * *"`
	_ Method     `method:"Cleanup" activity:""`
	_ Method     `method:"Digest" schedule:"id=weekly-digest;interval=168h;startPaused=true;taskQueue=digests;args=[\"weekly\",7]"`

	prefix string
}

func (r *reportComponent) Generate(ctx context.Context, req reportRequest) (reportResult, error) {
	if req.Title == "" {
		return reportResult{}, fmt.Errorf("title required")
	}
	tenant, _ := ctx.Value(ctxKey{}).(string)
	return reportResult{Path: r.prefix + "/" + tenant + "/" + req.Title}, nil
}

func (r *reportComponent) Cleanup() error { return nil }

func (r *reportComponent) Digest() {}

// Helper is untagged and must be ignored.
func (r *reportComponent) Helper() {}

type untaggedClass struct {
	_ Method `method:"Run" activity:"name=orphan" schedule:"id=hourly-sync;interval=1h"`
}

func (untaggedClass) Run() {}

type emptyActivities struct {
	_ Activities `activity:""`
}

type brokenTags struct {
	_ Activities `activity:""`
	_ Method     `method:"Good" activity:"name=good"`
	_ Method     `method:"Bad" activity:"name=a;name=b"`
	_ Method     `method:"Missing" activity:"name=missing"`
	_ Method     `method:"NoTrigger" schedule:"id=no-trigger"`
}

func (brokenTags) Good()      {}
func (brokenTags) Bad()       {}
func (brokenTags) NoTrigger() {}

type panicky struct {
	_ Activities `activity:""`
	_ Method     `method:"Explode" activity:""`
	_ Method     `method:"TooMany" activity:""`
}

func (panicky) Explode() (string, error) { panic("boom") }
func (panicky) TooMany(a int) int        { return a }

func newTestExtractor(t *testing.T, reader TagReader) *Extractor {
	return NewExtractor(reader, logger.NewTestLogger(t))
}

func activityNames(ds []ActivityDescriptor) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Name)
	}
	return out
}

func TestExtract_ActivitiesAndSchedules(t *testing.T) {
	ex := newTestExtractor(t, NewStructTagReader())

	res, err := ex.Extract(&reportComponent{prefix: "/tmp"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "reportComponent", res.Owner)
	assert.Equal(t, "reports", res.ComponentTaskQueue)
	assert.Empty(t, res.Warnings)

	assert.Equal(t, []string{"Cleanup", "generate-report"}, activityNames(res.Activities))
	gen := res.Activities[1]
	assert.Equal(t, "Generate", gen.Method)
	assert.Equal(t, map[string]string{"retries": "3", "timeout": "30s"}, gen.Options)
	assert.Equal(t, map[string]string{"retries": "3"}, res.Activities[0].Options)

	require.Len(t, res.Schedules, 2)
	digest, daily := res.Schedules[0], res.Schedules[1]

	assert.Equal(t, "daily-report", daily.ID)
	assert.Equal(t, "GenerateReport", daily.WorkflowName)
	assert.Equal(t, []string{"0 0 * * *"}, daily.Cron)
	assert.True(t, daily.AutoStart)
	assert.False(t, daily.StartPaused)
	assert.Equal(t, OverlapAllow, daily.OverlapPolicy)
	assert.Equal(t, "reports", daily.ResolveTaskQueue("default"))

	assert.Equal(t, "weekly-digest", digest.ID)
	assert.Equal(t, "Digest", digest.WorkflowName)
	assert.Equal(t, []string{"168h"}, digest.Intervals)
	assert.True(t, digest.StartPaused)
	assert.Equal(t, "digests", digest.ResolveTaskQueue("default"))
	assert.Equal(t, []any{"weekly", float64(7)}, digest.Args)
}

func TestExtract_HandlerBinding(t *testing.T) {
	ex := newTestExtractor(t, NewStructTagReader())

	res, err := ex.Extract(&reportComponent{prefix: "/srv"}, nil)
	require.NoError(t, err)
	gen := res.Activities[1].Handler

	ctx := context.WithValue(context.Background(), ctxKey{}, "acme")

	out, err := gen(ctx, map[string]interface{}{"title": "q1"})
	require.NoError(t, err)
	assert.Equal(t, reportResult{Path: "/srv/acme/q1"}, out)

	out, err = gen(ctx, reportRequest{Title: "q2"})
	require.NoError(t, err)
	assert.Equal(t, reportResult{Path: "/srv/acme/q2"}, out)

	_, err = gen(ctx)
	require.Error(t, err)
	assert.Equal(t, "title required", err.Error())

	_, err = gen(ctx, reportRequest{}, "extra")
	assert.True(t, errors.IsCode(err, errors.ErrCodeActivityInputInvalid))

	_, err = gen(ctx, "not an object")
	assert.True(t, errors.IsCode(err, errors.ErrCodeActivityInputInvalid))
}

func TestExtract_HandlerPanicsBecomeErrors(t *testing.T) {
	ex := newTestExtractor(t, NewStructTagReader())
	res, err := ex.Extract(panicky{}, nil)
	require.NoError(t, err)
	require.Len(t, res.Activities, 2)

	out, err := res.Activities[0].Handler(context.Background())
	assert.Nil(t, out)
	assert.True(t, errors.IsCode(err, errors.ErrCodeActivityPanicked))
	assert.Contains(t, err.Error(), "Explode")

	out, err = res.Activities[1].Handler(context.Background(), 41)
	require.NoError(t, err)
	assert.Equal(t, 41, out)
}

func TestExtract_MethodTagsWithoutClassTag(t *testing.T) {
	ex := newTestExtractor(t, NewStructTagReader())

	res, err := ex.Extract(untaggedClass{}, nil)
	require.NoError(t, err)

	assert.Empty(t, res.Activities)
	require.Len(t, res.Schedules, 1)
	assert.Equal(t, "hourly-sync", res.Schedules[0].ID)
	assert.Equal(t, "", res.Schedules[0].ResolveTaskQueue(""))
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "activity tag ignored")
}

func TestExtract_TaggedClassWithoutActivities(t *testing.T) {
	ex := newTestExtractor(t, NewStructTagReader())

	res, err := ex.Extract(&emptyActivities{}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Activities)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "zero activity methods")
}

func TestExtract_BadMembersAreWarnings(t *testing.T) {
	ex := newTestExtractor(t, NewStructTagReader())

	res, err := ex.Extract(brokenTags{}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"good"}, activityNames(res.Activities))
	require.Len(t, res.Schedules, 1, "malformed schedules are kept for the lifecycle manager")
	assert.Error(t, res.Schedules[0].Validate())

	joined := strings.Join(res.Warnings, "\n")
	assert.Contains(t, joined, `unknown method "Missing"`)
	assert.Contains(t, joined, "brokenTags.Bad")
	assert.Contains(t, joined, "either cron or interval is required")
}

type countingReader struct {
	TagReader
	calls int
}

func (c *countingReader) HasTag(kind TagKind, t reflect.Type) (bool, error) {
	c.calls++
	return c.TagReader.HasTag(kind, t)
}

func (c *countingReader) ReadTag(kind TagKind, t reflect.Type, member string) (Tag, error) {
	c.calls++
	return c.TagReader.ReadTag(kind, t, member)
}

func TestExtract_CachesMetadataPerType(t *testing.T) {
	reader := &countingReader{TagReader: NewStructTagReader()}
	ex := newTestExtractor(t, reader)

	first, err := ex.Extract(&reportComponent{prefix: "a"}, nil)
	require.NoError(t, err)
	calls := reader.calls
	require.Positive(t, calls)

	second, err := ex.Extract(&reportComponent{prefix: "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, calls, reader.calls, "second extraction must hit the cache")

	// Handlers stay bound to their own instance.
	out1, err := first.Activities[1].Handler(context.Background(), reportRequest{Title: "x"})
	require.NoError(t, err)
	out2, err := second.Activities[1].Handler(context.Background(), reportRequest{Title: "x"})
	require.NoError(t, err)
	assert.NotEqual(t, out1, out2)

	// Descriptor slices are copies.
	first.Schedules[0].Intervals[0] = "1s"
	assert.Equal(t, "168h", second.Schedules[0].Intervals[0])
}

type panickingReader struct {
	TagReader
	member string
}

func (p panickingReader) ReadTag(kind TagKind, t reflect.Type, member string) (Tag, error) {
	if member == p.member {
		panic("metadata store unavailable")
	}
	return p.TagReader.ReadTag(kind, t, member)
}

func TestExtract_MemberPanicSkipsOnlyThatMember(t *testing.T) {
	ex := newTestExtractor(t, panickingReader{TagReader: NewStructTagReader(), member: "Cleanup"})

	res, err := ex.Extract(&reportComponent{}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"generate-report"}, activityNames(res.Activities))
	assert.Len(t, res.Schedules, 2)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "metadata store unavailable")
}

type plainService struct{}

func (plainService) Sync(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"synced": input["n"]}, nil
}

func TestExtract_TableTagReader(t *testing.T) {
	typ := reflect.TypeOf(plainService{})
	reader := NewTableTagReader().
		Class(typ, TagActivities, Tag{"taskQueue": "sync"}).
		Member(typ, "Sync", TagActivity, Tag{"name": "sync-accounts"}).
		Member(typ, "Sync", TagSchedule, Tag{"id": "nightly-sync", "cron": "0 2 * * *|0 14 * * *"})

	ex := newTestExtractor(t, reader)
	res, err := ex.Extract(plainService{}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	require.Len(t, res.Activities, 1)
	out, err := res.Activities[0].Handler(context.Background(), map[string]interface{}{"n": 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"synced": 3}, out)

	require.Len(t, res.Schedules, 1)
	assert.Equal(t, []string{"0 2 * * *", "0 14 * * *"}, res.Schedules[0].Cron)
	assert.Equal(t, "sync", res.Schedules[0].ResolveTaskQueue("default"))
}

type reportGenerator interface {
	Generate(ctx context.Context, req reportRequest) (reportResult, error)
}

func TestExtract_InterfaceDeclaredTypeUsesInstance(t *testing.T) {
	ex := NewExtractor(NewStructTagReader(), logger.NewTestLogger(t))
	declared := reflect.TypeOf((*reportGenerator)(nil)).Elem()

	res, err := ex.Extract(&reportComponent{}, declared)
	require.NoError(t, err)
	assert.Len(t, res.Activities, 2)
	assert.Len(t, res.Schedules, 2)
	assert.Equal(t, "reportComponent", res.Owner)
}

func TestExtract_NilInstance(t *testing.T) {
	ex := newTestExtractor(t, NewStructTagReader())
	_, err := ex.Extract(nil, nil)
	assert.Error(t, err)
}

func TestTypeID(t *testing.T) {
	assert.Equal(t, "camunda-discovery/internal/discovery.reportComponent", TypeID(reflect.TypeOf(&reportComponent{})))
	assert.Equal(t, TypeID(reflect.TypeOf(reportComponent{})), TypeID(reflect.TypeOf(&reportComponent{})))
	assert.Equal(t, "map[string]int", TypeID(reflect.TypeOf(map[string]int{})))
}

func TestParseTag(t *testing.T) {
	tag, err := ParseTag(" id=daily ; cron=0 0 * * *|@hourly; paused ")
	require.NoError(t, err)
	assert.Equal(t, "daily", tag.String("id", ""))
	assert.Equal(t, []string{"0 0 * * *", "@hourly"}, tag.List("cron"))
	b, err := tag.Bool("paused", false)
	require.NoError(t, err)
	assert.True(t, b)
	assert.Equal(t, "fallback", tag.String("missing", "fallback"))

	_, err = ParseTag("=x")
	assert.Error(t, err)
	_, err = ParseTag("a=1;a=2")
	assert.Error(t, err)

	_, err = Tag{"flag": "maybe"}.Bool("flag", false)
	assert.Error(t, err)
}
