// Package reporting builds usage reports from counters kept in Redis.
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"camunda-discovery/internal/common/errors"
	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/discovery"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var formats = map[string]bool{"json": true, "csv": true, "pdf": true}

type Reports struct {
	_ discovery.Activities `activity:"taskQueue=reports;retries=3"`
	_ discovery.Method     `method:"Generate" activity:"name=generate-report" schedule:"id=usage-report;workflow=GenerateUsageReport;interval=1h;cron=0 0 * * *;timezone=Europe/Berlin;overlap=skip;args=[\"usage\"]"`
	_ discovery.Method     `method:"Digest" activity:"name=publish-report-digest" schedule:"id=weekly-digest;workflow=PublishDigest;cron=0 9 * * 1;startPaused=true;taskQueue=digests;description=Weekly digest, enabled per tenant"`

	config *Config
	logger logger.Logger
	rdb    redis.Cmdable
	now    func() time.Time

	mailer     Mailer
	recipients []string
}

// Mailer delivers a built digest.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

func NewReports(rdb redis.Cmdable, log logger.Logger, config *Config) (*Reports, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reporting config: %w", err)
	}
	return &Reports{
		config: config,
		logger: log.Named("reports"),
		rdb:    rdb,
		now:    time.Now,
	}, nil
}

// WithMailer makes Digest mail non-empty digests to recipients.
func (r *Reports) WithMailer(m Mailer, recipients []string) *Reports {
	r.mailer = m
	r.recipients = recipients
	return r
}

func (r *Reports) counterKey(kind string) string {
	return fmt.Sprintf("%s:counter:%s", r.config.KeyPrefix, kind)
}

func (r *Reports) reportKey(id string) string {
	return fmt.Sprintf("%s:report:%s", r.config.KeyPrefix, id)
}

func (r *Reports) indexKey() string {
	return r.config.KeyPrefix + ":recent"
}

// Generate snapshots the counters for input.Kind into a stored report.
func (r *Reports) Generate(ctx context.Context, input GenerateInput) (Report, error) {
	if input.Kind == "" && len(input.Args) > 0 {
		input.Kind, _ = input.Args[0].(string)
	}
	if input.Kind == "" {
		return Report{}, errors.NewActivityInputInvalidError("generate-report", fmt.Errorf("kind is required"))
	}
	format := input.Format
	if format == "" {
		format = "json"
	}
	if !formats[format] {
		return Report{}, errors.NewActivityInputInvalidError("generate-report", fmt.Errorf("unsupported format %q", format))
	}

	raw, err := r.rdb.HGetAll(ctx, r.counterKey(input.Kind)).Result()
	if err != nil {
		return Report{}, fmt.Errorf("failed to read counters: %w", err)
	}
	totals := make(map[string]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			r.logger.Warn("Skipping non-numeric counter", map[string]interface{}{"kind": input.Kind, "field": field})
			continue
		}
		totals[field] = n
	}

	report := Report{
		ID:          uuid.NewString(),
		Kind:        input.Kind,
		Format:      format,
		Totals:      totals,
		ScheduleID:  input.ScheduleID,
		GeneratedAt: r.now().UTC(),
	}
	data, err := json.Marshal(report)
	if err != nil {
		return Report{}, err
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.reportKey(report.ID), data, r.config.Retention)
	pipe.LPush(ctx, r.indexKey(), report.ID)
	pipe.LTrim(ctx, r.indexKey(), 0, r.config.KeepLast-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return Report{}, fmt.Errorf("failed to store report: %w", err)
	}

	r.logger.Info("Report generated", map[string]interface{}{
		"reportId":   report.ID,
		"kind":       report.Kind,
		"counters":   len(totals),
		"scheduleId": input.ScheduleID,
	})
	return report, nil
}

// Digest sums the most recent reports. Expired reports are skipped.
func (r *Reports) Digest(ctx context.Context, input DigestInput) (DigestOutput, error) {
	limit := int64(input.Limit)
	if limit <= 0 || limit > r.config.KeepLast {
		limit = r.config.KeepLast
	}
	ids, err := r.rdb.LRange(ctx, r.indexKey(), 0, limit-1).Result()
	if err != nil {
		return DigestOutput{}, fmt.Errorf("failed to list reports: %w", err)
	}

	out := DigestOutput{Reports: []string{}, Totals: map[string]int64{}}
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.reportKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return DigestOutput{}, fmt.Errorf("failed to load reports: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rep Report
		if err := json.Unmarshal([]byte(s), &rep); err != nil {
			r.logger.Warn("Skipping unreadable report", map[string]interface{}{"reportId": ids[i], "error": err})
			continue
		}
		out.Reports = append(out.Reports, rep.ID)
		for k, n := range rep.Totals {
			out.Totals[k] += n
		}
	}

	to := input.Recipients
	if len(to) == 0 {
		to = r.recipients
	}
	if r.mailer != nil && len(to) > 0 && len(out.Reports) > 0 {
		subject := fmt.Sprintf("Report digest (%d reports)", len(out.Reports))
		if err := r.mailer.Send(ctx, to, subject, digestBody(out)); err != nil {
			return DigestOutput{}, fmt.Errorf("failed to mail digest: %w", err)
		}
		out.Emailed = len(to)
	}

	r.logger.Info("Digest built", map[string]interface{}{"reports": len(out.Reports), "emailed": out.Emailed})
	return out, nil
}

func digestBody(out DigestOutput) string {
	keys := make([]string, 0, len(out.Totals))
	for k := range out.Totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Reports: %s\n\n", strings.Join(out.Reports, ", "))
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %d\n", k, out.Totals[k])
	}
	return b.String()
}
