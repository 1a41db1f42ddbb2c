package main

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildData(t *testing.T) {
	data, err := buildData("billing-jobs", "send-invoice", "", "billing", "", "", "0 6 1 * *", "", "skip", true)
	require.NoError(t, err)
	assert.Equal(t, "billingjobs", data.PackageName)
	assert.Equal(t, "BillingJobs", data.TypeName)
	assert.Equal(t, "SendInvoice", data.Method)
	require.NotNil(t, data.Schedule)
	assert.Equal(t, "send-invoice", data.Schedule.ID)
	assert.Equal(t, "id=send-invoice;workflow=SendInvoice;cron=0 6 1 * *;overlap=skip;startPaused=true", data.Schedule.Tag())

	data, err = buildData("billing", "send-invoice", "Send", "", "", "", "", "", "allow", false)
	require.NoError(t, err)
	assert.Nil(t, data.Schedule)
	assert.Equal(t, "Send", data.Method)
}

func TestBuildData_Rejects(t *testing.T) {
	_, err := buildData("", "send-invoice", "", "", "", "", "", "", "", false)
	assert.Error(t, err)

	_, err = buildData("billing", "send invoice", "", "", "", "", "", "", "", false)
	assert.Error(t, err)

	_, err = buildData("billing", "send-invoice", "", "", "", "", "not a cron", "", "", false)
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	data, err := buildData("billing", "send-invoice", "", "billing", "monthly-invoice", "SendInvoices", "0 6 1 * *", "24h", "allow", false)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), data.PackageName)
	written, err := generate(data, dir)
	require.NoError(t, err)
	assert.Len(t, written, 3)

	fset := token.NewFileSet()
	for _, path := range written {
		_, err := parser.ParseFile(fset, path, nil, parser.AllErrors)
		assert.NoError(t, err, path)
	}

	src, err := os.ReadFile(filepath.Join(dir, "component.go"))
	require.NoError(t, err)
	assert.Contains(t, string(src), `activity:"taskQueue=billing"`)
	assert.Contains(t, string(src), `schedule:"id=monthly-invoice;workflow=SendInvoices;cron=0 6 1 * *;interval=24h"`)
	assert.Contains(t, string(src), "func (c *Billing) SendInvoice(ctx context.Context, input Input) (Output, error)")

	_, err = generate(data, dir)
	assert.Error(t, err, "existing files are not overwritten")
}
