package worker_test

import (
	"context"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-contracts/internal/domain"
	"github.com/ahrav/go-contracts/internal/worker"
)

type recordingRegistrar struct {
	workflows  []string
	activities []string
}

func funcName(fn any) string {
	name := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	name = strings.TrimSuffix(name, "-fm")
	return name[strings.LastIndex(name, ".")+1:]
}

func (r *recordingRegistrar) RegisterWorkflow(w any) { r.workflows = append(r.workflows, funcName(w)) }
func (r *recordingRegistrar) RegisterActivity(a any) { r.activities = append(r.activities, funcName(a)) }

type nopRunner struct{}

func (nopRunner) RunSet(context.Context, string) (*domain.RunReport, error) {
	return &domain.RunReport{}, nil
}

func (nopRunner) Run(context.Context, []string) (*domain.RunReport, error) {
	return &domain.RunReport{}, nil
}

func TestRegisterAll(t *testing.T) {
	reg := &recordingRegistrar{}
	worker.RegisterAll(reg, nopRunner{}, nil)

	require.Len(t, reg.workflows, 1)
	assert.Equal(t, "ContractRunWorkflow", reg.workflows[0])
	assert.Equal(t, []string{"RunContractSet"}, reg.activities)
}
