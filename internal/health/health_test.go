package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptyRegistryIsHealthy(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestCheckAllAggregates(t *testing.T) {
	r := NewRegistry()
	r.Register("redis", func(context.Context) Status {
		return Status{Name: "redis", Healthy: true}
	})
	r.Register("postgres", func(context.Context) Status {
		return Status{Name: "postgres", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Len(t, statuses, 2)
	assert.Equal(t, "redis", statuses[0].Name)
	assert.Equal(t, "postgres", statuses[1].Name)
	assert.Equal(t, "connection refused", statuses[1].Detail)
}

func TestReRegisterReplacesChecker(t *testing.T) {
	r := NewRegistry()
	r.Register("redis", func(context.Context) Status {
		return Status{Healthy: false}
	})
	r.Register("redis", func(context.Context) Status {
		return Status{Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Len(t, statuses, 1)
	assert.Equal(t, "redis", statuses[0].Name, "name filled from registration")
}
