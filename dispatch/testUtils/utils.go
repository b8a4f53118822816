package testUtils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/carecoord/welfare-dispatch/conf"
)

// CtxMatcher allow us to validate that the caller supplied a context.Context argument
// See: https://github.com/stretchr/testify/issues/519
var CtxMatcher = mock.MatchedBy(func(ctx context.Context) bool { return true })

type EnvVar struct {
	Name  string
	Value string
}

// SetEnvVars sets each variable through conf and returns a func restoring the previous values.
func SetEnvVars(t *testing.T, vars []EnvVar) func() {
	previous := make([]EnvVar, 0, len(vars))
	for _, v := range vars {
		old, _ := conf.LookupEnv(v.Name)
		previous = append(previous, EnvVar{Name: v.Name, Value: old})
		assert.NoError(t, conf.SetEnv(t, v.Name, v.Value))
	}

	return func() {
		for _, v := range previous {
			if v.Value == "" {
				assert.NoError(t, conf.UnsetEnv(t, v.Name))
				continue
			}
			assert.NoError(t, conf.SetEnv(t, v.Name, v.Value))
		}
	}
}
