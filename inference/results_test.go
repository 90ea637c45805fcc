package inference

import (
	"testing"

	"github.com/nvr-ai/go-helmet/accel/acceltest"
	"github.com/nvr-ai/go-helmet/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResults(t *testing.T) {
	r := NewResults([]string{"dets", "num_dets"})
	assert.Equal(t, []string{"dets", "num_dets"}, r.Names())

	values := []float32{1, 2, 3}
	assert.True(t, r.Set("dets", values))
	assert.False(t, r.Set("scores", values))

	values[0] = 9
	got, ok := r.Get("dets")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got)

	_, ok = r.Get("num_dets")
	assert.False(t, ok)
	_, ok = r.Get("scores")
	assert.False(t, ok)

	r.Clear()
	_, ok = r.Get("dets")
	assert.False(t, ok)
}

func TestBindRoles(t *testing.T) {
	engine := func(b *acceltest.Backend) *acceltest.Engine {
		rt, err := b.NewRuntime()
		require.NoError(t, err)
		e, err := rt.DeserializeEngine(nil)
		require.NoError(t, err)
		return e.(*acceltest.Engine)
	}

	t.Run("positional", func(t *testing.T) {
		b, err := BindRoles(config.Default(), engine(testBackend(1, nil)))
		require.NoError(t, err)
		assert.Equal(t, config.RoleImage, b.Roles[config.RoleImage])
		assert.Equal(t, []string{"dets", "num_dets"}, b.Outputs)
	})

	t.Run("explicit roles", func(t *testing.T) {
		backend := testBackend(1, nil)
		backend.Inputs[1].Name = "x"
		cfg := config.Default()
		cfg.Model.InputRoles = map[string]string{config.RoleImage: "x"}

		b, err := BindRoles(cfg, engine(backend))
		require.NoError(t, err)
		assert.Equal(t, "x", b.Roles[config.RoleImage])
	})

	t.Run("duplicate tensor", func(t *testing.T) {
		cfg := config.Default()
		cfg.Model.InputRoles = map[string]string{config.RoleScaleFactor: config.RoleImShape}
		_, err := BindRoles(cfg, engine(testBackend(1, nil)))
		assert.ErrorIs(t, err, ErrRoleBinding)
	})

	t.Run("extra input", func(t *testing.T) {
		backend := testBackend(1, nil)
		backend.Inputs = append(backend.Inputs, acceltest.Tensor{Name: "mask"})
		_, err := BindRoles(config.Default(), engine(backend))
		assert.ErrorIs(t, err, ErrRoleBinding)
	})

	t.Run("undeclared output", func(t *testing.T) {
		cfg := config.Default()
		cfg.Model.OutputNames = []string{"boxes"}
		_, err := BindRoles(cfg, engine(testBackend(1, nil)))
		assert.ErrorIs(t, err, ErrRoleBinding)
	})
}
