package inference

import (
	"github.com/nvr-ai/go-helmet/accel"
	"github.com/nvr-ai/go-helmet/config"
	"github.com/pkg/errors"
)

// Binding maps every input role and output to a tensor declared by the engine.
type Binding struct {
	// Roles maps config.RoleImShape, config.RoleImage and config.RoleScaleFactor to tensor
	// names.
	Roles map[string]string
	// Outputs are the configured output names, first one holding the detections.
	Outputs []string
}

// BindRoles validates the configured roles against the engine's declared tensors. Every role
// must name a declared input, the engine must not declare inputs outside the three roles, and
// every configured output must be declared.
//
// Arguments:
//   - cfg: The configuration carrying role and output names.
//   - engine: The loaded engine.
//
// Returns:
//   - Binding: The validated binding.
//   - error: ErrRoleBinding describing the first mismatch.
func BindRoles(cfg *config.Config, engine accel.Engine) (Binding, error) {
	declared := map[string]bool{}
	for _, name := range engine.InputNames() {
		declared[name] = true
	}

	b := Binding{Roles: map[string]string{}}
	used := map[string]string{}
	for _, role := range config.Roles {
		name := cfg.InputFor(role)
		if name == "" {
			return Binding{}, errors.Wrapf(ErrRoleBinding, "role %q is not bound", role)
		}
		if !declared[name] {
			return Binding{}, errors.Wrapf(ErrRoleBinding, "role %q names %q, engine declares %v", role, name, engine.InputNames())
		}
		if other, dup := used[name]; dup {
			return Binding{}, errors.Wrapf(ErrRoleBinding, "roles %q and %q both name %q", other, role, name)
		}
		used[name] = role
		b.Roles[role] = name
	}

	for _, name := range engine.InputNames() {
		if _, ok := used[name]; !ok {
			return Binding{}, errors.Wrapf(ErrRoleBinding, "not supported input %q", name)
		}
	}

	outputs := map[string]bool{}
	for _, name := range engine.OutputNames() {
		outputs[name] = true
	}
	for _, name := range cfg.Model.OutputNames {
		if !outputs[name] {
			return Binding{}, errors.Wrapf(ErrRoleBinding, "output %q, engine declares %v", name, engine.OutputNames())
		}
	}
	b.Outputs = append([]string(nil), cfg.Model.OutputNames...)
	return b, nil
}
