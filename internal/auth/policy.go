package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"userdir.org/internal/ids"
)

// Policy is the declarative RBAC layout loaded from YAML:
//
//	roles:
//	  - name: admin
//	    permissions: ["users:read", "users:delete"]
//	assignments:
//	  - email: root@example.com
//	    roles: [admin]
type Policy struct {
	Roles       []PolicyRole       `yaml:"roles"`
	Assignments []PolicyAssignment `yaml:"assignments"`
}

type PolicyRole struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type PolicyAssignment struct {
	Email string   `yaml:"email"`
	Roles []string `yaml:"roles"`
}

// DefaultPolicy seeds the built-in roles: "user" may read its profile and
// "admin" holds every built-in permission.
func DefaultPolicy() Policy {
	all := make([]string, 0, len(BuiltinPermissions))
	for _, p := range BuiltinPermissions {
		all = append(all, p.Key())
	}
	return Policy{Roles: []PolicyRole{
		{Name: RoleUser, Description: "Default role for registered identities", Permissions: []string{ResourceProfile + ":" + ActionRead}},
		{Name: RoleAdmin, Description: "Directory administrator", Permissions: all},
	}}
}

// LoadPolicy decodes and validates a policy document.
func LoadPolicy(r io.Reader) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("%w: decode policy: %v", ErrValidation, err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadPolicyFile reads a policy from path.
func LoadPolicyFile(path string) (Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return Policy{}, fmt.Errorf("open policy: %w", err)
	}
	defer f.Close()
	return LoadPolicy(f)
}

// Validate checks names and permission keys.
func (p Policy) Validate() error {
	for i, r := range p.Roles {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("%w: roles[%d]: name is required", ErrValidation, i)
		}
		for _, key := range r.Permissions {
			if _, _, err := ParsePermissionKey(key); err != nil {
				return fmt.Errorf("roles[%d]: %w", i, err)
			}
		}
	}
	for i, a := range p.Assignments {
		if strings.TrimSpace(a.Email) == "" {
			return fmt.Errorf("%w: assignments[%d]: email is required", ErrValidation, i)
		}
	}
	return nil
}

// ParsePermissionKey splits "resource:action".
func ParsePermissionKey(key string) (resource, action string, err error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok || resource == "" || action == "" {
		return "", "", fmt.Errorf("%w: permission %q must be resource:action", ErrValidation, key)
	}
	return resource, action, nil
}

// ApplyPolicy creates missing roles and permissions, grants them and applies
// the assignments in one transaction. It only adds; nothing is revoked.
func (s *Service) ApplyPolicy(ctx context.Context, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.store.InTx(ctx, func(q Queries) error {
		for _, pr := range p.Roles {
			role, err := ensureRole(ctx, q, strings.TrimSpace(pr.Name), pr.Description)
			if err != nil {
				return err
			}
			for _, key := range pr.Permissions {
				resource, action, _ := ParsePermissionKey(key)
				perm, err := q.EnsurePermission(ctx, Permission{
					ID:          ids.New(),
					Resource:    resource,
					Action:      action,
					Description: builtinDescription(resource, action),
				})
				if err != nil {
					return storeErr("ensure permission", err)
				}
				if err := q.GrantPermission(ctx, role.ID, perm.ID); err != nil {
					return storeErr("grant permission", err)
				}
			}
		}
		for _, a := range p.Assignments {
			identity, err := q.IdentityByEmail(ctx, strings.TrimSpace(a.Email))
			if err != nil {
				return fmt.Errorf("assignment %s: %w", a.Email, storeErr("lookup identity", err))
			}
			for _, name := range a.Roles {
				role, err := q.RoleByName(ctx, name)
				if err != nil {
					return fmt.Errorf("assignment %s: role %s: %w", a.Email, name, storeErr("lookup role", err))
				}
				if err := q.AssignRole(ctx, identity.ID, role.ID); err != nil {
					return storeErr("assign role", err)
				}
			}
		}
		return nil
	})
}

func builtinDescription(resource, action string) string {
	for _, p := range BuiltinPermissions {
		if p.Resource == resource && p.Action == action {
			return p.Description
		}
	}
	return ""
}
