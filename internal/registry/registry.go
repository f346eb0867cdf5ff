// Package registry holds the allow-list of controllable services and the
// alias table. A Registry is immutable once built and safe for concurrent use.
package registry

import (
	"fmt"
	"regexp"

	"gpmonitor/internal/ctlerr"
	"gpmonitor/internal/models"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9@._:-]*$`)

// ValidName reports whether name is safe to pass as a systemctl argument.
func ValidName(name string) bool {
	return len(name) <= 256 && namePattern.MatchString(name)
}

// Registry answers allow-list membership and alias resolution queries.
type Registry struct {
	services map[string]models.ServiceDescriptor
	aliases  map[string][]string

	serviceOrder []string
	aliasOrder   []string
}

// New builds a registry, rejecting duplicate, malformed or colliding names.
func New(services []models.ServiceDescriptor, aliases []models.ServiceAlias) (*Registry, error) {
	r := &Registry{
		services: make(map[string]models.ServiceDescriptor, len(services)),
		aliases:  make(map[string][]string, len(aliases)),
	}

	for _, svc := range services {
		if !ValidName(svc.Name) {
			return nil, fmt.Errorf("registry: invalid service name %q", svc.Name)
		}
		if _, exists := r.services[svc.Name]; exists {
			return nil, fmt.Errorf("registry: service %s declared twice", svc.Name)
		}
		r.services[svc.Name] = svc
		r.serviceOrder = append(r.serviceOrder, svc.Name)
	}

	for _, alias := range aliases {
		if !ValidName(alias.Name) {
			return nil, fmt.Errorf("registry: invalid alias name %q", alias.Name)
		}
		if _, exists := r.services[alias.Name]; exists {
			return nil, fmt.Errorf("registry: alias %s collides with a service", alias.Name)
		}
		if _, exists := r.aliases[alias.Name]; exists {
			return nil, fmt.Errorf("registry: alias %s declared twice", alias.Name)
		}
		if len(alias.Candidates) == 0 {
			return nil, fmt.Errorf("registry: alias %s has no candidates", alias.Name)
		}
		for _, c := range alias.Candidates {
			if !ValidName(c) {
				return nil, fmt.Errorf("registry: alias %s has invalid candidate %q", alias.Name, c)
			}
		}
		r.aliases[alias.Name] = append([]string(nil), alias.Candidates...)
		r.aliasOrder = append(r.aliasOrder, alias.Name)
	}

	return r, nil
}

func (r *Registry) controllable(name string) bool {
	svc, ok := r.services[name]
	return ok && svc.Controllable
}

// IsAllowed reports whether name is a controllable service or an alias
// with at least one controllable candidate.
func (r *Registry) IsAllowed(name string) bool {
	if r.controllable(name) {
		return true
	}
	for _, c := range r.aliases[name] {
		if r.controllable(c) {
			return true
		}
	}
	return false
}

// Resolve returns the concrete service name for name. Aliases resolve to
// their first controllable candidate in declared order.
func (r *Registry) Resolve(name string) (string, error) {
	if r.controllable(name) {
		return name, nil
	}
	candidates, isAlias := r.aliases[name]
	if !isAlias {
		return "", ctlerr.New(ctlerr.CodeUnknownService, fmt.Sprintf("service %q is not allow-listed", name), nil)
	}
	for _, c := range candidates {
		if r.controllable(c) {
			return c, nil
		}
	}
	return "", ctlerr.New(ctlerr.CodeUnresolvableAlias, fmt.Sprintf("alias %q has no allowed candidate", name), nil)
}

// Services returns the descriptors in declaration order.
func (r *Registry) Services() []models.ServiceDescriptor {
	out := make([]models.ServiceDescriptor, 0, len(r.serviceOrder))
	for _, name := range r.serviceOrder {
		out = append(out, r.services[name])
	}
	return out
}

// Aliases returns the aliases in declaration order.
func (r *Registry) Aliases() []models.ServiceAlias {
	out := make([]models.ServiceAlias, 0, len(r.aliasOrder))
	for _, name := range r.aliasOrder {
		out = append(out, models.ServiceAlias{
			Name:       name,
			Candidates: append([]string(nil), r.aliases[name]...),
		})
	}
	return out
}
