package clone

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ParseIdentifier splits a `<site>.<environment>` identifier.
func ParseIdentifier(identifier string) (site, environment string, err error) {
	parts := strings.Split(strings.TrimSpace(identifier), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &MalformedIdentifierError{Identifier: identifier}
	}
	return parts[0], parts[1], nil
}

// Resolve turns an identifier into an EnvironmentDescriptor using lookup.
func Resolve(ctx context.Context, lookup EnvironmentLookup, identifier string) (EnvironmentDescriptor, error) {
	site, env, err := ParseIdentifier(identifier)
	if err != nil {
		return EnvironmentDescriptor{}, err
	}

	desc, err := lookup.LookupEnvironment(ctx, site, env)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return EnvironmentDescriptor{}, &NotFoundError{Identifier: identifier, Err: err}
		}
		return EnvironmentDescriptor{}, fmt.Errorf("could not resolve %s: %w", identifier, err)
	}
	if desc.Site == "" {
		desc.Site = site
	}
	if desc.Name == "" {
		desc.Name = env
	}
	return desc, nil
}
