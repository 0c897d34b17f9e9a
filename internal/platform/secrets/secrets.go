// Package secrets resolves sm:// references against Google Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// Scheme prefixes a value that names a secret instead of holding it.
const Scheme = "sm://"

var ErrEmptySecret = errors.New("secret has empty payload")

// AccessFunc returns the payload of a fully qualified secret version name.
type AccessFunc func(ctx context.Context, name string) ([]byte, error)

// Resolver turns configuration values into secrets. Values without the
// sm:// prefix are returned unchanged.
type Resolver struct {
	projectID string
	access    AccessFunc
}

func NewResolver(projectID string, access AccessFunc) *Resolver {
	return &Resolver{projectID: projectID, access: access}
}

// NewSecretManagerResolver connects to Secret Manager with application
// default credentials. The returned close function releases the client.
func NewSecretManagerResolver(ctx context.Context, projectID string) (*Resolver, func() error, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("secretmanager client: %w", err)
	}
	access := func(ctx context.Context, name string) ([]byte, error) {
		resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		if err != nil {
			return nil, err
		}
		if resp.Payload == nil {
			return nil, nil
		}
		return resp.Payload.Data, nil
	}
	return NewResolver(projectID, access), client.Close, nil
}

// IsReference reports whether value names a secret.
func IsReference(value string) bool {
	return strings.HasPrefix(value, Scheme)
}

// VersionName expands a reference to a secret version resource name.
// Accepted forms: sm://<secret>, sm://<secret>/<version>, and
// sm://projects/<p>/secrets/<s>[/versions/<v>].
func (r *Resolver) VersionName(ref string) (string, error) {
	body := strings.Trim(strings.TrimPrefix(ref, Scheme), "/")
	if body == "" {
		return "", fmt.Errorf("empty secret reference %q", ref)
	}

	if strings.HasPrefix(body, "projects/") {
		parts := strings.Split(body, "/")
		switch {
		case len(parts) == 4 && parts[2] == "secrets":
			return body + "/versions/latest", nil
		case len(parts) == 6 && parts[2] == "secrets" && parts[4] == "versions":
			return body, nil
		}
		return "", fmt.Errorf("malformed secret reference %q", ref)
	}

	if r.projectID == "" {
		return "", fmt.Errorf("project id required to resolve %q", ref)
	}
	secret, version, found := strings.Cut(body, "/")
	if !found || version == "" {
		version = "latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", r.projectID, secret, version), nil
}

// Resolve returns value itself, or the payload of the secret it names.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	if r == nil || r.access == nil {
		return "", fmt.Errorf("no secret backend configured for %q", value)
	}
	name, err := r.VersionName(value)
	if err != nil {
		return "", err
	}
	data, err := r.access(ctx, name)
	if err != nil {
		return "", fmt.Errorf("access secret %s: %w", name, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptySecret, name)
	}
	return strings.TrimSpace(string(data)), nil
}
