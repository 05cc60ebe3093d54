// Package fetch retrieves remote configuration bundles: OCI artifacts via
// ORAS and repository archives over authorized HTTP. Both paths enforce a
// repository-host allowlist that is distinct from the model allowlist.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/file"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/modelguard/modelguard/pkg/types"
)

// errRepoHostNotAllowed marks a bundle host outside the allowlist.
var errRepoHostNotAllowed = errors.New("repository host is not in the allowlist")

// IsRepoHostNotAllowed reports whether err is a repository-host rejection.
func IsRepoHostNotAllowed(err error) bool {
	return errors.Is(err, errRepoHostNotAllowed)
}

// ParseOCIRef validates an oci:// bundle reference against the allowed
// repository hosts and returns the bare registry reference.
func ParseOCIRef(raw string, allowedHosts []string) (name.Reference, error) {
	trimmed := strings.TrimPrefix(raw, "oci://")
	ref, err := name.ParseReference(trimmed, name.StrictValidation)
	if err != nil {
		return nil, fmt.Errorf("invalid bundle reference %q: %w", raw, err)
	}
	registry := ref.Context().RegistryStr()
	for _, host := range allowedHosts {
		if strings.EqualFold(registry, host) {
			return ref, nil
		}
	}
	return nil, fmt.Errorf("%w: %q (allowed: %s)",
		errRepoHostNotAllowed, registry, strings.Join(allowedHosts, ", "))
}

// OCIPuller pulls bundle artifacts from an OCI registry into a local
// directory via ORAS.
type OCIPuller struct {
	logger       types.Logger
	allowedHosts []string
	token        string
}

// NewOCIPuller creates an OCIPuller. The token is optional; anonymous
// pulls are attempted when it is empty.
func NewOCIPuller(logger types.Logger, allowedHosts []string, token string) (*OCIPuller, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if len(allowedHosts) == 0 {
		return nil, fmt.Errorf("allowedHosts cannot be empty")
	}
	return &OCIPuller{logger: logger, allowedHosts: allowedHosts, token: token}, nil
}

// Pull copies the referenced artifact into destDir and returns the
// manifest descriptor.
func (p *OCIPuller) Pull(ctx context.Context, rawRef, destDir string) (ocispec.Descriptor, error) {
	ref, err := ParseOCIRef(rawRef, p.allowedHosts)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	repo, err := remote.NewRepository(ref.Context().Name())
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("failed to resolve repository for %q: %w", rawRef, err)
	}
	repo.Client = &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Credential: func(_ context.Context, _ string) (auth.Credential, error) {
			if p.token == "" {
				return auth.EmptyCredential, nil
			}
			return auth.Credential{AccessToken: p.token}, nil
		},
	}

	store, err := file.New(destDir)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("failed to open bundle store %s: %w", destDir, err)
	}
	defer store.Close()

	tag := ref.Identifier()
	desc, err := oras.Copy(ctx, repo, tag, store, tag, oras.DefaultCopyOptions)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("failed to pull bundle %q: %w", rawRef, err)
	}
	p.logger.Info("pulled bundle artifact",
		zap.String("ref", rawRef),
		zap.String("digest", desc.Digest.String()),
		zap.Int64("size", desc.Size))
	return desc, nil
}
