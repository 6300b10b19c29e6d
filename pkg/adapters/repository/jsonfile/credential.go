package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/domain"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/ports"
)

// CredentialFile keeps the credential set of the monitored identity.
type CredentialFile struct {
	path string
}

func NewCredentialFile(path string) *CredentialFile {
	return &CredentialFile{path: path}
}

func (f *CredentialFile) Load(ctx context.Context) (*domain.CredentialSet, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential %s: %w", f.path, err)
	}

	var cred domain.CredentialSet
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("decoding credential %s: %w", f.path, err)
	}
	if len(cred.Cookies) == 0 {
		return nil, domain.ErrNoCredential
	}
	return &cred, nil
}

// Save replaces the stored credential; the file holds session cookies, so it
// is written owner-only.
func (f *CredentialFile) Save(ctx context.Context, cred *domain.CredentialSet) error {
	data, err := json.MarshalIndent(cred, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	return atomicWriteFile(f.path, data, 0o600)
}

var _ ports.CredentialStore = (*CredentialFile)(nil)
