package remote

import (
	"context"

	"github.com/fgeck/savekeeper/internal/models"
)

// Disabled is the adapter of the Disabled backend. Every call fails with
// models.ErrBackendDisabled and performs no I/O.
type Disabled struct{}

func (Disabled) Put(context.Context, string, []byte, models.ObjectMeta) error {
	return models.ErrBackendDisabled
}

func (Disabled) Get(context.Context, string) ([]byte, models.ObjectMeta, error) {
	return nil, models.ObjectMeta{}, models.ErrBackendDisabled
}

func (Disabled) Stat(context.Context, string) (models.ObjectMeta, error) {
	return models.ObjectMeta{}, models.ErrBackendDisabled
}

func (Disabled) List(context.Context, string) ([]models.RemoteObject, error) {
	return nil, models.ErrBackendDisabled
}

func (Disabled) Delete(context.Context, string) error {
	return models.ErrBackendDisabled
}

func (Disabled) Check(context.Context) error {
	return models.ErrBackendDisabled
}
