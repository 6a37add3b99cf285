package nasclient

import (
	"go.uber.org/zap"

	"dirscan/internal/model"
)

// Factory constructs a Client for a given NasTarget. Core holds one
// Factory and calls it once per scan descriptor's NAS target; nothing
// caches clients across scans, since each scan may target a different
// host/credential pair.
type Factory struct {
	Logger *zap.Logger
}

// NewFactory builds a Factory.
func NewFactory(logger *zap.Logger) *Factory {
	return &Factory{Logger: logger}
}

// New builds a Client for the given target.
func (f *Factory) New(target model.NasTarget) Client {
	return New(Config{
		Host:      target.Host,
		Port:      target.Port,
		Username:  target.Username,
		Secret:    target.Secret,
		UseTLS:    target.UseTLS,
		VerifyTLS: target.VerifyTLS,
		Logger:    f.Logger,
	})
}
