package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"signdesk/internal/models"
	"signdesk/internal/repo"
)

// SettingsStore: то, что нужно провайдеру от таблицы settings.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// DBKeyProvider отдаёт ключ данных (DEK), хранящийся в settings обёрнутым мастер-ключом.
// При первом обращении ключ создаётся. Расшифрованный ключ держится в памяти процесса.
type DBKeyProvider struct {
	settings SettingsStore
	svc      *Service

	mu  sync.Mutex
	dek []byte
}

func NewDBKeyProvider(settings SettingsStore, svc *Service) *DBKeyProvider {
	return &DBKeyProvider{settings: settings, svc: svc}
}

func (p *DBKeyProvider) DataKey(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dek != nil {
		return p.dek, nil
	}

	wrapped, err := p.settings.Get(ctx, models.SettingDataKey)
	switch {
	case err == nil:
		dek, err := p.svc.UnwrapDataKey(wrapped)
		if err != nil {
			return nil, fmt.Errorf("unwrap data key (wrong encryption_key?): %w", err)
		}
		p.dek = dek
		return dek, nil
	case errors.Is(err, repo.ErrNotFound):
		// первый запуск
	default:
		return nil, err
	}

	dek, err := p.svc.NewDataKey()
	if err != nil {
		return nil, err
	}
	wrapped, err = p.svc.WrapDataKey(dek)
	if err != nil {
		return nil, err
	}
	if err := p.settings.Set(ctx, models.SettingDataKey, wrapped); err != nil {
		return nil, err
	}
	p.dek = dek
	return dek, nil
}

// Box: шифратор полей на текущем DEK.
func (p *DBKeyProvider) Box(ctx context.Context) (*Box, error) {
	dek, err := p.DataKey(ctx)
	if err != nil {
		return nil, err
	}
	return NewBox(dek)
}
