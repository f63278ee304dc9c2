package server

import (
	"context"
	"errors"

	"signdesk/internal/cms"
	"signdesk/internal/models"
	"signdesk/internal/repo"
	"signdesk/internal/secrets"
)

// settingsCredentials: cms.CredentialSource поверх таблицы settings:
// адрес хранится открыто, client id/secret расшифровываются на DEK.
type settingsCredentials struct {
	settings *repo.SettingsStore
	keys     *secrets.DBKeyProvider
}

func newSettingsCredentials(s *repo.SettingsStore, k *secrets.DBKeyProvider) cms.CredentialSource {
	return &settingsCredentials{settings: s, keys: k}
}

func (a *settingsCredentials) Credentials(ctx context.Context) (cms.Credentials, error) {
	vals, err := a.settings.GetMany(ctx, models.SettingCMSBaseURL, models.SettingCMSClientID, models.SettingCMSClientSecret)
	if err != nil {
		return cms.Credentials{}, err
	}
	if vals[models.SettingCMSBaseURL] == "" {
		return cms.Credentials{}, cms.ErrNotConfigured
	}
	box, err := a.keys.Box(ctx)
	if err != nil {
		return cms.Credentials{}, err
	}
	id, err := openSetting(box, vals[models.SettingCMSClientID])
	if err != nil {
		return cms.Credentials{}, err
	}
	secret, err := openSetting(box, vals[models.SettingCMSClientSecret])
	if err != nil {
		return cms.Credentials{}, err
	}
	return cms.Credentials{BaseURL: vals[models.SettingCMSBaseURL], ClientID: id, ClientSecret: secret}, nil
}

func openSetting(box *secrets.Box, enc string) (string, error) {
	if enc == "" {
		return "", nil
	}
	v, err := box.Open(enc)
	if err != nil {
		return "", errors.Join(errors.New("cms credentials unreadable (encryption key changed?)"), err)
	}
	return v, nil
}
