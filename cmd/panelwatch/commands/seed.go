package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"panelwatch/internal/driver"
	"panelwatch/internal/store"
)

// browserStorageState is the storage state format exported by browser
// automation tools, the usual way a session is captured by hand.
type browserStorageState struct {
	Cookies []struct {
		Name     string  `json:"name"`
		Value    string  `json:"value"`
		Domain   string  `json:"domain"`
		Path     string  `json:"path"`
		Expires  float64 `json:"expires"`
		HttpOnly bool    `json:"httpOnly"`
		Secure   bool    `json:"secure"`
	} `json:"cookies"`
	Origins []struct {
		Origin       string `json:"origin"`
		LocalStorage []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"localStorage"`
	} `json:"origins"`
}

// parseSessionSeed accepts either a persisted credential blob or a browser
// storage state. For the latter only the localStorage of origin is kept.
func parseSessionSeed(raw, origin string) (store.Credentials, error) {
	var probe map[string]json.RawMessage
	err := json.Unmarshal([]byte(raw), &probe)
	if err != nil {
		return store.Credentials{}, fmt.Errorf("parse session seed: %w", err)
	}

	if _, ok := probe["origins"]; !ok {
		var creds store.Credentials
		err = json.Unmarshal([]byte(raw), &creds)
		if err != nil {
			return store.Credentials{}, fmt.Errorf("parse session seed: %w", err)
		}
		if len(creds.LocalStorage) == 0 && len(creds.Cookies) == 0 {
			return store.Credentials{}, fmt.Errorf("session seed holds no localStorage or cookies")
		}
		return creds, nil
	}

	var state browserStorageState
	err = json.Unmarshal([]byte(raw), &state)
	if err != nil {
		return store.Credentials{}, fmt.Errorf("parse session seed: %w", err)
	}

	creds := store.Credentials{LocalStorage: map[string]string{}}
	for _, o := range state.Origins {
		if strings.TrimSuffix(o.Origin, "/") != origin {
			continue
		}
		for _, item := range o.LocalStorage {
			creds.LocalStorage[item.Name] = item.Value
		}
	}
	for _, c := range state.Cookies {
		creds.Cookies = append(creds.Cookies, driver.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}
	if len(creds.LocalStorage) == 0 && len(creds.Cookies) == 0 {
		return store.Credentials{}, fmt.Errorf("session seed holds nothing for %s", origin)
	}
	return creds, nil
}

// seedCredentials writes the seed into creds unless a session was already
// persisted. It reports whether the seed was written.
func seedCredentials(ctx context.Context, creds store.CredentialStore, raw, origin string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	_, err := creds.LoadCredentials(ctx)
	if err == nil {
		slog.Debug("credentials already persisted, ignoring session seed")
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	seed, err := parseSessionSeed(raw, origin)
	if err != nil {
		return false, err
	}
	err = creds.SaveCredentials(ctx, seed)
	if err != nil {
		return false, fmt.Errorf("save session seed: %w", err)
	}
	slog.Info("seeded credentials from the environment", "keys", len(seed.LocalStorage), "cookies", len(seed.Cookies))
	return true, nil
}
