// Package translate proxies text translation through a LibreTranslate-
// compatible service.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/bingal/rss-reader/internal/keychain"
	"github.com/bingal/rss-reader/internal/metrics"
	"github.com/bingal/rss-reader/internal/store"
)

const (
	// DefaultBaseURL is used when no translation_base_url setting exists.
	DefaultBaseURL = "https://libretranslate.com"

	// Settings keys.
	SettingBaseURL = "translation_base_url"
	SettingAPIKey  = "translation_api_key"

	requestTimeout = 30 * time.Second
)

// Client translates text via the configured service. The base URL and
// API key are read per request, so settings changes apply immediately.
// The API key is looked up in the system keychain first, then in the
// settings table.
type Client struct {
	store   *store.Store
	secrets keychain.Store
	client  *retryablehttp.Client
	logger  *slog.Logger
}

// NewClient creates a translation client backed by st and secrets.
func NewClient(st *store.Store, secrets keychain.Store) *Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.HTTPClient.Timeout = requestTimeout
	client.Logger = nil

	return &Client{
		store:   st,
		secrets: secrets,
		client:  client,
		logger:  slog.With("component", "translate"),
	}
}

type request struct {
	Query  string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type response struct {
	TranslatedText string `json:"translatedText"`
}

// Translate sends text to the translation service with source language
// auto-detection and returns the translated text.
func (c *Client) Translate(ctx context.Context, text, targetLang string) (string, error) {
	baseURL := DefaultBaseURL
	if v, ok, err := c.store.Setting(SettingBaseURL); err != nil {
		return "", err
	} else if ok && v != "" {
		baseURL = v
	}
	url := strings.TrimRight(baseURL, "/") + "/translate"

	body, err := json.Marshal(request{
		Query:  text,
		Source: "auto",
		Target: targetLang,
		Format: "text",
		APIKey: c.apiKey(),
	})
	if err != nil {
		return "", err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build translation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Translations.WithLabelValues("error").Inc()
		return "", fmt.Errorf("translation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.Translations.WithLabelValues("error").Inc()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("translation service error (%d): %s",
			resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.Translations.WithLabelValues("error").Inc()
		return "", fmt.Errorf("parse translation response: %w", err)
	}
	if out.TranslatedText == "" {
		metrics.Translations.WithLabelValues("error").Inc()
		return "", fmt.Errorf("invalid translation response: missing translatedText")
	}

	metrics.Translations.WithLabelValues("ok").Inc()
	return out.TranslatedText, nil
}

// apiKey resolves the service API key: keychain first, settings table as
// fallback. An empty key means the service is used unauthenticated.
func (c *Client) apiKey() string {
	if c.secrets != nil {
		key, err := c.secrets.Get(keychain.KeyTranslationAPIKey)
		if err == nil && key != "" {
			return key
		}
		if err != nil && !errors.Is(err, keychain.ErrNotFound) {
			c.logger.Warn("keychain lookup failed", "error", err)
		}
	}
	key, _, err := c.store.Setting(SettingAPIKey)
	if err != nil {
		c.logger.Warn("settings lookup failed", "error", err)
		return ""
	}
	return key
}
