// client.go — HTTP-клиент фида организации.
// Реализует получение API-токена через endpoint аутентификации,
// кэширование токена (обновление за 30s до expiration).
// Операции: ListStructureIDs, FetchStructure, FetchRoster, FetchVolunteer.
package upstream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Fetcher — интерфейс загрузки данных фида.
// Ядро реконсиляции зависит только от этого интерфейса;
// Client — production-адаптер.
type Fetcher interface {
	// ListStructureIDs возвращает идентификаторы всех видимых структур.
	ListStructureIDs(ctx context.Context) ([]string, error)
	// FetchStructure возвращает сырой детальный payload структуры.
	FetchStructure(ctx context.Context, identifier string) (json.RawMessage, error)
	// FetchRoster возвращает идентификаторы волонтёров структуры.
	FetchRoster(ctx context.Context, structureID string) ([]string, error)
	// FetchVolunteer возвращает сырой детальный payload волонтёра.
	FetchVolunteer(ctx context.Context, identifier string) (json.RawMessage, error)
}

// Client — HTTP-клиент фида.
type Client struct {
	baseURL  string // Базовый URL фида (без trailing slash)
	username string // Учётные данные API-аккаунта
	password string

	httpClient *http.Client
	logger     *slog.Logger

	// Кэш токена доступа
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient создаёт клиент фида.
// httpClient — HTTP-клиент (может содержать TLS конфигурацию), nil — стандартный.
func NewClient(baseURL, username, password string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "upstream_client")),
	}
}

// HTTPClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом
// для TLS-соединений с фидом.
func HTTPClientWithCA(caCertPath string) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}

// tokenResponse — ответ endpoint'а аутентификации фида.
type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

// getToken возвращает актуальный access token, обновляя при необходимости.
// Токен обновляется за 30 секунд до истечения.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Add(30*time.Second).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	data := url.Values{
		"username": {c.username},
		"password": {c.password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/token", strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("запрос токена фида: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("фид вернул статус %d при запросе токена: %s", resp.StatusCode, string(body))
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("декодирование токена фида: %w", err)
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	c.logger.Debug("Токен фида обновлён",
		slog.Time("expires_at", c.tokenExpiry),
	)

	return c.accessToken, nil
}

// get выполняет авторизованный GET и возвращает тело ответа.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("фид вернул статус %d для %s: %s", resp.StatusCode, path, string(body))
	}

	return io.ReadAll(resp.Body)
}

// structureListItem — элемент списка структур фида.
type structureListItem struct {
	ID int64 `json:"id"`
}

// ListStructureIDs возвращает идентификаторы всех видимых структур.
func (c *Client) ListStructureIDs(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "/crf/rest/structures")
	if err != nil {
		return nil, err
	}

	var items []structureListItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("декодирование списка структур: %w", err)
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.ID != 0 {
			ids = append(ids, fmt.Sprintf("%d", it.ID))
		}
	}
	return ids, nil
}

// FetchStructure возвращает сырой детальный payload структуры.
func (c *Client) FetchStructure(ctx context.Context, identifier string) (json.RawMessage, error) {
	return c.get(ctx, "/crf/rest/structures/"+url.PathEscape(identifier))
}

// rosterResponse — постраничный ответ списка членов структуры.
type rosterResponse struct {
	List []struct {
		ID string `json:"id"`
	} `json:"content"`
	Page  int  `json:"number"`
	Total int  `json:"totalPages"`
	Last  bool `json:"last"`
}

// FetchRoster возвращает идентификаторы волонтёров структуры,
// обходя постраничный листинг фида.
func (c *Client) FetchRoster(ctx context.Context, structureID string) ([]string, error) {
	var ids []string

	for page := 0; ; page++ {
		path := fmt.Sprintf("/crf/rest/utilisateurs?structure=%s&page=%d",
			url.QueryEscape(structureID), page)
		body, err := c.get(ctx, path)
		if err != nil {
			return nil, err
		}

		var resp rosterResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("декодирование roster структуры %s: %w", structureID, err)
		}

		for _, u := range resp.List {
			if u.ID != "" {
				ids = append(ids, u.ID)
			}
		}

		if resp.Last || len(resp.List) == 0 {
			break
		}
	}

	return ids, nil
}

// FetchVolunteer возвращает сырой детальный payload волонтёра.
func (c *Client) FetchVolunteer(ctx context.Context, identifier string) (json.RawMessage, error) {
	return c.get(ctx, "/crf/rest/utilisateurs/"+url.PathEscape(identifier))
}
