package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"
	metrics "dca_bot/internal/modules/metrics/service"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const okxTimeLayout = "2006-01-02T15:04:05.000Z"

// Client — REST-клиент OKX одного аккаунта.
type Client struct {
	account   string
	baseURL   string
	tdMode    string
	simulated bool

	apiKey    string
	apiSecret string
	passph    string

	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewClient(acc config.AccountConfig, okx config.OKXConfig, log *zap.Logger, m *metrics.Metrics) *Client {
	timeout := okx.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(okx.BaseURL, "/")
	if base == "" {
		base = "https://www.okx.com"
	}
	td := okx.TdMode
	if td == "" {
		td = "cross"
	}
	return &Client{
		account:   acc.Name,
		baseURL:   base,
		tdMode:    td,
		simulated: okx.Simulated,
		apiKey:    acc.APIKey,
		apiSecret: acc.APISecret,
		passph:    acc.Passphrase,
		http:      &http.Client{Timeout: timeout},
		log:       log.Named("okx").With(zap.String("account", acc.Name)),
		metrics:   m,
		now:       time.Now,
	}
}

// sign — base64(HMAC-SHA256(ts + method + path + body)).
func (c *Client) sign(ts, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(ts + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// envelope — общий ответ OKX v5.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do выполняет запрос. body != nil: POST с JSON, signed: приватный эндпоинт.
// Ответ с code != "0" превращается в ошибку с классом по коду OKX.
func (c *Client) do(ctx context.Context, method, requestPath string, body any, signed bool, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = sonic.Marshal(body); err != nil {
			return fmt.Errorf("okx %s marshal: %w", requestPath, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("okx %s new request: %w", requestPath, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		ts := c.now().UTC().Format(okxTimeLayout)
		req.Header.Set("OK-ACCESS-KEY", c.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	}
	if c.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.BrokerError(models.KindTransient.String())
		return fmt.Errorf("okx %s: %w: %v", requestPath, models.ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("okx %s read: %w: %v", requestPath, models.ErrTransient, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		c.metrics.BrokerError(models.KindTransient.String())
		return fmt.Errorf("okx %s http %d: %w: %s", requestPath, resp.StatusCode, models.ErrTransient, trim(data))
	}

	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("okx %s http %d: %s", requestPath, resp.StatusCode, trim(data))
		}
		return fmt.Errorf("okx %s decode: %w; body=%s", requestPath, err, trim(data))
	}

	if env.Code != "0" {
		// детальный sCode лежит в data[0]
		var items []struct {
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		}
		_ = sonic.Unmarshal(env.Data, &items)
		code, msg := env.Code, env.Msg
		if len(items) > 0 && items[0].SCode != "" && items[0].SCode != "0" {
			code, msg = items[0].SCode, items[0].SMsg
		}
		err := codeError(code, msg)
		c.metrics.BrokerError(models.KindOf(err).String())
		return fmt.Errorf("okx %s: %w", requestPath, err)
	}

	if out != nil {
		if err := sonic.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("okx %s decode data: %w", requestPath, err)
		}
	}
	return nil
}

// APIError — код и сообщение OKX как есть.
type APIError struct {
	Code string
	Msg  string
}

func (e *APIError) Error() string { return "okx " + e.Code + ": " + e.Msg }

// codeError — класс ошибки по коду OKX.
func codeError(code, msg string) error {
	api := &APIError{Code: code, Msg: msg}
	switch code {
	case "51008", "51004":
		return fmt.Errorf("%w: %w", models.ErrInsufficientMargin, api)
	case "51121", "51000", "51020", "51202":
		return fmt.Errorf("%w: %w", models.ErrInvalidSize, api)
	case "50001", "50004", "50011", "50013", "50026":
		return fmt.Errorf("%w: %w", models.ErrTransient, api)
	}
	return fmt.Errorf("%w: %w", models.ErrOrderRejected, api)
}

// isAlreadyDone — ордер уже исполнен или снят.
func isAlreadyDone(err error) bool {
	var api *APIError
	if !errors.As(err, &api) {
		return false
	}
	switch api.Code {
	case "51400", "51401", "51402":
		return true
	}
	return false
}

func trim(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

func formatSize(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
