package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOKX struct {
	t        *testing.T
	secret   string
	orders   atomic.Int32
	mu       sync.Mutex
	lastBody map[string]any
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
}

func newFakeOKX(t *testing.T) (*fakeOKX, *Client) {
	f := &fakeOKX{t: t, secret: "s3cret", handlers: map[string]func(http.ResponseWriter, *http.Request){}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	acc := config.AccountConfig{Name: "main", APIKey: "key", APISecret: f.secret, Passphrase: "pp"}
	c := NewClient(acc, config.OKXConfig{BaseURL: srv.URL, Timeout: 2 * time.Second, Simulated: true}, zap.NewNop(), nil)
	return f, c
}

func (f *fakeOKX) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if r.Header.Get("OK-ACCESS-KEY") != "" {
		mac := hmac.New(sha256.New, []byte(f.secret))
		mac.Write([]byte(r.Header.Get("OK-ACCESS-TIMESTAMP") + r.Method + r.URL.RequestURI() + string(body)))
		want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		require.Equal(f.t, want, r.Header.Get("OK-ACCESS-SIGN"))
		require.Equal(f.t, "1", r.Header.Get("x-simulated-trading"))
	}
	if len(body) > 0 {
		parsed := map[string]any{}
		require.NoError(f.t, sonic.Unmarshal(body, &parsed))
		f.mu.Lock()
		f.lastBody = parsed
		f.mu.Unlock()
	}
	h, ok := f.handlers[r.Method+" "+r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeOKX) field(k string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.lastBody[k]
	if !ok {
		return nil
	}
	return v
}

func reply(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, s)
}

func Test_Client_FetchPosition(t *testing.T) {
	f, c := newFakeOKX(t)
	f.handlers["GET /api/v5/account/positions"] = func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "BTC-USDT-SWAP", r.URL.Query().Get("instId"))
		reply(w, `{"code":"0","msg":"","data":[
			{"instId":"BTC-USDT-SWAP","posSide":"long","pos":"3","avgPx":"98.3","markPx":"97","lever":"5"},
			{"instId":"BTC-USDT-SWAP","posSide":"short","pos":"0","avgPx":"","markPx":"97","lever":"5"}
		]}`)
	}

	snap, err := c.FetchPosition(context.Background(), "BTC-USDT-SWAP", models.PosLong)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, 3.0, snap.Size)
	require.Equal(t, 98.3, snap.AvgPrice)
	require.Equal(t, 5, snap.Leverage)

	snap, err = c.FetchPosition(context.Background(), "BTC-USDT-SWAP", models.PosShort)
	require.NoError(t, err)
	require.Nil(t, snap)
}

func Test_Client_FetchPositionNetMode(t *testing.T) {
	f, c := newFakeOKX(t)
	f.handlers["GET /api/v5/account/positions"] = func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"code":"0","msg":"","data":[{"instId":"ETH-USDT-SWAP","posSide":"net","pos":"-2","avgPx":"2000","markPx":"1990","lever":"3"}]}`)
	}

	snap, err := c.FetchPosition(context.Background(), "ETH-USDT-SWAP", models.PosShort)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, 2.0, snap.Size)

	snap, err = c.FetchPosition(context.Background(), "ETH-USDT-SWAP", models.PosLong)
	require.NoError(t, err)
	require.Nil(t, snap)
}

func Test_Client_SubmitMarketOrder(t *testing.T) {
	f, c := newFakeOKX(t)
	f.handlers["POST /api/v5/trade/order"] = func(w http.ResponseWriter, r *http.Request) {
		f.orders.Add(1)
		reply(w, `{"code":"0","msg":"","data":[{"ordId":"777","clOrdId":"","sCode":"0","sMsg":""}]}`)
	}
	var polls atomic.Int32
	f.handlers["GET /api/v5/trade/order"] = func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "777", r.URL.Query().Get("ordId"))
		if polls.Add(1) == 1 {
			reply(w, `{"code":"0","msg":"","data":[{"ordId":"777","state":"live","avgPx":"","accFillSz":"0"}]}`)
			return
		}
		reply(w, `{"code":"0","msg":"","data":[{"ordId":"777","state":"filled","avgPx":"94.9","accFillSz":"5"}]}`)
	}

	fill, err := c.SubmitMarketOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC-USDT-SWAP", Side: models.PosLong, Size: 5, ClientID: "dca1",
	})
	require.NoError(t, err)
	require.Equal(t, models.FillResult{OrderID: "777", AvgPrice: 94.9, FilledSize: 5}, fill)
	require.EqualValues(t, 1, f.orders.Load())
	require.EqualValues(t, 2, polls.Load())

	require.Equal(t, "buy", f.field("side"))
	require.Equal(t, "long", f.field("posSide"))
	require.Equal(t, "market", f.field("ordType"))
	require.Equal(t, "5", f.field("sz"))
	require.Equal(t, "cross", f.field("tdMode"))
	require.Equal(t, "dca1", f.field("clOrdId"))
}

func Test_Client_ErrorClasses(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
		kind   models.ErrorKind
	}{
		{"margin", 200, `{"code":"1","msg":"","data":[{"sCode":"51008","sMsg":"Insufficient margin"}]}`, models.ErrInsufficientMargin, models.KindBusiness},
		{"size", 200, `{"code":"1","msg":"","data":[{"sCode":"51121","sMsg":"lot size"}]}`, models.ErrInvalidSize, models.KindBusiness},
		{"rejected", 200, `{"code":"51010","msg":"account mode","data":[]}`, models.ErrOrderRejected, models.KindBusiness},
		{"busy", 200, `{"code":"50013","msg":"busy","data":[]}`, models.ErrTransient, models.KindTransient},
		{"5xx", 502, `bad gateway`, models.ErrTransient, models.KindTransient},
		{"429", 429, `{"code":"50011","msg":"too many"}`, models.ErrTransient, models.KindTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, c := newFakeOKX(t)
			f.handlers["POST /api/v5/trade/order"] = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}
			_, err := c.SubmitMarketOrder(context.Background(), models.OrderRequest{Symbol: "X", Side: models.PosShort, Size: 1})
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, tc.kind, models.KindOf(err))
		})
	}
}

func Test_Client_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(config.AccountConfig{Name: "main"}, config.OKXConfig{BaseURL: url, Timeout: time.Second}, zap.NewNop(), nil)
	_, err := c.FetchPosition(context.Background(), "BTC-USDT-SWAP", models.PosLong)
	require.ErrorIs(t, err, models.ErrTransient)
}

func Test_Client_CancelOrderAlreadyFilled(t *testing.T) {
	f, c := newFakeOKX(t)
	f.handlers["POST /api/v5/trade/cancel-order"] = func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"code":"1","msg":"","data":[{"ordId":"1","sCode":"51402","sMsg":"already filled"}]}`)
	}
	require.NoError(t, c.CancelOrder(context.Background(), "BTC-USDT-SWAP", "1"))
	require.Error(t, c.CancelOrder(context.Background(), "BTC-USDT-SWAP", ""))
}

func Test_Client_SetLeverage(t *testing.T) {
	f, c := newFakeOKX(t)
	f.handlers["POST /api/v5/account/set-leverage"] = func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"code":"0","msg":"","data":[{"lever":"5"}]}`)
	}
	require.NoError(t, c.SetLeverage(context.Background(), "BTC-USDT-SWAP", models.PosLong, 5))
	require.Equal(t, "5", f.field("lever"))
	require.Equal(t, "cross", f.field("mgnMode"))
	require.Nil(t, f.field("posSide"))

	require.ErrorIs(t, c.SetLeverage(context.Background(), "BTC-USDT-SWAP", models.PosLong, 0), models.ErrMissingSetting)
}

func Test_Client_InstrumentAndCandles(t *testing.T) {
	f, c := newFakeOKX(t)
	f.handlers["GET /api/v5/public/instruments"] = func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("OK-ACCESS-KEY"))
		reply(w, `{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","tickSz":"0.1","lotSz":"0.01","minSz":"0.01","ctVal":"0.01","ctMult":"1","state":"live","maxMktSz":"1000"}]}`)
	}
	f.handlers["GET /api/v5/market/candles"] = func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "1H", r.URL.Query().Get("bar"))
		reply(w, `{"code":"0","msg":"","data":[
			["1709290800000","103","104","102","103.5","10","1","1000","0"],
			["1709287200000","102","103.5","101","103","12","1","1200","1"],
			["1709283600000","100","102","99","102","11","1","1100","1"]
		]}`)
	}

	meta, err := c.GetInstrumentMeta(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)
	require.Equal(t, 0.01, meta.LotSz)
	require.Equal(t, 0.1, meta.TickSz)
	require.Equal(t, 1000.0, meta.MaxMktSz)

	bars, err := c.GetCandles(context.Background(), "BTC-USDT-SWAP", "1h", 3)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	require.True(t, bars[0].Start.Before(bars[1].Start))
	require.Equal(t, 102.0, bars[0].Close)
	require.Equal(t, time.Hour, bars[0].End.Sub(bars[0].Start))
	require.Equal(t, "1h", bars[0].TimeframeRaw)

	_, err = c.GetCandles(context.Background(), "BTC-USDT-SWAP", "7m", 3)
	require.ErrorIs(t, err, models.ErrMissingSetting)
}

func Test_Registry_UnknownAccount(t *testing.T) {
	cfg := &config.Config{Accounts: []config.AccountConfig{{Name: "main"}}}
	r := NewRegistry(cfg, zap.NewNop(), nil)
	_, err := r.FetchPosition(context.Background(), "ghost", "BTC-USDT-SWAP", models.PosLong)
	require.ErrorIs(t, err, models.ErrMissingSetting)
}

func Test_Instrument_ToModel(t *testing.T) {
	inst := Instrument{InstID: "ETH-USDT-SWAP", TickSz: "0.01", LotSz: "1", MinSz: "1", CtVal: "0.1", CtMult: "10", State: "live"}
	m, err := inst.toModel()
	require.NoError(t, err)
	require.InDelta(t, 1.0, m.CtVal, 1e-12)
	require.Zero(t, m.MaxMktSz)

	inst.State = "suspend"
	_, err = inst.toModel()
	require.ErrorIs(t, err, models.ErrOrderRejected)

	inst.State = "live"
	inst.LotSz, inst.TickSz = "", "-1"
	_, err = inst.toModel()
	require.ErrorContains(t, err, `lotSz=""`)
	require.ErrorContains(t, err, `tickSz="-1"`)
}
