package service

import (
	"testing"
	"time"

	"dca_bot/internal/models"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func openReq(price, size float64) models.DeltaRequest {
	return models.DeltaRequest{Account: "acc", Symbol: "BTC-USDT-SWAP", Side: models.PosLong, FillPrice: price, SizeDelta: size, Op: models.OpOpen}
}

func Test_applyOp_OpenThenAdd(t *testing.T) {
	rec, err := applyOp(nil, openReq(100, 10), 1e-8, t0)
	require.NoError(t, err)
	require.Equal(t, 100.0, rec.EntryPrice)
	require.Equal(t, 10.0, rec.Size)
	require.Equal(t, 10.0, rec.InitialSize)
	require.Equal(t, 1, rec.DcaCount)

	add := openReq(94.9, 5)
	add.Op = models.OpAdd
	next, err := applyOp(rec, add, 1e-8, t0.Add(time.Minute))
	require.NoError(t, err)
	require.InDelta(t, 98.30, next.EntryPrice, 1e-9)
	require.Equal(t, 15.0, next.Size)
	require.Equal(t, 2, next.DcaCount)
	require.Equal(t, 5.0, next.LastEntrySize)
	require.Equal(t, 94.9, next.LastFillPrice)
	require.Equal(t, 10.0, next.InitialSize)

	// исходная запись не тронута
	require.Equal(t, 10.0, rec.Size)
}

func Test_applyOp_Reduce(t *testing.T) {
	rec, err := applyOp(nil, openReq(100, 10), 1e-8, t0)
	require.NoError(t, err)

	red := models.DeltaRequest{Account: "acc", Symbol: "BTC-USDT-SWAP", Side: models.PosLong, SizeDelta: 4, Op: models.OpReduce}
	next, err := applyOp(rec, red, 1e-8, t0)
	require.NoError(t, err)
	require.Equal(t, 100.0, next.EntryPrice)
	require.Equal(t, 6.0, next.Size)
	require.Equal(t, 1, next.DcaCount)

	red.SizeDelta = 6
	closed, err := applyOp(next, red, 1e-8, t0)
	require.NoError(t, err)
	require.Nil(t, closed)

	red.SizeDelta = 100
	closed, err = applyOp(next, red, 1e-8, t0)
	require.NoError(t, err)
	require.Nil(t, closed)
}

func Test_applyOp_Errors(t *testing.T) {
	rec, err := applyOp(nil, openReq(100, 10), 1e-8, t0)
	require.NoError(t, err)

	short := openReq(100, 1)
	short.Side = models.PosShort
	short.Op = models.OpAdd
	_, err = applyOp(rec, short, 1e-8, t0)
	require.ErrorIs(t, err, models.ErrSideConflict)
	require.Equal(t, models.KindBusiness, models.KindOf(err))

	add := openReq(100, 1)
	add.Op = models.OpAdd
	_, err = applyOp(nil, add, 1e-8, t0)
	require.ErrorIs(t, err, models.ErrPositionNotFound)

	add.Op = models.OpReduce
	_, err = applyOp(nil, add, 1e-8, t0)
	require.ErrorIs(t, err, models.ErrPositionNotFound)
}

func Test_applyOp_OpenOnExistingMerges(t *testing.T) {
	rec, err := applyOp(nil, openReq(100, 10), 1e-8, t0)
	require.NoError(t, err)

	next, err := applyOp(rec, openReq(90, 10), 1e-8, t0)
	require.NoError(t, err)
	require.InDelta(t, 95.0, next.EntryPrice, 1e-9)
	require.Equal(t, 20.0, next.Size)
	require.Equal(t, 2, next.DcaCount)
}

func Test_averagePrice_Decimal(t *testing.T) {
	// 0.1 + 0.2 во float64 даёт хвост, через decimal: ровно
	require.Equal(t, 0.3, addSize(0.1, 0.2))
	require.Equal(t, 0.1, subSize(0.3, 0.2))
	require.InDelta(t, 98.30, averagePrice(100, 10, 94.9, 5), 1e-12)
	require.Zero(t, averagePrice(0, 0, 0, 0))
}
