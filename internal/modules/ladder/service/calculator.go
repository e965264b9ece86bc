package service

import (
	"fmt"

	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"
)

// Plan — решение по добору на текущем тике.
type Plan struct {
	Levels    []float64
	Triggered bool
	Size      float64

	// Recovered — размеры ступеней восстановлены из size/dcaCount, их нужно сохранить.
	Recovered   bool
	InitialSize float64
}

type Calculator struct {
	cfg config.LadderConfig
}

func NewCalculator(cfg config.LadderConfig) *Calculator {
	if cfg.Depth < 1 {
		cfg.Depth = 1
	}
	return &Calculator{cfg: cfg}
}

func (c *Calculator) Config() config.LadderConfig { return c.cfg }

// CheckRungs — отказ, если следующий добор превысит max_rungs.
func (c *Calculator) CheckRungs(dcaCount int) error {
	if dcaCount+1 > c.cfg.MaxRungs {
		return fmt.Errorf("%w: dcaCount %d, max %d", models.ErrMaxRungs, dcaCount, c.cfg.MaxRungs)
	}
	return nil
}

// Levels пересчитывает лесенку от записи. Вызывается на каждом тике.
func (c *Calculator) Levels(rec models.PositionRecord, atr float64) ([]float64, error) {
	return Levels(rec.EntryPrice, rec.LastFillPrice, rec.Side, atr, c.cfg, c.cfg.Depth)
}

// Plan — лесенка, сработала ли она и размер следующего добора.
func (c *Calculator) Plan(rec models.PositionRecord, price, atr float64) (Plan, error) {
	if err := c.CheckRungs(rec.DcaCount); err != nil {
		return Plan{}, err
	}
	levels, err := c.Levels(rec, atr)
	if err != nil {
		return Plan{}, err
	}

	p := Plan{
		Levels:      levels,
		Triggered:   IsTriggered(price, levels, rec.Side, c.cfg.RequireCrossing),
		InitialSize: rec.InitialSize,
	}
	if rec.InitialSize <= 0 || rec.LastEntrySize <= 0 {
		p.InitialSize = RecoverBaseSize(rec.Size, rec.DcaCount)
		p.Recovered = true
	}
	p.Size = NextEntrySize(rec.DcaCount, p.InitialSize, c.cfg.ScaleFactor)
	return p, nil
}
